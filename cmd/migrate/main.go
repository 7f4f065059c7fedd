package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/richxcame/risk-engine/migrations"
	"github.com/richxcame/risk-engine/pkg/config"
	"github.com/richxcame/risk-engine/pkg/database"
	"github.com/richxcame/risk-engine/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	steps := flag.Int("steps", 0, "apply N migrations (negative rolls back)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: migrate [-steps N] up|down|version\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load("risk-engine-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Server.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	m, err := database.NewMigrator(cfg.Database.URL(), migrations.FS)
	if err != nil {
		logger.Fatal("failed to prepare migrations", zap.Error(err))
	}
	defer m.Close()

	command := flag.Arg(0)
	switch {
	case *steps != 0:
		err = m.Steps(*steps)
	case command == "up" || command == "":
		err = m.Up()
	case command == "down":
		err = m.Down()
	case command == "version":
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("migration failed", zap.String("command", command), zap.Error(err))
	}

	version, dirty, err := m.Version()
	if err != nil {
		logger.Fatal("failed to read schema version", zap.Error(err))
	}
	logger.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
}
