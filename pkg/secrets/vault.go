package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"github.com/richxcame/risk-engine/pkg/config"
)

type vaultFetcher struct {
	client       *vault.Client
	defaultMount string
}

func newVaultFetcher(cfg config.SecretsConfig) (*vaultFetcher, error) {
	if cfg.VaultAddress == "" || cfg.VaultToken == "" {
		return nil, fmt.Errorf("secrets: vault provider requires address and token")
	}

	clientCfg := vault.DefaultConfig()
	clientCfg.Address = cfg.VaultAddress

	client, err := vault.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to create vault client: %w", err)
	}

	client.SetToken(cfg.VaultToken)
	if cfg.VaultNamespace != "" {
		client.SetNamespace(cfg.VaultNamespace)
	}

	mount := strings.Trim(cfg.VaultMount, "/")
	if mount == "" {
		mount = "secret"
	}

	return &vaultFetcher{client: client, defaultMount: mount}, nil
}

func (v *vaultFetcher) Name() ProviderType {
	return ProviderVault
}

// Fetch reads a KV v2 secret
func (v *vaultFetcher) Fetch(ctx context.Context, ref Reference) (Secret, error) {
	mount := v.defaultMount
	if ref.Mount != "" {
		mount = ref.Mount
	}
	path := strings.TrimPrefix(ref.Path, "data/")

	secret, err := v.client.KVv2(mount).Get(ctx, path)
	if err != nil {
		var respErr *vault.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return Secret{}, fmt.Errorf("secrets: vault path %s not found", ref.Path)
		}
		return Secret{}, err
	}

	payload := make(map[string]string, len(secret.Data))
	for k, raw := range secret.Data {
		payload[k] = fmt.Sprint(raw)
	}

	out := Secret{Data: payload}
	if secret.VersionMetadata != nil {
		out.Version = fmt.Sprintf("%d", secret.VersionMetadata.Version)
	}
	return out, nil
}
