package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/risk-engine/pkg/common"
)

const (
	DefaultLimit  = 20
	MaxLimit      = 100
	DefaultOffset = 0
)

// Params holds limit/offset taken from the query string
type Params struct {
	Limit  int
	Offset int
}

// ParseParams reads ?limit= and ?offset=. Invalid values fall back to the
// defaults and limit is capped at MaxLimit.
func ParseParams(c *gin.Context) Params {
	p := Params{Limit: DefaultLimit, Offset: DefaultOffset}

	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		p.Limit = limit
		if p.Limit > MaxLimit {
			p.Limit = MaxLimit
		}
	}

	if offset, err := strconv.Atoi(c.Query("offset")); err == nil && offset >= 0 {
		p.Offset = offset
	}

	return p
}

// BuildMeta builds the response meta for a page
func BuildMeta(limit, offset int, total int64) *common.Meta {
	meta := &common.Meta{Limit: limit, Offset: offset, Total: total}
	if limit > 0 {
		meta.TotalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return meta
}

// HasMore reports whether rows exist past this page
func HasMore(offset, limit int, total int64) bool {
	return int64(offset+limit) < total
}
