package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", DefaultLimit, DefaultOffset},
		{"limit=10&offset=20", 10, 20},
		{"limit=0", DefaultLimit, DefaultOffset},
		{"limit=-10", DefaultLimit, DefaultOffset},
		{"limit=200", MaxLimit, DefaultOffset},
		{"limit=100", 100, DefaultOffset},
		{"offset=-10", DefaultLimit, DefaultOffset},
		{"limit=abc&offset=xyz", DefaultLimit, DefaultOffset},
		{"limit=10.5", DefaultLimit, DefaultOffset},
		{"limit=1", 1, DefaultOffset},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request, _ = http.NewRequest(http.MethodGet, "/?"+tt.query, nil)

			p := ParseParams(c)
			assert.Equal(t, tt.limit, p.Limit)
			assert.Equal(t, tt.offset, p.Offset)
		})
	}
}

func TestBuildMeta(t *testing.T) {
	meta := BuildMeta(20, 40, 100)
	assert.Equal(t, 20, meta.Limit)
	assert.Equal(t, 40, meta.Offset)
	assert.Equal(t, int64(100), meta.Total)
	assert.Equal(t, 5, meta.TotalPages)

	assert.Equal(t, 3, BuildMeta(10, 0, 25).TotalPages)
	assert.Equal(t, 0, BuildMeta(10, 0, 0).TotalPages)
	assert.Equal(t, 0, BuildMeta(0, 0, 10).TotalPages)
}

func TestHasMore(t *testing.T) {
	assert.True(t, HasMore(0, 10, 100))
	assert.False(t, HasMore(90, 10, 100))
	assert.False(t, HasMore(0, 10, 0))
}
