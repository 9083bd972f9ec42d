package gin

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/ganesh-swami/prvt-sub003/internal/module/catalog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testCatalogJSON = `{
  "plans": {
    "max":     {"name": "Max", "tier": 2, "grants": {"reports.export": true, "ai.analyst": {"enabled": true}}},
    "starter": {"name": "Starter", "tier": 0, "grants": {"reports.export": false, "ai.analyst": {"enabled": true, "allowance": 3}}},
    "pro":     {"name": "Pro", "tier": 1, "grants": {"reports.export": true, "ai.analyst": {"enabled": true, "allowance": 10}}}
  },
  "addons": {
    "analyst-pack": {"name": "Analyst pack", "grants": {"ai.analyst": {"enabled": true, "allowance": 50}}}
  }
}`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalogJSON))
	require.NoError(t, err)
	return cat
}

type stubCatalogs struct {
	cat *catalog.Catalog
	err error
}

func (s *stubCatalogs) Load(context.Context) (*catalog.Catalog, error) {
	return s.cat, s.err
}

// do sends a request through a fresh engine configured by register.
func do(t *testing.T, register func(r *gin.RouterGroup), method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	r := gin.New()
	register(r.Group(""))

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
