package engines

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogue_LatestAndTag(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/repos/janhq/cortex.llamacpp/releases/latest":
			_, _ = w.Write([]byte(`{"tag_name":"v0.2.0","assets":[{"name":"a.tar.gz","browser_download_url":"http://x/a","size":3}]}`))
		case "/repos/janhq/cortex.llamacpp/releases/tags/v0.1.0":
			_, _ = w.Write([]byte(`{"tag_name":"v0.1.0","assets":[]}`))
		case "/repos/janhq/cortex.llamacpp/releases":
			_, _ = w.Write([]byte(`[{"tag_name":"v0.2.0"},{"tag_name":"v0.1.0"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := &Catalogue{BaseURL: srv.URL, Token: "secret"}
	ctx := context.Background()

	rel, err := c.Release(ctx, "janhq", "cortex.llamacpp", "")
	require.NoError(t, err)
	assert.Equal(t, "v0.2.0", rel.Tag)
	require.Len(t, rel.Assets, 1)
	assert.Equal(t, "http://x/a", rel.Assets[0].DownloadURL)
	assert.Equal(t, "Bearer secret", auth.Load())

	rel, err = c.Release(ctx, "janhq", "cortex.llamacpp", "0.1.0")
	require.NoError(t, err)
	assert.Equal(t, "v0.1.0", rel.Tag)

	rels, err := c.Releases(ctx, "janhq", "cortex.llamacpp")
	require.NoError(t, err)
	assert.Len(t, rels, 2)
}

func TestCatalogue_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"tag_name":"v1.0.0"}`))
	}))
	defer srv.Close()
	c := &Catalogue{BaseURL: srv.URL, Retries: 5}
	rel, err := c.Release(context.Background(), "o", "r", "latest")
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", rel.Tag)
	assert.Equal(t, int32(3), hits.Load())
}

func TestCatalogue_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()
	c := &Catalogue{BaseURL: srv.URL, Retries: 5}
	_, err := c.Release(context.Background(), "o", "r", "v9")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}
