package assets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bg.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		case "/big.png":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		case "/empty.png":
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second, 32, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	data, err := f.Fetch(ctx, srv.URL+"/bg.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	_, err = f.Fetch(ctx, srv.URL+"/missing.png")
	assert.ErrorContains(t, err, "404")

	_, err = f.Fetch(ctx, srv.URL+"/big.png")
	assert.Error(t, err)

	_, err = f.Fetch(ctx, srv.URL+"/empty.png")
	assert.ErrorContains(t, err, "empty")
}

func TestHTTPFetcher_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	f := NewHTTPFetcher(time.Second, 1024, zaptest.NewLogger(t).Sugar())
	_, err := f.Fetch(context.Background(), srv.URL+"/bg.png")
	assert.Error(t, err)
}
