package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// objectServer is a minimal in-memory object service.
func objectServer(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	objects := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/objects/")
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			objects[key] = data
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			data, ok := objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(data)
		case http.MethodDelete:
			delete(objects, key)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	ref := "owner-1/manual v2.pdf"

	_, err := s.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, ref, []byte("%PDF-1.7")))
	data, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	require.NoError(t, s.Delete(ctx, ref))
	require.NoError(t, s.Delete(ctx, ref))
	_, err = s.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPClient(t *testing.T) {
	srv := objectServer(t)
	exerciseStore(t, NewClient(srv.URL+"/", "key", time.Second))
}

func TestHTTPClientUnauthorized(t *testing.T) {
	srv := objectServer(t)
	err := NewClient(srv.URL, "wrong", time.Second).Put(context.Background(), "a", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestDir(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, d)
}

func TestDirRejectsTraversal(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)
	_, err = d.Get(context.Background(), "../etc/passwd")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
