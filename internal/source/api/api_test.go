package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mergeflow/internal/apperr"
	"mergeflow/internal/batch"
	"mergeflow/internal/config"
	"mergeflow/internal/datasource/httpds"
	"mergeflow/internal/source"
	"mergeflow/internal/storage"
	"mergeflow/internal/storage/sqlite"
)

func apiSource(url string) config.Source {
	cfg := config.Source{API: config.API{URL: url, RecordsPath: "items"}}
	cfg.Type = config.TypeAPI
	return cfg
}

func TestExtractDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.Equal(t, "v1", r.Header.Get("X-Api-Version"))
		_, _ = io.WriteString(w, `{"items":[{"id":1,"v":"a"},{"id":2,"v":"b"},{"id":3,"v":"c"}]}`)
	}))
	defer srv.Close()

	cfg := apiSource(srv.URL + "/orders")
	cfg.API.Headers = map[string]string{"X-Api-Version": "v1"}
	cfg.API.Auth = config.APIAuth{Type: AuthBearer, Token: "s3cret"}
	cfg.ChunkSize = 2
	s, err := New(context.Background(), cfg, source.Env{})
	require.NoError(t, err)
	defer s.Close()

	m, err := s.Extract(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())
	assert.Equal(t, batch.SliceID{Index: 2}, m.Entries()[1].ID)
	first := m.Entries()[0].Batch
	assert.Equal(t, []string{"id", "v"}, first.Names())
	assert.Equal(t, int64(1), first.Rows[0][0])
}

func TestExtractOAuth2FetchesTokenOnce(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		assert.Equal(t, "tenant-a", r.Header.Get("X-Tenant"))
		_, _ = io.WriteString(w, `{"access_token":"tok-1","expires_in":3600}`)
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token tok-1", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"items":[{"id":1}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := apiSource(srv.URL + "/data")
	cfg.API.Auth = config.APIAuth{
		Type:           AuthOAuth2,
		Bearer:         "Token",
		AccessTokenURL: srv.URL + "/token",
		ClientID:       "cid",
		ClientSecret:   "secret",
		HeadersExtra:   map[string]string{"X-Tenant": "tenant-a"},
	}
	s := NewWithClient(cfg, source.Env{}, httpds.NewClient(httpds.Config{}), nil)

	for range 2 {
		m, err := s.Extract(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, m.Rows())
	}
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func iterDriver(t *testing.T) storage.Driver {
	t.Helper()
	ctx := context.Background()
	d, err := sqlite.Open(ctx, storage.Config{DSN: filepath.Join(t.TempDir(), "iter.db")})
	require.NoError(t, err)
	tx, err := d.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `CREATE TABLE regions (code VARCHAR(8))`)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO regions VALUES ('cz'), ('sk'), ('pl')`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return d
}

func TestExtractIterated(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"region":"`+r.URL.Path[len("/stats/"):]+`"}`, string(body))
		if r.URL.Path == "/stats/sk" {
			_, _ = io.WriteString(w, `{"items":[]}`)
			return
		}
		_, _ = io.WriteString(w, `{"items":[{"n":1},{"n":2}]}`)
	}))
	defer srv.Close()

	cfg := apiSource(srv.URL + "/stats/{code}")
	cfg.API.Method = "post"
	cfg.API.Payload = `{{"region":"{code}"}}`
	cfg.Queries.Iterate = "SELECT code FROM regions ORDER BY rowid"
	s := NewWithClient(cfg, source.Env{}, httpds.NewClient(httpds.Config{}), iterDriver(t))
	defer s.Close()

	m, err := s.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/stats/cz", "/stats/sk", "/stats/pl"}, paths)
	var ids []batch.SliceID
	for _, e := range m.Entries() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []batch.SliceID{{Index: 1, Sub: 1}, {Index: 3, Sub: 1}}, ids)
}

func TestExtractHTTPFailureIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s, err := New(context.Background(), apiSource(srv.URL), source.Env{})
	require.NoError(t, err)
	_, err = s.Extract(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConnection)
	var se *httpds.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestExtractMissingURLParamIsTemplateError(t *testing.T) {
	s, err := New(context.Background(), apiSource("http://127.0.0.1:1/{missing}"), source.Env{})
	require.NoError(t, err)
	_, err = s.Extract(context.Background())
	assert.ErrorIs(t, err, apperr.ErrTemplate)
}

func TestInspectSamplesFirstResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"items":[{"id":7,"ok":true,"at":"2024-01-02T03:04:05Z"}]}`)
	}))
	defer srv.Close()

	cfg := apiSource(srv.URL)
	cfg.Table = "events"
	s, err := New(context.Background(), cfg, source.Env{})
	require.NoError(t, err)
	def, err := s.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "events", def.Name)
	assert.Equal(t, []string{"id", "ok", "at"}, def.ColumnNames())
	assert.Equal(t, "BIGINT", def.Columns[0].Type.Name)
	assert.Equal(t, "BOOLEAN", def.Columns[1].Type.Name)
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(context.Background(), config.Source{}, source.Env{})
	assert.ErrorIs(t, err, apperr.ErrConfig)
}
