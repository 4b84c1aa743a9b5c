package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pmo-sentinel/internal/config"
	"github.com/raaihank/pmo-sentinel/internal/generator"
	"github.com/raaihank/pmo-sentinel/internal/logger"
	"github.com/raaihank/pmo-sentinel/internal/memory"
	"github.com/raaihank/pmo-sentinel/internal/metrics"
	"github.com/raaihank/pmo-sentinel/internal/pipeline"
	"github.com/raaihank/pmo-sentinel/internal/privacy"
	"github.com/raaihank/pmo-sentinel/internal/store"
)

// echo returns the outbound user prompt as the generated document
var echo = generator.Func(func(_ context.Context, p generator.Prompt) (string, error) {
	return p.User, nil
})

func newTestServer(t *testing.T, cfg *config.Config, gen generator.Generator) (*Server, store.Store) {
	t.Helper()
	if cfg == nil {
		cfg = config.GetDefaults()
	}

	st, err := store.Open(context.Background(), &store.Config{
		Driver: store.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "sentinel.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	m := metrics.New()
	engine := privacy.NewEngine(nil, m)
	p := pipeline.New(st, gen, engine, cfg.Privacy, nil, m)

	srv, err := New(cfg, logger.NewNop(), Dependencies{Store: st, Pipeline: p, Metrics: m})
	require.NoError(t, err)
	return srv, st
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndInfo(t *testing.T) {
	srv, _ := newTestServer(t, nil, echo)

	rec := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = do(t, srv, http.MethodGet, "/info", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"pmo-sentinel"`)
}

func TestDashboardFallsBackToEmbeddedPage(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.Server.DashboardPath = filepath.Join(t.TempDir(), "missing.html")
	srv, _ := newTestServer(t, cfg, echo)

	rec := do(t, srv, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "PMO Sentinel")
}

func TestEntryLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, nil, echo)

	rec := do(t, srv, http.MethodPost, "/api/projects/alpha/entries", `{"original_value":"Anna Svensson","entry_type":"person"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var entry privacy.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "PERSON_1", entry.AnonymizedCode)

	rec = do(t, srv, http.MethodPost, "/api/projects/alpha/entries", `{"entries":[{"original_value":"Acme","entry_type":"organization"},{"original_value":"x","entry_type":"pet"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var batch store.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.EqualValues(t, 1, batch.Inserted)
	assert.EqualValues(t, 1, batch.Failed)

	rec = do(t, srv, http.MethodGet, "/api/projects/alpha/entries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []privacy.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)

	rec = do(t, srv, http.MethodDelete, "/api/projects/alpha/entries/PERSON_1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, srv, http.MethodDelete, "/api/projects/alpha/entries/PERSON_1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/projects/beta/entries", "")
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestEntryValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil, echo)

	rec := do(t, srv, http.MethodPost, "/api/projects/alpha/entries", `{"original_value":"Anna","entry_type":"pet"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/projects/alpha/entries", `{"original_value":"  ","entry_type":"person"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/projects/alpha/entries", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemoryLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, nil, echo)

	rec := do(t, srv, http.MethodPut, "/api/projects/alpha/memory", `{"memory_type":"system","key":"erp","value":"SAP (ERP)"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPut, "/api/projects/alpha/memory", `{"memory_type":"gossip","key":"k","value":"v"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/projects/alpha/memory", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []memory.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, memory.TypeSystem, entries[0].MemoryType)

	rec = do(t, srv, http.MethodDelete, "/api/projects/alpha/memory/system/erp", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, srv, http.MethodDelete, "/api/projects/alpha/memory/system/erp", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateRoundTrip(t *testing.T) {
	var seen generator.Prompt
	gen := generator.Func(func(_ context.Context, p generator.Prompt) (string, error) {
		seen = p
		return p.User, nil
	})
	srv, st := newTestServer(t, nil, gen)

	_, err := st.CreateEntry(context.Background(), "alpha", "Anna Svensson", privacy.EntryPerson)
	require.NoError(t, err)

	rec := do(t, srv, http.MethodPost, "/api/generate", `{"project":"alpha","document_type":"weekly","input":"Anna Svensson skrev rapporten."}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "PERSON_1 skrev rapporten.", seen.User)

	var resp pipeline.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Anna Svensson skrev rapporten.", resp.Content)
	assert.True(t, resp.Report.Generated)
	assert.EqualValues(t, 1, srv.generations.Load())
}

func TestPreviewReturnsScrubbedPrompt(t *testing.T) {
	srv, st := newTestServer(t, nil, generator.Func(func(context.Context, generator.Prompt) (string, error) {
		t.Fatal("generator must not be called")
		return "", nil
	}))
	_, err := st.CreateEntry(context.Background(), "alpha", "Acme", privacy.EntryOrganization)
	require.NoError(t, err)

	rec := do(t, srv, http.MethodPost, "/api/preview", `{"project":"alpha","document_type":"risk","input":"Acme är försenade."}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var preview pipeline.Preview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	assert.Equal(t, "ORG_1 är försenade.", preview.UserPrompt)
}

func TestGenerateErrors(t *testing.T) {
	failing := generator.Func(func(context.Context, generator.Prompt) (string, error) {
		return "", errors.New("upstream secret details")
	})
	srv, _ := newTestServer(t, nil, failing)

	rec := do(t, srv, http.MethodPost, "/api/generate", `{"project":"alpha","document_type":"memo","input":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/generate", `{"project":"alpha","document_type":"weekly"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/generate", `{"project":"alpha","document_type":"weekly","input":"x"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Contains(t, rec.Body.String(), "request_id")
}

func TestGenerateRateLimited(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 1}
	srv, _ := newTestServer(t, cfg, echo)

	body := `{"project":"alpha","document_type":"weekly","input":"hej"}`
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/generate", body).Code)

	rec := do(t, srv, http.MethodPost, "/api/generate", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// preview is not limited
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/preview", body).Code)

	srv.Reload(&config.Config{RateLimit: config.RateLimitConfig{Enabled: false}})
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/generate", body).Code)
}

func TestBodyLimit(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.Server.MaxBodyBytes = 16
	srv, _ := newTestServer(t, cfg, echo)

	rec := do(t, srv, http.MethodPost, "/api/generate", `{"project":"alpha","document_type":"weekly","input":"a long document"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDocumentTypes(t *testing.T) {
	srv, _ := newTestServer(t, nil, echo)

	rec := do(t, srv, http.MethodGet, "/api/document-types", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var types []generator.DocumentType
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &types))
	assert.Len(t, types, 9)
}

func TestMetricsUseRouteTemplates(t *testing.T) {
	srv, _ := newTestServer(t, nil, echo)

	do(t, srv, http.MethodGet, "/api/projects/alpha/entries", "")
	do(t, srv, http.MethodGet, "/api/projects/beta/entries", "")

	rec := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pmo_sentinel_http_requests_total{route="/api/projects/{project}/entries",status="200"} 2`)
	assert.NotContains(t, rec.Body.String(), `route="/api/projects/alpha/entries"`)
}

func TestStatusForMapsErrors(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(store.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(privacy.ErrInvalidCategory))
	assert.Equal(t, http.StatusBadGateway, statusFor(pipeline.ErrGeneration))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk full")))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(config.GetDefaults(), logger.NewNop(), Dependencies{})
	assert.Error(t, err)
}
