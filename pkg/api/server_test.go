package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyvo/datasheets/backend/pkg/build"
	"github.com/vyvo/datasheets/backend/pkg/catalog"
	"github.com/vyvo/datasheets/backend/pkg/dataset"
	"github.com/vyvo/datasheets/backend/pkg/jobs"
)

type stubCompiler struct {
	artifact build.Artifact
	err      error
	calls    []int64
	series   []*int64
}

func (c *stubCompiler) CompileTemplate(_ context.Context, templateID int64, seriesID *int64) (build.Artifact, error) {
	c.calls = append(c.calls, templateID)
	c.series = append(c.series, seriesID)
	return c.artifact, c.err
}

type harness struct {
	store    *catalog.MemStore
	journal  *jobs.MemStore
	compiler *stubCompiler
	handler  http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	series := int64(1)
	store := catalog.NewMemStore()
	require.NoError(t, store.Seed(context.Background(), catalog.Seed{
		Fields: []catalog.SeedField{{ID: 1, Key: "Voltage", Label: "Voltage"}},
		Series: []catalog.SeedSeries{{
			ID:   1,
			Name: "Power Supplies",
			Products: []catalog.SeedProduct{
				{ID: 10, SKU: "PS-05", Name: "Five volt", Attributes: map[string]string{"Voltage": "5V"}},
			},
		}},
		Variables: []catalog.SeedVariable{
			{Key: "company-name", Value: "Acme Co"},
			{Key: "tagline", Value: "Series one", SeriesID: &series},
		},
		Templates: []catalog.SeedTemplate{
			{ID: 1, Name: "sheet", Dialect: "typst", SeriesID: &series, Body: "= {{company_name}}"},
			{ID: 2, Name: "legacy", Dialect: "latex", Body: "x"},
		},
	}))

	journal := jobs.NewMemStore()
	compiler := &stubCompiler{}
	assembler := dataset.NewAssembler(store, store, nil)
	srv := NewServer(store, store, assembler, compiler, journal)
	return &harness{store: store, journal: journal, compiler: compiler, handler: srv.Router()}
}

func (h *harness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestListTemplates(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/templates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["templates"], 2)

	rec = h.do(t, http.MethodGet, "/api/templates?series=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["templates"], 1)

	rec = h.do(t, http.MethodGet, "/api/templates?series=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompileCreated(t *testing.T) {
	h := newHarness(t)
	h.compiler.artifact = build.Artifact{
		JobID:        "job-1",
		RelativeURL:  "/generated/series_2_20260301123000.pdf",
		AbsolutePath: "/srv/generated/series_2_20260301123000.pdf",
		GeneratedAt:  time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
	}

	rec := h.do(t, http.MethodPost, "/api/templates/1/compile?series=2", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	artifact, ok := decode(t, rec)["artifact"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/generated/series_2_20260301123000.pdf", artifact["url"])
	assert.Equal(t, []int64{1}, h.compiler.calls)
	require.NotNil(t, h.compiler.series[0])
	assert.Equal(t, int64(2), *h.compiler.series[0])
}

func TestCompileErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"missing template", fmt.Errorf("load template 9: %w", catalog.ErrNotFound), http.StatusNotFound},
		{"no compiler", fmt.Errorf("%w: typst", build.ErrConfigurationMissing), http.StatusServiceUnavailable},
		{"bad dialect", fmt.Errorf("%w: \"docx\"", build.ErrUnsupportedDialect), http.StatusBadRequest},
		{"disk", fmt.Errorf("%w: publish: disk full", build.ErrStorage), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.compiler.err = tc.err
			rec := h.do(t, http.MethodPost, "/api/templates/1/compile", "")
			assert.Equal(t, tc.status, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

func TestCompileFailureReportsCompilerOutput(t *testing.T) {
	h := newHarness(t)
	h.compiler.err = &build.CompilationError{JobID: "job-7", Dialect: "typst", ExitCode: 1, Output: "error: unknown variable"}

	rec := h.do(t, http.MethodPost, "/api/templates/1/compile", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "job-7", body["job_id"])
	assert.Equal(t, float64(1), body["exit_code"])
	assert.Equal(t, false, body["timed_out"])
	assert.Equal(t, "error: unknown variable", body["output"])
}

func TestCompileRejectsBadIDs(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/templates/x/compile", "").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/templates/1/compile?series=y", "").Code)
	assert.Empty(t, h.compiler.calls)
}

func TestDatasetPreview(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/dataset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	data := body["dataset"].(map[string]any)
	assert.Equal(t, map[string]any{"company_name": "Acme Co"}, data["globals"])
	assert.NotContains(t, data, "products")

	rec = h.do(t, http.MethodGet, "/api/series/1/dataset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	data = body["dataset"].(map[string]any)
	assert.Equal(t, map[string]any{"company_name": "Acme Co", "tagline": "Series one"}, data["globals"])
	products := data["products"].([]any)
	require.Len(t, products, 1)
	assert.Equal(t, "PS-05", products[0].(map[string]any)["sku"])

	header := body["header"].(string)
	assert.Contains(t, header, `#let products = data.at("products")`)
	assert.Contains(t, header, `company_name: "Acme Co"`)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/series/42/dataset", "").Code)
}

func TestVariablesCRUD(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/variables", `{"key":"phone","value":"555-0100"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode(t, rec)["variable"].(map[string]any)
	assert.Equal(t, "text", created["type"])
	id := int64(created["id"].(float64))

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/variables/%d", id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "555-0100", decode(t, rec)["variable"].(map[string]any)["value"])

	rec = h.do(t, http.MethodPut, fmt.Sprintf("/api/variables/%d", id), `{"key":"phone","value":"555-0199"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "555-0199", decode(t, rec)["variable"].(map[string]any)["value"])

	rec = h.do(t, http.MethodGet, "/api/variables", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["variables"], 2)

	rec = h.do(t, http.MethodGet, "/api/variables?series=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["variables"], 1)

	rec = h.do(t, http.MethodDelete, fmt.Sprintf("/api/variables/%d", id), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/variables/%d", id), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVariablesValidation(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/variables", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/variables", `{"key":" "}`).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/variables", `{"key":"a","type":"video"}`).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPut, "/api/variables/99", `{"key":"a"}`).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/api/variables/99", "").Code)
}

func TestBuildStatusAndLogs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, h.journal.Create(ctx, jobs.Record{ID: "job-1", Dialect: "typst", Scope: "global", State: jobs.StateCreated, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, h.journal.AppendLog(ctx, "job-1", "compiling"))
	require.NoError(t, h.journal.AppendLog(ctx, "job-1", "warning: unused"))
	require.NoError(t, h.journal.SetState(ctx, "job-1", jobs.StateFailed, "exit code 1"))

	rec := h.do(t, http.MethodGet, "/api/builds/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)["build"].(map[string]any)
	assert.Equal(t, "failed", got["state"])

	rec = h.do(t, http.MethodGet, "/api/builds/job-1/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "data: compiling\n\ndata: warning: unused\n\ndata: [stream closed]\n\n", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/builds/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/builds/nope/logs", "").Code)
}
