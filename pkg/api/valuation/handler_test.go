package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcf_valuation/pkg/core/engine"
	"dcf_valuation/pkg/core/errs"
	"dcf_valuation/pkg/core/metrics"
	"dcf_valuation/pkg/core/store"
)

const params = `{
	"revenue": [100, 110, 121],
	"capital_expenditure": [10, 11, 12],
	"depreciation": [5, 6, 7],
	"net_working_capital_changes": [2, 2, 2],
	"ebit_margin": 0.2,
	"corporate_tax_rate": 0.21,
	"terminal_growth_rate": 0.02,
	"weighted_average_cost_of_capital": 0.1,
	"cost_of_debt": 0.05,
	"shares_outstanding": 100,
	"risk_free_rate": 0.04,
	"equity_risk_premium": 0.05,
	"levered_beta": 1.2,
	"scenario_definitions": {"bull": {"ebit_margin": 0.25}},
	"monte_carlo_variable_specs": {"ebit_margin": {"kind": "normal", "mean": 0.2, "std": 0.01}}
}`

type memRuns struct {
	mu   sync.Mutex
	runs map[string]*store.StoredRun
}

func (m *memRuns) Save(_ context.Context, req engine.Request, resp *engine.Response, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[resp.RunID] = &store.StoredRun{RunID: resp.RunID, Request: req, Response: resp, CreatedAt: resp.CreatedAt}
	return nil
}

func (m *memRuns) Load(_ context.Context, id string) (*store.StoredRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrRunNotFound, id)
	}
	return run, nil
}

type fixture struct {
	router  *mux.Router
	cache   *store.MemoryCache
	runs    *memRuns
	metrics *metrics.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cache, err := store.NewMemoryCache(100, time.Minute)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	f := &fixture{
		router:  mux.NewRouter(),
		cache:   cache,
		runs:    &memRuns{runs: map[string]*store.StoredRun{}},
		metrics: metrics.New(),
	}
	NewHandler(engine.New(engine.Config{Workers: 2}), cache, f.runs, f.metrics).Register(f.router)
	return f
}

func (f *fixture) post(path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHandleRun(t *testing.T) {
	f := newFixture(t)
	rec := f.post("/api/valuation/run", `{"parameters": `+params+`, "analyses": ["wacc", "apv", "scenario"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeBody[engine.Response](t, rec)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, []engine.AnalysisType{engine.AnalysisWACC, engine.AnalysisAPV, engine.AnalysisScenario}, resp.Analyses)
	require.NotNil(t, resp.Results.WACC)
	require.NotNil(t, resp.Results.Scenario)
	assert.Equal(t, 1, resp.Results.Scenario.Successful)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Runs.WithLabelValues("http", "ok")))
}

func TestHandleRun_CachesDeterministicRequests(t *testing.T) {
	f := newFixture(t)
	body := `{"parameters": ` + params + `, "analyses": ["wacc", "monte_carlo"], "monte_carlo_runs": 50, "seed": 9}`

	first := f.post("/api/valuation/run", body)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get("X-Cache"))
	f.cache.Wait()

	second := f.post("/api/valuation/run", body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, decodeBody[engine.Response](t, first).RunID, decodeBody[engine.Response](t, second).RunID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheHits.WithLabelValues("memory")))
}

func TestHandleRun_UnseededMonteCarloNotCached(t *testing.T) {
	f := newFixture(t)
	body := `{"parameters": ` + params + `, "analyses": ["monte_carlo"], "monte_carlo_runs": 20}`

	first := f.post("/api/valuation/run", body)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	f.cache.Wait()
	second := f.post("/api/valuation/run", body)
	require.Equal(t, http.StatusOK, second.Code)

	assert.Empty(t, second.Header().Get("X-Cache"))
	a, b := decodeBody[engine.Response](t, first), decodeBody[engine.Response](t, second)
	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.CacheMisses.WithLabelValues("memory")), "cache never consulted")
}

func TestHandleRun_Errors(t *testing.T) {
	withParams := func(old, new string) string {
		return `{"parameters": ` + strings.Replace(params, old, new, 1) + `}`
	}
	cases := []struct {
		name   string
		body   string
		status int
		kind   errs.Kind
		field  string
	}{
		{"malformed", `{"parameters": `, http.StatusBadRequest, errs.InvalidInput, "body"},
		{"unknown field", `{"parameters": ` + params + `, "speed": 1}`, http.StatusBadRequest, errs.InvalidInput, "body"},
		{"missing parameters", `{"analyses": ["wacc"]}`, http.StatusBadRequest, errs.InvalidInput, "parameters"},
		{"negative runs", `{"parameters": ` + params + `, "monte_carlo_runs": -1}`, http.StatusBadRequest, errs.InvalidInput, "monte_carlo_runs"},
		{"unknown analysis", `{"parameters": ` + params + `, "analyses": ["lbo"]}`, http.StatusBadRequest, errs.InvalidInput, "analyses"},
		{"margin out of range", withParams(`"ebit_margin": 0.2,`, `"ebit_margin": 2,`), http.StatusBadRequest, errs.InvalidInput, ""},
		{"growth above wacc", withParams(`"terminal_growth_rate": 0.02`, `"terminal_growth_rate": 0.1`), http.StatusUnprocessableEntity, errs.CalculationInvalid, ""},
		{"bad scenario field", `{"parameters": ` + strings.Replace(params, `"bull": {"ebit_margin"`, `"bull": {"margin"`, 1) + `, "analyses": ["scenario"]}`, http.StatusBadRequest, errs.ConfigurationInvalid, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.post("/api/valuation/run", tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			body := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tc.kind, body.Kind)
			if tc.field != "" {
				assert.Equal(t, tc.field, body.Field)
			}
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestHandleReport(t *testing.T) {
	f := newFixture(t)
	body := `{"parameters": ` + params + `}`

	rec := f.post("/api/valuation/report", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "# Valuation Report"))

	rec = f.post("/api/valuation/report?format=html", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>Valuation Report</h1>")
	assert.Contains(t, rec.Body.String(), "<table>")

	rec = f.post("/api/valuation/report?format=pdf", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetRun(t *testing.T) {
	f := newFixture(t)
	rec := f.post("/api/valuation/run", `{"parameters": `+params+`}`)
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody[engine.Response](t, rec).RunID

	get := httptest.NewRecorder()
	f.router.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/valuation/runs/"+id, nil))
	require.Equal(t, http.StatusOK, get.Code)
	run := decodeBody[store.StoredRun](t, get)
	assert.Equal(t, id, run.RunID)
	assert.Equal(t, []float64{100, 110, 121}, run.Request.Parameters.Revenue)

	get = httptest.NewRecorder()
	f.router.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/valuation/runs/unknown", nil))
	assert.Equal(t, http.StatusNotFound, get.Code)

	// Method not routed
	get = httptest.NewRecorder()
	f.router.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/valuation/run", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, get.Code)
}

func TestHandleGetRun_NoStore(t *testing.T) {
	r := mux.NewRouter()
	NewHandler(engine.New(engine.Config{}), nil, nil, nil).Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/valuation/runs/x", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(errs.Invalid("x", "bad")))
	assert.Equal(t, http.StatusBadRequest, StatusFor(errs.Configuration("x", "bad")))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(errs.Calculation("x", "bad")))
	assert.Equal(t, http.StatusNotFound, StatusFor(fmt.Errorf("load: %w", store.ErrRunNotFound)))
	assert.Equal(t, http.StatusGatewayTimeout, StatusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}
