package config

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcf_valuation/pkg/core/engine"
	"dcf_valuation/pkg/core/valuation"
)

func TestHandleConfig(t *testing.T) {
	r := mux.NewRouter()
	NewHandler(engine.New(engine.Config{Workers: 3, MaxMonteCarloRuns: 5000})).Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Engine.Workers)
	assert.Equal(t, 5000, resp.Engine.MaxMonteCarloRuns)
	assert.Equal(t, engine.DefaultMonteCarloRuns, resp.Engine.DefaultMonteCarloRuns)
	assert.Equal(t, 0.5, resp.Engine.FailureThreshold)
	assert.Len(t, resp.Analyses, 6)
	assert.Len(t, resp.Distributions, 4)

	kinds := map[string]valuation.FieldKind{}
	for _, f := range resp.Fields {
		kinds[f.Name] = f.Kind
	}
	assert.Equal(t, valuation.KindScalar, kinds["ebit_margin"])
	assert.Equal(t, valuation.KindSeries, kinds["revenue"])
}
