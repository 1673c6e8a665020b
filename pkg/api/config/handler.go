package config

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"dcf_valuation/pkg/core/analysis"
	"dcf_valuation/pkg/core/engine"
	"dcf_valuation/pkg/core/valuation"
)

// FieldInfo describes one overridable parameter
type FieldInfo struct {
	Name string              `json:"name"`
	Kind valuation.FieldKind `json:"kind"`
}

// Response lists engine limits and the vocabulary a request may use
type Response struct {
	Engine          engine.Config               `json:"engine"`
	Analyses        []engine.AnalysisType       `json:"analyses"`
	DefaultAnalyses []engine.AnalysisType       `json:"default_analyses"`
	Distributions   []analysis.DistributionType `json:"distributions"`
	Fields          []FieldInfo                 `json:"fields"`
}

// Handler holds dependencies for config endpoints
type Handler struct {
	Engine *engine.Engine
}

// NewHandler creates a new config handler
func NewHandler(e *engine.Engine) *Handler {
	return &Handler{
		Engine: e,
	}
}

// Register mounts the endpoint on r
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/config", h.HandleConfig).Methods(http.MethodGet)
}

func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	names := valuation.FieldNames()
	fields := make([]FieldInfo, 0, len(names))
	for _, n := range names {
		f, _ := valuation.LookupField(n)
		fields = append(fields, FieldInfo{Name: f.Name, Kind: f.Kind})
	}

	resp := Response{
		Engine:          h.Engine.Config(),
		Analyses:        engine.AllAnalyses,
		DefaultAnalyses: engine.DefaultAnalyses,
		Distributions:   analysis.SupportedDistributions,
		Fields:          fields,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
