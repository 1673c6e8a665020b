package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"dcf_valuation/pkg/core/engine"
	"dcf_valuation/pkg/core/errs"
	"dcf_valuation/pkg/core/logging"
	"dcf_valuation/pkg/core/metrics"
	"dcf_valuation/pkg/core/report"
	"dcf_valuation/pkg/core/store"
	"dcf_valuation/pkg/core/utils"
	"dcf_valuation/pkg/core/valuation"
)

// maxBodyBytes caps request bodies; peer tables and scenario sets stay well below
const maxBodyBytes = 8 << 20

// RunStore persists finished runs; *store.RunRepo implements it
type RunStore interface {
	Save(ctx context.Context, req engine.Request, resp *engine.Response, cacheKey string) error
	Load(ctx context.Context, runID string) (*store.StoredRun, error)
}

// RunRequest is the POST body for run and report endpoints
type RunRequest struct {
	Parameters     *valuation.Parameters `json:"parameters" validate:"required"`
	Analyses       []string              `json:"analyses,omitempty" validate:"omitempty,dive,required"`
	MonteCarloRuns int                   `json:"monte_carlo_runs,omitempty" validate:"gte=0"`
	Seed           *uint64               `json:"seed,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string    `json:"error"`
	Kind  errs.Kind `json:"kind,omitempty"`
	Field string    `json:"field,omitempty"`
}

// Handler serves the valuation endpoints. Cache, runs and metrics are optional.
type Handler struct {
	engine   *engine.Engine
	cache    store.Cache
	runs     RunStore
	metrics  *metrics.Registry
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a valuation handler
func NewHandler(e *engine.Engine, cache store.Cache, runs RunStore, m *metrics.Registry) *Handler {
	return &Handler{
		engine:   e,
		cache:    cache,
		runs:     runs,
		metrics:  m,
		validate: newValidator(),
		log:      logging.Component("valuation-api"),
	}
}

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Register mounts the endpoints on r
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/valuation/run", h.HandleRun).Methods(http.MethodPost)
	r.HandleFunc("/api/valuation/report", h.HandleReport).Methods(http.MethodPost)
	r.HandleFunc("/api/valuation/runs/{id}", h.HandleGetRun).Methods(http.MethodGet)
}

// HandleRun executes a valuation and returns the JSON response
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	resp, cached, err := h.execute(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if cached {
		w.Header().Set("X-Cache", "HIT")
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleReport executes a valuation and renders it; ?format=markdown|html|json
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(report.FormatMarkdown)
	}
	format, err := report.ParseFormat(name)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, _, err := h.execute(r)
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := report.Render(resp, format)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// HandleGetRun returns a persisted run
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "run persistence is not configured"})
		return
	}
	id := mux.Vars(r)["id"]
	run, err := h.runs.Load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// execute decodes, validates and runs a request, consulting the cache first.
// The bool result reports a cache hit.
func (h *Handler) execute(r *http.Request) (*engine.Response, bool, error) {
	start := time.Now()
	resp, cached, err := h.run(r)
	if h.metrics != nil {
		h.metrics.ObserveRun("http", time.Since(start), kindLabel(err))
		if resp != nil && resp.Results.MonteCarlo != nil && !cached {
			h.metrics.RecordMonteCarloFailures("wacc", resp.Results.MonteCarlo.WACC.Failed)
			h.metrics.RecordMonteCarloFailures("apv", resp.Results.MonteCarlo.APV.Failed)
		}
	}
	return resp, cached, err
}

func (h *Handler) run(r *http.Request) (*engine.Response, bool, error) {
	ctx := r.Context()
	req, err := h.decode(r)
	if err != nil {
		return nil, false, err
	}
	if err := h.engine.Normalize(&req); err != nil {
		return nil, false, err
	}

	var key string
	if h.cache != nil && store.Cacheable(req) {
		if key, err = store.ContentKey(req); err != nil {
			return nil, false, err
		}
		if resp, ok := h.lookup(ctx, key); ok {
			return resp, true, nil
		}
	}

	resp, err := h.engine.Run(ctx, req)
	if err != nil {
		return nil, false, err
	}

	if key != "" {
		if data, err := json.Marshal(resp); err == nil {
			if err := h.cache.Set(ctx, key, data); err != nil {
				h.log.Warn().Err(err).Str("backend", h.cache.Name()).Msg("Cache write failed")
			}
		}
	}
	if h.runs != nil {
		if err := h.runs.Save(ctx, req, resp, key); err != nil {
			h.log.Warn().Err(err).Str("run_id", resp.RunID).Msg("Run not persisted")
		}
	}
	return resp, false, nil
}

// lookup treats cache errors and corrupt entries as misses
func (h *Handler) lookup(ctx context.Context, key string) (*engine.Response, bool) {
	data, ok, err := h.cache.Get(ctx, key)
	if err != nil {
		h.log.Warn().Err(err).Str("backend", h.cache.Name()).Msg("Cache read failed")
	}
	var resp engine.Response
	if ok && err == nil {
		if uerr := json.Unmarshal(data, &resp); uerr != nil {
			h.log.Warn().Err(uerr).Str("key", key).Msg("Discarding corrupt cache entry")
			ok = false
		}
	}
	hit := ok && err == nil
	if h.metrics != nil {
		h.metrics.RecordCache(h.cache.Name(), hit)
	}
	if !hit {
		return nil, false
	}
	h.log.Debug().Str("key", key).Str("run_id", resp.RunID).Msg("Cache hit")
	return &resp, true
}

func (h *Handler) decode(r *http.Request) (engine.Request, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return engine.Request{}, errs.Wrap(errs.InvalidInput, "body", err, "cannot read request body")
	}
	if len(body) > maxBodyBytes {
		return engine.Request{}, errs.Invalid("body", "exceeds %d bytes", maxBodyBytes)
	}
	var dto RunRequest
	if err := utils.DecodeStrict(body, &dto); err != nil {
		return engine.Request{}, errs.Wrap(errs.InvalidInput, "body", err, "invalid JSON")
	}
	if err := h.validate.Struct(dto); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return engine.Request{}, errs.Invalid(verrs[0].Field(), "failed %q validation", verrs[0].Tag())
		}
		return engine.Request{}, errs.Wrap(errs.InvalidInput, "body", err, "invalid request")
	}
	analyses, err := engine.ParseAnalyses(dto.Analyses)
	if err != nil {
		return engine.Request{}, err
	}
	return engine.Request{
		Parameters:     dto.Parameters,
		Analyses:       analyses,
		MonteCarloRuns: dto.MonteCarloRuns,
		Seed:           dto.Seed,
	}, nil
}

// StatusFor maps an error to an HTTP status
func StatusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.InvalidInput, errs.ConfigurationInvalid:
		return http.StatusBadRequest
	case errs.CalculationInvalid:
		return http.StatusUnprocessableEntity
	}
	switch {
	case errors.Is(err, store.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func kindLabel(err error) string {
	if err == nil {
		return ""
	}
	if k := errs.KindOf(err); k != "" {
		return string(k)
	}
	return "internal"
}

func writeError(w http.ResponseWriter, err error) {
	body := ErrorResponse{Error: err.Error()}
	var e *errs.Error
	if errors.As(err, &e) {
		body.Kind = e.Kind
		body.Field = e.Field
	}
	writeJSON(w, StatusFor(err), body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
