package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/epiwatch-io/platform/pkg/audit"
	"github.com/epiwatch-io/platform/pkg/common/logger"
	"github.com/epiwatch-io/platform/pkg/common/models"
	"github.com/epiwatch-io/platform/pkg/countries"
	"github.com/epiwatch-io/platform/pkg/mapping"
	"github.com/epiwatch-io/platform/pkg/match"
	"github.com/epiwatch-io/platform/pkg/normalizer"
	"github.com/epiwatch-io/platform/pkg/promotion"
	"github.com/epiwatch-io/platform/pkg/queue"
	"github.com/epiwatch-io/platform/pkg/registry"
)

// Handler is the admin and resolution surface of the mapper service.
type Handler struct {
	engine      *match.Engine
	batches     *normalizer.Service
	diseases    *registry.Repository
	mappings    *mapping.Repository
	suggestions *queue.Repository
	promoter    *promotion.Service
	trail       *audit.Repository
	catalog     countries.Catalog
}

func NewHandler(engine *match.Engine, batches *normalizer.Service, diseases *registry.Repository,
	mappings *mapping.Repository, suggestions *queue.Repository, promoter *promotion.Service,
	trail *audit.Repository, catalog countries.Catalog) *Handler {
	return &Handler{
		engine:      engine,
		batches:     batches,
		diseases:    diseases,
		mappings:    mappings,
		suggestions: suggestions,
		promoter:    promoter,
		trail:       trail,
		catalog:     catalog,
	}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/resolve", h.handleResolve).Methods(http.MethodPost)
	r.HandleFunc("/normalize", h.handleNormalize).Methods(http.MethodPost)

	r.HandleFunc("/diseases", h.handleCreateDisease).Methods(http.MethodPost)
	r.HandleFunc("/diseases", h.handleListDiseases).Methods(http.MethodGet)
	r.HandleFunc("/diseases/load", h.handleLoadDiseases).Methods(http.MethodPost)
	r.HandleFunc("/diseases/{id}", h.handleGetDisease).Methods(http.MethodGet)
	r.HandleFunc("/diseases/{id}", h.handleDeactivateDisease).Methods(http.MethodDelete)
	r.HandleFunc("/diseases/{id}/audit", h.handleEntityAudit).Methods(http.MethodGet)

	r.HandleFunc("/mappings", h.handleCreateMapping).Methods(http.MethodPost)
	r.HandleFunc("/mappings", h.handleListMappings).Methods(http.MethodGet)
	r.HandleFunc("/mappings/load", h.handleLoadMappings).Methods(http.MethodPost)
	r.HandleFunc("/mappings/{id}", h.handleGetMapping).Methods(http.MethodGet)
	r.HandleFunc("/mappings/{id}", h.handleDeactivateMapping).Methods(http.MethodDelete)
	r.HandleFunc("/mappings/{id}/correct", h.handleCorrectMapping).Methods(http.MethodPost)

	r.HandleFunc("/suggestions", h.handleListSuggestions).Methods(http.MethodGet)
	r.HandleFunc("/suggestions/{id}", h.handleGetSuggestion).Methods(http.MethodGet)
	r.HandleFunc("/suggestions/{id}/approve", h.handleApproveSuggestion).Methods(http.MethodPost)
	r.HandleFunc("/suggestions/{id}/reject", h.handleRejectSuggestion).Methods(http.MethodPost)
	r.HandleFunc("/suggestions/{id}/merge", h.handleMergeSuggestion).Methods(http.MethodPost)

	r.HandleFunc("/search", h.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/countries", h.handleListCountries).Methods(http.MethodGet)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CountryCode string `json:"country_code"`
		DiseaseName string `json:"disease_name"`
		Strategy    string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	strategy := h.strategyFor(req.CountryCode, req.Strategy)
	result, err := h.engine.Resolve(r.Context(), req.CountryCode, req.DiseaseName, strategy)
	if err != nil {
		writeError(w, err, "resolution failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CountryCode string             `json:"country_code"`
		Strategy    string             `json:"strategy"`
		Rows        []models.RawReport `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if len(req.Rows) == 0 {
		http.Error(w, "rows are required", http.StatusBadRequest)
		return
	}
	strategy := h.strategyFor(req.CountryCode, req.Strategy)
	result, err := h.batches.Normalize(r.Context(), req.CountryCode, req.Rows, strategy)
	if err != nil {
		writeError(w, err, "normalization failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCreateDisease(w http.ResponseWriter, r *http.Request) {
	var disease registry.StandardDisease
	if err := json.NewDecoder(r.Body).Decode(&disease); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.promoter.AddDisease(r.Context(), &disease, resolveActor(r)); err != nil {
		writeError(w, err, "failed to create disease")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"disease": disease})
}

func (h *Handler) handleLoadDiseases(w http.ResponseWriter, r *http.Request) {
	result, err := registry.LoadCSV(r.Context(), h.diseases, r.Body)
	if err != nil {
		writeError(w, err, "bulk load failed")
		return
	}
	h.trail.Record(r.Context(), resolveActor(r), audit.ActionBulkLoad, "disease", "", "",
		map[string]interface{}{"loaded": result.Loaded, "skipped": result.Skipped})
	writeJSON(w, http.StatusOK, result)
}

// handleListDiseases lists active registry entries; an optional q parameter
// narrows by name substring.
func (h *Handler) handleListDiseases(w http.ResponseWriter, r *http.Request) {
	diseases, err := h.diseases.Search(r.Context(), r.URL.Query().Get("q"), parseLimit(r, 50))
	if err != nil {
		writeError(w, err, "failed to list diseases")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": diseases})
}

func (h *Handler) handleGetDisease(w http.ResponseWriter, r *http.Request) {
	disease, err := h.diseases.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, "failed to get disease")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"disease": disease})
}

func (h *Handler) handleDeactivateDisease(w http.ResponseWriter, r *http.Request) {
	if err := h.promoter.DeactivateDisease(r.Context(), mux.Vars(r)["id"], resolveActor(r)); err != nil {
		writeError(w, err, "failed to deactivate disease")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEntityAudit(w http.ResponseWriter, r *http.Request) {
	events, err := h.trail.ForEntity(r.Context(), mux.Vars(r)["id"], parseLimit(r, 50))
	if err != nil {
		writeError(w, err, "failed to list audit events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": events})
}

func (h *Handler) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	var m mapping.CountryMapping
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	country, err := h.catalog.Lookup(m.CountryCode)
	if err != nil {
		writeError(w, err, "failed to create mapping")
		return
	}
	m.CountryCode = country.Code
	if err := h.promoter.AddMapping(r.Context(), &m, resolveActor(r)); err != nil {
		writeError(w, err, "failed to create mapping")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"mapping": m})
}

func (h *Handler) handleListMappings(w http.ResponseWriter, r *http.Request) {
	countryCode := r.URL.Query().Get("country")
	if countryCode == "" {
		http.Error(w, "country is required", http.StatusBadRequest)
		return
	}
	country, err := h.catalog.Lookup(countryCode)
	if err != nil {
		writeError(w, err, "failed to list mappings")
		return
	}
	mappings, err := h.mappings.ActiveForCountry(r.Context(), country.Code)
	if err != nil {
		writeError(w, err, "failed to list mappings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": mappings})
}

func (h *Handler) handleLoadMappings(w http.ResponseWriter, r *http.Request) {
	countryCode := r.URL.Query().Get("country")
	country, err := h.catalog.Lookup(countryCode)
	if err != nil {
		writeError(w, err, "bulk load failed")
		return
	}
	result, err := mapping.LoadCSV(r.Context(), h.mappings, r.Body, country.Code)
	if err != nil {
		writeError(w, err, "bulk load failed")
		return
	}
	h.trail.Record(r.Context(), resolveActor(r), audit.ActionBulkLoad, "mapping", "", country.Code,
		map[string]interface{}{"loaded": result.Loaded, "skipped": result.Skipped})
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	m, err := h.mappings.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, "failed to get mapping")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mapping": m})
}

func (h *Handler) handleDeactivateMapping(w http.ResponseWriter, r *http.Request) {
	if err := h.promoter.DeactivateMapping(r.Context(), mux.Vars(r)["id"], resolveActor(r)); err != nil {
		writeError(w, err, "failed to deactivate mapping")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCorrectMapping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewDiseaseID string `json:"new_disease_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.NewDiseaseID == "" {
		http.Error(w, "new_disease_id is required", http.StatusBadRequest)
		return
	}
	replacement, err := h.promoter.CorrectMapping(r.Context(), mux.Vars(r)["id"], req.NewDiseaseID, resolveActor(r))
	if err != nil {
		writeError(w, err, "failed to correct mapping")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mapping": replacement})
}

func (h *Handler) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}
	suggestions, err := h.suggestions.ListPending(r.Context(), r.URL.Query().Get("country"), parseLimit(r, 20), offset)
	if err != nil {
		writeError(w, err, "failed to list suggestions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": suggestions})
}

func (h *Handler) handleGetSuggestion(w http.ResponseWriter, r *http.Request) {
	suggestion, err := h.suggestions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, "failed to get suggestion")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"suggestion": suggestion})
}

func (h *Handler) handleApproveSuggestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DiseaseID     string `json:"disease_id"`
		CreateMapping *bool  `json:"create_mapping"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.DiseaseID == "" {
		http.Error(w, "disease_id is required", http.StatusBadRequest)
		return
	}
	createMapping := req.CreateMapping == nil || *req.CreateMapping
	m, err := h.promoter.Approve(r.Context(), mux.Vars(r)["id"], req.DiseaseID, createMapping, resolveActor(r))
	if err != nil {
		writeError(w, err, "failed to approve suggestion")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mapping": m})
}

func (h *Handler) handleRejectSuggestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.promoter.Reject(r.Context(), mux.Vars(r)["id"], req.Reason, resolveActor(r)); err != nil {
		writeError(w, err, "failed to reject suggestion")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMergeSuggestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DuplicateOf string `json:"duplicate_of"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.DuplicateOf == "" {
		http.Error(w, "duplicate_of is required", http.StatusBadRequest)
		return
	}
	if err := h.promoter.Merge(r.Context(), mux.Vars(r)["id"], req.DuplicateOf, resolveActor(r)); err != nil {
		writeError(w, err, "failed to merge suggestion")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch queries the registry and the mapping table in one pass, so a
// reviewer can find a disease by either its canonical or any local name.
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}
	limit := parseLimit(r, 20)
	diseases, err := h.diseases.Search(r.Context(), query, limit)
	if err != nil {
		writeError(w, err, "search failed")
		return
	}
	mappings, err := h.mappings.Search(r.Context(), query, limit)
	if err != nil {
		writeError(w, err, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"diseases": diseases,
		"mappings": mappings,
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	countryCode := r.URL.Query().Get("country")
	if countryCode != "" {
		country, err := h.catalog.Lookup(countryCode)
		if err != nil {
			writeError(w, err, "failed to collect stats")
			return
		}
		countryCode = country.Code
	}
	stats := models.Stats{CountryCode: countryCode}

	var err error
	stats.StandardDiseaseCount, err = h.diseases.CountActive(r.Context())
	if err != nil {
		writeError(w, err, "failed to collect stats")
		return
	}
	stats.MappingCount, stats.PrimaryMappingCount, stats.AliasMappingCount, err =
		h.mappings.Counts(r.Context(), countryCode)
	if err != nil {
		writeError(w, err, "failed to collect stats")
		return
	}
	stats.PendingSuggestionCount, err = h.suggestions.PendingCount(r.Context(), countryCode)
	if err != nil {
		writeError(w, err, "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleListCountries(w http.ResponseWriter, r *http.Request) {
	items := make([]countries.Country, 0, len(h.catalog.Countries))
	for _, code := range h.catalog.Codes() {
		country, err := h.catalog.Lookup(code)
		if err != nil {
			continue
		}
		items = append(items, country)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// strategyFor resolves the effective cascade depth: an explicit request wins,
// otherwise the country's configured default applies.
func (h *Handler) strategyFor(countryCode, requested string) models.Strategy {
	if requested != "" {
		return models.ParseStrategy(requested)
	}
	if country, err := h.catalog.Lookup(countryCode); err == nil {
		return models.ParseStrategy(country.DefaultStrategy)
	}
	return models.StrategySemantic
}

// writeError maps domain sentinels onto HTTP statuses; anything unrecognized
// is a 500 with the generic message, never the raw error.
func writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, match.ErrEmptyInput),
		errors.Is(err, countries.ErrInvalidCountry),
		errors.Is(err, registry.ErrInvalidEntry),
		errors.Is(err, mapping.ErrInvalidMapping),
		errors.Is(err, queue.ErrEmptyName):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, mapping.ErrNoMapping),
		errors.Is(err, queue.ErrUnknownSuggestion):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, registry.ErrDuplicateDisease),
		errors.Is(err, mapping.ErrDuplicateMapping),
		errors.Is(err, queue.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.Log.WithError(err).Error(fallback)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func resolveActor(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "system"
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
