// Package api serves the JSON API the dashboard uses to drive automation
// and browse the application ledger.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yoanipalmas/App-ApplyBot/internal/dispatch"
	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	Get(ctx context.Context, jobID string) (domain.ApplicationRecord, error)
	GetMany(ctx context.Context, jobIDs []string) (map[string]domain.ApplicationRecord, error)
	List(ctx context.Context, limit, offset int) ([]domain.ApplicationRecord, error)
	ListAttempts(ctx context.Context, jobID string) ([]domain.AttemptRecord, error)
	Stats(ctx context.Context, windowStart time.Time) (domain.Stats, error)
}

// Engine is the part of the dispatch engine the API drives.
type Engine interface {
	Status(ctx context.Context) (dispatch.Status, error)
	Start(ctx context.Context, profile domain.Profile) error
	Stop()
	RunNow(ctx context.Context, profile domain.Profile) (domain.BatchResult, error)
	ApplyNow(ctx context.Context, profile domain.Profile, jobID string) (domain.BatchResult, error)
	UpdateStatus(ctx context.Context, jobID string, to domain.ApplicationStatus) (domain.ApplicationRecord, error)
}

type ProfileStore interface {
	Get() domain.Profile
	Replace(p domain.Profile)
}

type Catalog interface {
	ListOpenings(ctx context.Context, keywords, location string) ([]domain.JobPosting, error)
}

// OutcomeCounter reports per-outcome counts for the day containing t.
type OutcomeCounter interface {
	DailyCounts(ctx context.Context, t time.Time) (map[domain.AttemptOutcome]int64, error)
}

// HealthChecker reports the health of a dependency for verbose /health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Ping(ctx context.Context) error { return f(ctx) }

type Handler struct {
	store    Store
	engine   Engine
	profiles ProfileStore
	catalog  Catalog
	counter  OutcomeCounter
	checks   map[string]HealthChecker
	logger   *zap.Logger
	clock    func() time.Time
}

func NewHandler(store Store, engine Engine, profiles ProfileStore, catalog Catalog) *Handler {
	return &Handler{
		store:    store,
		engine:   engine,
		profiles: profiles,
		catalog:  catalog,
		checks:   make(map[string]HealthChecker),
		logger:   zap.NewNop(),
		clock:    time.Now,
	}
}

// WithHealthChecker registers a named dependency for verbose /health responses.
func (h *Handler) WithHealthChecker(name string, c HealthChecker) *Handler {
	h.checks[name] = c
	return h
}

// WithOutcomeCounter adds today's analytics counters to /stats.
func (h *Handler) WithOutcomeCounter(c OutcomeCounter) *Handler {
	h.counter = c
	return h
}

func (h *Handler) WithLogger(logger *zap.Logger) *Handler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.EscapedPath(), "/"), "/")
	route := parts[0]
	get, post, put := r.Method == http.MethodGet, r.Method == http.MethodPost, r.Method == http.MethodPut

	switch {
	case route == "health" && len(parts) == 1 && get:
		h.health(w, r)

	case route == "status" && len(parts) == 1 && get:
		h.status(w, r)

	case route == "automation" && len(parts) == 2 && parts[1] == "start" && post:
		h.startAutomation(w, r)

	case route == "automation" && len(parts) == 2 && parts[1] == "stop" && post:
		h.stopAutomation(w, r)

	case route == "batches" && len(parts) == 1 && post:
		h.runBatch(w, r)

	case route == "jobs" && len(parts) == 1 && get:
		h.listJobs(w, r)

	case route == "jobs" && len(parts) == 3 && parts[2] == "apply" && post:
		h.applyJob(w, r, parts[1])

	case route == "applications" && len(parts) == 1 && get:
		h.listApplications(w, r)

	case route == "applications" && len(parts) == 2 && get:
		h.getApplication(w, r, parts[1])

	case route == "applications" && len(parts) == 3 && parts[2] == "status" && put:
		h.updateStatus(w, r, parts[1])

	case route == "stats" && len(parts) == 1 && get:
		h.stats(w, r)

	case route == "profile" && len(parts) == 1 && get:
		writeJSON(w, http.StatusOK, toProfileResponse(h.profiles.Get()))

	case route == "profile" && len(parts) == 1 && put:
		h.replaceProfile(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string, len(h.checks)),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Status(r.Context())
	if err != nil {
		h.fail(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) startAutomation(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Start(r.Context(), h.profiles.Get()); err != nil {
		h.fail(w, "start automation", err)
		return
	}
	h.status(w, r)
}

func (h *Handler) stopAutomation(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop()
	h.status(w, r)
}

func (h *Handler) runBatch(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.RunNow(r.Context(), h.profiles.Get())
	if err != nil {
		h.fail(w, "run batch", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) applyJob(w http.ResponseWriter, r *http.Request, rawID string) {
	jobID, ok := pathID(w, rawID)
	if !ok {
		return
	}
	result, err := h.engine.ApplyNow(r.Context(), h.profiles.Get(), jobID)
	if err != nil {
		h.fail(w, "apply job", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	profile := h.profiles.Get()
	q := r.URL.Query()
	keywords, location := profile.Keywords, profile.Location
	if q.Has("keywords") {
		keywords = q.Get("keywords")
	}
	if q.Has("location") {
		location = q.Get("location")
	}

	postings, err := h.catalog.ListOpenings(r.Context(), keywords, location)
	if err != nil {
		h.logger.Error("api: list openings failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to list openings")
		return
	}

	ids := make([]string, len(postings))
	for i, p := range postings {
		ids[i] = p.ID
	}
	records, err := h.store.GetMany(r.Context(), ids)
	if err != nil {
		h.fail(w, "load records", err)
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, len(postings))}
	for i, p := range postings {
		job := JobResponse{JobPosting: p, Status: string(domain.StatusPending)}
		if rec, ok := records[p.ID]; ok {
			job.Status = string(rec.Status)
			job.Attempts = rec.Attempts
		}
		resp.Jobs[i] = job
	}
	sort.SliceStable(resp.Jobs, func(i, j int) bool {
		return resp.Jobs[i].PostedAt.After(resp.Jobs[j].PostedAt)
	})

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listApplications(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, "list applications", err)
		return
	}

	resp := ListApplicationsResponse{Applications: make([]ApplicationResponse, len(records))}
	for i, rec := range records {
		resp.Applications[i] = toApplicationResponse(rec)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getApplication(w http.ResponseWriter, r *http.Request, rawID string) {
	jobID, ok := pathID(w, rawID)
	if !ok {
		return
	}

	rec, err := h.store.Get(r.Context(), jobID)
	if err != nil {
		h.fail(w, "get application", err)
		return
	}
	attempts, err := h.store.ListAttempts(r.Context(), jobID)
	if err != nil {
		h.fail(w, "list attempts", err)
		return
	}

	resp := ApplicationDetailResponse{
		ApplicationResponse: toApplicationResponse(rec),
		History:             make([]AttemptResponse, len(attempts)),
	}
	for i, a := range attempts {
		resp.History[i] = toAttemptResponse(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request, rawID string) {
	jobID, ok := pathID(w, rawID)
	if !ok {
		return
	}

	var req StatusUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, err := validateStatusUpdate(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.engine.UpdateStatus(r.Context(), jobID, to)
	if err != nil {
		h.fail(w, "update status", err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationResponse(rec))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Status(r.Context())
	if err != nil {
		h.fail(w, "status", err)
		return
	}

	stats, err := h.store.Stats(r.Context(), st.WindowStart)
	if err != nil {
		h.fail(w, "stats", err)
		return
	}
	stats.WindowQuota = st.WeeklyQuota

	resp := StatsResponse{Stats: stats}
	if h.counter != nil {
		counts, err := h.counter.DailyCounts(r.Context(), h.clock())
		if err != nil {
			h.logger.Warn("api: analytics counters unavailable", zap.Error(err))
		} else {
			resp.Today = make(map[string]int64, len(counts))
			for outcome, n := range counts {
				resp.Today[string(outcome)] = n
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) replaceProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateProfile(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := domain.Profile{
		ResumeRef:   strings.TrimSpace(req.ResumeRef),
		CoverLetter: req.CoverLetter,
		Keywords:    strings.TrimSpace(req.Keywords),
		Location:    strings.TrimSpace(req.Location),
	}
	h.profiles.Replace(p)
	h.logger.Info("api: profile replaced", zap.Bool("complete", p.Validate() == nil))

	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// fail maps a domain error to its HTTP status. Unknown errors are logged
// and reported as 500 without detail.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var cfgErr *domain.InvalidConfigError
	switch {
	case errors.Is(err, domain.ErrMissingCredential), errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnknownJob), errors.Is(err, domain.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrBatchInProgress), errors.Is(err, domain.ErrAlreadyActive),
		errors.Is(err, domain.ErrNotEligible), errors.Is(err, domain.ErrIllegalTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrQuotaExhausted):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		h.logger.Error("api: "+op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, raw string) (string, bool) {
	id, err := url.PathUnescape(raw)
	if err == nil {
		err = validateJobID(id)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
