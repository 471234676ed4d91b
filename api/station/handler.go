// Package station exposes the allocation controller over HTTP.
package station

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/stationctl/core/allocation"
	"github.com/kilianp07/stationctl/core/audit"
	"github.com/kilianp07/stationctl/core/logger"
	"github.com/kilianp07/stationctl/core/model"
	"github.com/kilianp07/stationctl/core/scoring"
)

// Controller is the part of allocation.Controller served over HTTP.
type Controller interface {
	Assign(ctx context.Context, req allocation.AssignRequest) (allocation.AssignResult, error)
	Unassign(ctx context.Context, resourceID string, policy allocation.UnassignPolicy) (allocation.ReleaseResult, error)
	Depart(ctx context.Context, resourceID string) (allocation.ReleaseResult, error)
	ToggleMaintenance(ctx context.Context, resourceID string) (model.OccupancyState, error)
	Enqueue(ctx context.Context, req allocation.EnqueueRequest) (model.WaitingEntry, error)
	Dequeue(ctx context.Context, trainID string) error
	AddTrain(ctx context.Context, t model.Train) error
	RemoveTrain(ctx context.Context, trainID string) error
	SyncFromMaster(ctx context.Context) (int, error)
	LogDepartureLine(ctx context.Context, resourceID, line string) (string, error)
	Rank(ctx context.Context, req allocation.RankRequest) ([]scoring.Ranking, error)
	AcceptSuggestion(ctx context.Context, id string) (allocation.AssignResult, error)
	CurrentState() allocation.Snapshot
	Engine() *scoring.Engine
}

// Options configures the handler.
type Options struct {
	// Audit backs GET /api/logs. Nil serves an empty log.
	Audit audit.Store
	// Token enables bearer authentication on mutating routes when non-empty.
	Token string
	// AllowedOrigins enables CORS for the listed origins; "*" allows any.
	AllowedOrigins []string
	// Health reports the state of critical dependencies.
	Health func(ctx context.Context) error
	// Stream is mounted on GET /api/stream when set.
	Stream http.Handler
	Logger logger.Logger
}

// DefaultLogLimit is the number of audit records returned when no limit is given.
const DefaultLogLimit = 100

type handler struct {
	ctl  Controller
	opts Options
	log  logger.Logger
}

// New returns the station API.
func New(ctl Controller, opts Options) http.Handler {
	if opts.Audit == nil {
		opts.Audit = audit.NopStore{}
	}
	h := &handler{ctl: ctl, opts: opts, log: opts.Logger}
	if h.log == nil {
		h.log = logger.Nop{}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.health)
	mux.HandleFunc("GET /api/station-data", h.stationData)
	mux.HandleFunc("GET /api/logs", h.logs)
	mux.HandleFunc("GET /api/incoming-lines", h.incomingLines)
	mux.HandleFunc("POST /api/platform-suggestions", h.suggestions)

	mux.Handle("POST /api/assign-platform", h.auth(h.assign))
	mux.Handle("POST /api/unassign-platform", h.auth(h.unassign))
	mux.Handle("POST /api/depart-train", h.auth(h.depart))
	mux.Handle("POST /api/toggle-maintenance", h.auth(h.toggleMaintenance))
	mux.Handle("POST /api/log-depart-line", h.auth(h.departLine))
	mux.Handle("POST /api/add-to-waiting-list", h.auth(h.enqueue))
	mux.Handle("POST /api/remove-from-waiting-list", h.auth(h.dequeue))
	mux.Handle("POST /api/suggestions/{id}/accept", h.auth(h.accept))
	mux.Handle("POST /api/add-train", h.auth(h.addTrain))
	mux.Handle("POST /api/delete-train", h.auth(h.deleteTrain))
	mux.Handle("POST /api/sync-roster", h.auth(h.syncRoster))
	if opts.Stream != nil {
		mux.Handle("GET /api/stream", opts.Stream)
	}
	if len(opts.AllowedOrigins) == 0 {
		return mux
	}
	return cors(opts.AllowedOrigins, mux)
}

type message struct {
	Message string `json:"message"`
}

type resourceRequest struct {
	ResourceID string `json:"resource_id"`
}

type unassignRequest struct {
	ResourceID string `json:"resource_id"`
	Policy     string `json:"policy,omitempty"`
}

type departLineRequest struct {
	ResourceID string `json:"resource_id"`
	Line       string `json:"line"`
}

type trainRequest struct {
	TrainID string `json:"train_id"`
}

type maintenanceResponse struct {
	ResourceID string               `json:"resource_id"`
	State      model.OccupancyState `json:"state"`
}

type rankResponse struct {
	TrainID     string            `json:"train_id"`
	Suggestions []scoring.Ranking `json:"suggestions"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "store": true}
	if h.opts.Health != nil {
		if err := h.opts.Health(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["store"] = false
			resp["error"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) stationData(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.CurrentState())
}

func (h *handler) logs(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := audit.Query{
		TrainID: v.Get("train_id"),
		Action:  strings.ToUpper(v.Get("action")),
		Limit:   DefaultLogLimit,
	}
	if s := v.Get("start"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			q.Start = t
		}
	}
	if s := v.Get("end"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			q.End = t
		}
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeMessage(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}
	recs, err := h.opts.Audit.Query(r.Context(), q)
	if err != nil {
		h.log.Errorf("audit query: %v", err)
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	// newest first
	slices.Reverse(recs)
	if recs == nil {
		recs = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) incomingLines(w http.ResponseWriter, _ *http.Request) {
	lines := h.ctl.Engine().Matrix().Lines()
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, lines)
}

func (h *handler) suggestions(w http.ResponseWriter, r *http.Request) {
	var req allocation.RankRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.ctl.Rank(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if out == nil {
		out = []scoring.Ranking{}
	}
	writeJSON(w, http.StatusOK, rankResponse{TrainID: req.TrainID, Suggestions: out})
}

func (h *handler) assign(w http.ResponseWriter, r *http.Request) {
	var req allocation.AssignRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.ctl.Assign(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) unassign(w http.ResponseWriter, r *http.Request) {
	var req unassignRequest
	if !decode(w, r, &req) {
		return
	}
	policy, err := allocation.ParseUnassignPolicy(req.Policy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.ctl.Unassign(r.Context(), req.ResourceID, policy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) depart(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.ctl.Depart(r.Context(), req.ResourceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) toggleMaintenance(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := h.ctl.ToggleMaintenance(r.Context(), req.ResourceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maintenanceResponse{ResourceID: model.NormalizeResourceID(req.ResourceID), State: st})
}

func (h *handler) departLine(w http.ResponseWriter, r *http.Request) {
	var req departLineRequest
	if !decode(w, r, &req) {
		return
	}
	trainID, err := h.ctl.LogDepartureLine(r.Context(), req.ResourceID, req.Line)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Departure line logged.",
		"train_id": trainID,
	})
}

func (h *handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req allocation.EnqueueRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := h.ctl.Enqueue(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handler) dequeue(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.ctl.Dequeue(r.Context(), req.TrainID); err != nil {
		h.writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Train "+req.TrainID+" removed from the waiting list.")
}

func (h *handler) accept(w http.ResponseWriter, r *http.Request) {
	res, err := h.ctl.AcceptSuggestion(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) addTrain(w http.ResponseWriter, r *http.Request) {
	var t model.Train
	if !decode(w, r, &t) {
		return
	}
	if err := h.ctl.AddTrain(r.Context(), t); err != nil {
		h.writeError(w, err)
		return
	}
	writeMessage(w, http.StatusCreated, "Train "+t.ID+" added.")
}

func (h *handler) deleteTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.ctl.RemoveTrain(r.Context(), req.TrainID); err != nil {
		h.writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Train "+req.TrainID+" deleted.")
}

func (h *handler) syncRoster(w http.ResponseWriter, r *http.Request) {
	n, err := h.ctl.SyncFromMaster(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"changed": n})
}

func (h *handler) auth(next http.HandlerFunc) http.Handler {
	if h.opts.Token == "" {
		return next
	}
	want := []byte("Bearer " + h.opts.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
			writeMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

// StatusFor maps controller errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, allocation.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, allocation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, allocation.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, allocation.ErrExpired):
		return http.StatusGone
	case errors.Is(err, allocation.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Errorf("request failed: %v", err)
	}
	writeMessage(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, message{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
