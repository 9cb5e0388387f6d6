// Package admin exposes the read-only delivery history interface plus the
// one manual override (force retry) to operator tooling over HTTP/JSON.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/docsignal/docsignal/internal/auth"
	"github.com/docsignal/docsignal/internal/logging"
	"github.com/docsignal/docsignal/internal/store"
)

const (
	defaultLimit = 20
	maxLimit     = 200
)

// Enqueuer hands a reset delivery back to the dispatch workers.
type Enqueuer interface {
	Enqueue(id string) bool
}

// Server serves the admin API.
type Server struct {
	store    store.Store
	enqueuer Enqueuer
	logger   *logging.Logger
	now      func() time.Time
}

func NewServer(st store.Store, enqueuer Enqueuer, logger *logging.Logger) *Server {
	return &Server{store: st, enqueuer: enqueuer, logger: logger, now: time.Now}
}

// Register attaches the admin routes to the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/ping", s.handlePing)
	mux.HandleFunc("GET /v1/deliveries", s.handleListDeliveries)
	mux.HandleFunc("GET /v1/deliveries/{id}", s.handleGetDelivery)
	mux.HandleFunc("POST /v1/deliveries/{id}/retry", s.handleRetryDelivery)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
}

// deliveryView is the JSON shape of a delivery record. The payload is
// returned verbatim; signatures are included for audit, secrets never appear
// on records at all.
type deliveryView struct {
	ID             string          `json:"id"`
	TaskID         string          `json:"task_id"`
	EventType      string          `json:"event_type"`
	TargetURL      string          `json:"target_url"`
	Payload        json.RawMessage `json:"payload"`
	Signature      string          `json:"signature"`
	TimestampUsed  int64           `json:"timestamp_used"`
	Status         string          `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	LastHTTPStatus int             `json:"last_http_status,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	LastAttemptAt  *time.Time      `json:"last_attempt_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

func toView(rec *store.DeliveryRecord) deliveryView {
	return deliveryView{
		ID:             rec.ID,
		TaskID:         rec.TaskID,
		EventType:      string(rec.EventType),
		TargetURL:      rec.TargetURL,
		Payload:        json.RawMessage(rec.Payload),
		Signature:      rec.Signature,
		TimestampUsed:  rec.TimestampUsed,
		Status:         string(rec.Status),
		Attempts:       rec.Attempts,
		MaxAttempts:    rec.MaxAttempts,
		NextRetryAt:    rec.NextRetryAt,
		LastHTTPStatus: rec.LastHTTPStatus,
		LastError:      rec.LastError,
		LastAttemptAt:  rec.LastAttemptAt,
		CreatedAt:      rec.CreatedAt,
		CompletedAt:    rec.CompletedAt,
	}
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntParam(q.Get("limit"), defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := parseIntParam(q.Get("offset"), 0)

	taskID := q.Get("task_id")
	statusParam := q.Get("status")

	var (
		recs []*store.DeliveryRecord
		err  error
	)
	switch {
	case taskID != "":
		recs, err = s.store.ListByTask(r.Context(), taskID, limit, offset)
	case statusParam != "":
		status := store.Status(statusParam)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+statusParam)
			return
		}
		recs, err = s.store.ListByStatus(r.Context(), status, limit, offset)
	default:
		writeError(w, http.StatusBadRequest, "task_id or status query parameter is required")
		return
	}
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("list deliveries failed")
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	views := make([]deliveryView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, toView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deliveries": views,
		"limit":      limit,
		"offset":     offset,
	})
}

func (s *Server) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("get delivery failed")
		writeError(w, http.StatusInternalServerError, "get failed")
		return
	}
	writeJSON(w, http.StatusOK, toView(rec))
}

// handleRetryDelivery resets a terminally failed record's attempt bookkeeping
// and re-invokes the dispatcher. Only failed records may be forced.
func (s *Server) handleRetryDelivery(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.ResetForRetry(r.Context(), id, s.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "only failed deliveries can be retried")
		return
	case err != nil:
		s.logger.WithContext(r.Context()).WithDelivery(id).WithError(err).Error("force retry failed")
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}

	s.enqueuer.Enqueue(id)
	s.logger.WithContext(r.Context()).WithDelivery(id).
		WithField("operator", auth.OperatorFromContext(r.Context())).Info("force retry requested")

	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(store.StatusRetrying)})
		return
	}
	writeJSON(w, http.StatusAccepted, toView(rec))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := s.now()
	from := to.Add(-24 * time.Hour)
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		to = t
	}

	stats, err := s.store.CountByStatus(r.Context(), from, to)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("stats query failed")
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseIntParam(v string, def int) int {
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return n
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
