package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/kolosave/savings-engine/internal/repository"
	"github.com/kolosave/savings-engine/pkg/response"
)

type HealthHandler struct {
	db       *sqlx.DB
	redis    *redis.Client
	postings repository.PostingRepository
}

func NewHealthHandler(db *sqlx.DB, redis *redis.Client, postings repository.PostingRepository) *HealthHandler {
	return &HealthHandler{
		db:       db,
		redis:    redis,
		postings: postings,
	}
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Health is the liveness probe.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.Success(w, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	})
}

// Ready checks database and redis connectivity and reports the outbox
// backlog. An unreachable dependency fails readiness; a backlog does not,
// the dispatcher drains it.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		status.Status = "error"
		status.Checks["database"] = "failed: " + err.Error()
	} else {
		status.Checks["database"] = "ok"
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		status.Status = "error"
		status.Checks["redis"] = "failed: " + err.Error()
	} else {
		status.Checks["redis"] = "ok"
	}

	if backlog, err := h.postings.CountPending(ctx); err != nil {
		status.Status = "error"
		status.Checks["outbox"] = "failed: " + err.Error()
	} else {
		status.Checks["outbox"] = fmt.Sprintf("ok, %d pending", backlog)
	}

	if status.Status == "error" {
		response.Error(w, http.StatusServiceUnavailable, "service not ready", nil)
		return
	}

	response.Success(w, status)
}
