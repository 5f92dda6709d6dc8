package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/rollcall/internal/queue"
	"github.com/your-org/rollcall/internal/storage"
)

type SystemHandler struct {
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	producer *queue.Producer
}

func NewSystemHandler(db *storage.PostgresStore, minio *storage.MinIOStore, producer *queue.Producer) *SystemHandler {
	return &SystemHandler{db: db, minio: minio, producer: producer}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz checks every backing service a verification needs. Sessions live in
// memory, so a ready API can always mint tokens; the checks cover the ledger,
// photo storage and the reconcile queue.
func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	probes := []struct {
		name string
		ping func(context.Context) error
	}{
		{"postgres", h.db.Ping},
		{"minio", h.minio.Ping},
		{"nats", func(context.Context) error { return h.producer.Ping() }},
	}

	checks := map[string]string{}
	ready := true
	for _, p := range probes {
		if err := p.ping(ctx); err != nil {
			checks[p.name] = err.Error()
			ready = false
			continue
		}
		checks[p.name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}

	c.JSON(status, gin.H{"status": state, "checks": checks})
}
