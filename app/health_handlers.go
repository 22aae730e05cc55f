package studyroom

import (
	"net/http"
	"time"

	"github.com/putto11262002/studyroom/core"
	"github.com/putto11262002/studyroom/pkg/proto"
	"github.com/putto11262002/studyroom/pkg/router"
)

type HealthHandler struct {
	registry *core.Registry
	now      func() time.Time
}

func NewHealthHandler(registry *core.Registry, now func() time.Time) *HealthHandler {
	return &HealthHandler{registry: registry, now: now}
}

func (h *HealthHandler) HealthHandler(w http.ResponseWriter, r *http.Request) error {
	return router.WriteJSON(w, http.StatusOK, proto.HealthResponse{
		Status:      "ok",
		Connections: h.registry.Len(),
		Rooms:       h.registry.RoomCount(),
		Timestamp:   h.now().UTC(),
	})
}
