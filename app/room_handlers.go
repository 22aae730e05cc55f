package studyroom

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/putto11262002/studyroom/core"
	"github.com/putto11262002/studyroom/pkg/proto"
	"github.com/putto11262002/studyroom/pkg/router"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// RoomHandler serves the catch-up API of a room.
type RoomHandler struct {
	store    core.Store
	broker   *core.Broker
	presence *core.PresenceTracker
}

func NewRoomHandler(store core.Store, broker *core.Broker, presence *core.PresenceTracker) *RoomHandler {
	return &RoomHandler{store: store, broker: broker, presence: presence}
}

func (h *RoomHandler) GetMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	roomID := r.PathValue("roomID")
	query := r.URL.Query()

	var since time.Time
	if s := query.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return proto.Validationf("since must be an RFC 3339 timestamp")
		}
		since = t
	}
	limit := defaultPageSize
	if s := query.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return proto.Validationf("limit must be a positive integer")
		}
		limit = min(n, maxPageSize)
	}

	messages, err := h.store.ListMessagesSince(r.Context(), roomID, since, limit)
	if err != nil {
		return fmt.Errorf("ListMessagesSince: %w", err)
	}
	if messages == nil {
		messages = []proto.Message{}
	}
	return router.WriteJSON(w, http.StatusOK, proto.MessagesResponse{RoomID: roomID, Messages: messages})
}

// PostMessageHandler publishes a message without a websocket. It goes
// through the same broker path as a socket publish, so it is rate limited,
// sanitized and fanned out to the room.
func (h *RoomHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) error {
	identity := core.IdentityFromRequest(r)
	roomID := r.PathValue("roomID")

	var payload proto.PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return proto.Validationf("malformed body: %v", err)
	}
	defer r.Body.Close()

	origin := core.Origin{UserID: identity.UserID, RoomID: roomID}
	receipt, err := h.broker.Publish(r.Context(), origin, payload.Event(roomID))
	if err != nil {
		var rl *proto.RateLimitError
		if errors.As(err, &rl) {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		}
		return err
	}

	code := http.StatusCreated
	if receipt.Duplicate {
		code = http.StatusOK
	}
	return router.WriteJSON(w, code, proto.PostMessageResponse{
		Message:   receipt.Message,
		DraftID:   receipt.DraftID,
		Duplicate: receipt.Duplicate,
	})
}

func (h *RoomHandler) GetPresenceHandler(w http.ResponseWriter, r *http.Request) error {
	roomID := r.PathValue("roomID")
	return router.WriteJSON(w, http.StatusOK, proto.PresenceResponse{
		RoomID: roomID,
		Online: h.presence.ListOnline(roomID),
	})
}
