package proto

import "time"

// Bodies of the HTTP catch-up API.

type MessagesResponse struct {
	RoomID   string    `json:"roomId"`
	Messages []Message `json:"messages"`
}

type PostMessageRequest struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	ReplyTo     string       `json:"replyTo,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Event returns the variant of the envelope the request corresponds to.
func (r PostMessageRequest) Event(roomID string) Event {
	base := ChatEvent{ID: r.ID, RoomID: roomID, Content: r.Content}
	switch {
	case len(r.Attachments) > 0:
		return FileUploadEvent{ChatEvent: base, ReplyTo: r.ReplyTo, Attachments: r.Attachments}
	case r.ReplyTo != "":
		return ReplyEvent{ChatEvent: base, ReplyTo: r.ReplyTo}
	default:
		return base
	}
}

type PostMessageResponse struct {
	Message   Message `json:"message"`
	DraftID   string  `json:"draftId,omitempty"`
	Duplicate bool    `json:"duplicate"`
}

type PresenceResponse struct {
	RoomID string   `json:"roomId"`
	Online []string `json:"online"`
}

type NamesResponse struct {
	Names map[string]string `json:"names"`
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Connections int       `json:"connections"`
	Rooms       int       `json:"rooms"`
	Timestamp   time.Time `json:"timestamp"`
}
