package proto

import (
	"time"

	"github.com/google/uuid"
)

// MaxContentLength is the maximum number of characters a message may carry.
const MaxContentLength = 5000

// Status is the delivery status of a message.
// Statuses only move forward along sending -> sent -> delivered -> read.
// The one exception is Error, which can only be reached from Sending.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusError     Status = "error"
)

func (s Status) rank() int {
	switch s {
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusError || s.rank() > 0
}

// CanAdvanceTo reports whether a message in status s may move to next.
func (s Status) CanAdvanceTo(next Status) bool {
	if next == StatusError {
		return s == StatusSending
	}
	if s == StatusError {
		return false
	}
	return next.rank() > s.rank()
}

// Advance returns next if the transition is allowed, otherwise s.
func (s Status) Advance(next Status) Status {
	if s.CanAdvanceTo(next) {
		return next
	}
	return s
}

// draftNamespace scopes the ids derived from client drafts.
var draftNamespace = uuid.MustParse("5f0b9a3e-8a53-4f55-9a3f-1f6c2b7de0c4")

// DraftMessageID is the final id a message drafted as draftID by senderID is
// stored under. The same draft always maps to the same id, which makes
// retries idempotent and lets a client recognise its own drafts in a poll.
func DraftMessageID(senderID, draftID string) string {
	return uuid.NewSHA1(draftNamespace, []byte(senderID+"\x00"+draftID)).String()
}

type Attachment struct {
	FileName string `json:"fileName" validate:"required"`
	FileURL  string `json:"fileUrl" validate:"required,url"`
	FileSize int64  `json:"fileSize" validate:"gte=0"`
	FileType string `json:"fileType"`
}

// Message is a persisted chat message.
type Message struct {
	ID          string       `json:"id"`
	RoomID      string       `json:"roomId"`
	SenderID    string       `json:"senderId"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"createdAt"`
	ReplyToID   string       `json:"replyToId,omitempty"`
	Attachments []Attachment `json:"attachments"`
	Status      Status       `json:"status"`
}

// Kind derives the envelope type a message is broadcast as.
func (m Message) Kind() Type {
	switch {
	case len(m.Attachments) > 0:
		return TypeFileUpload
	case m.ReplyToID != "":
		return TypeReply
	default:
		return TypeChat
	}
}

// Event converts a stored message into the event it is pushed to clients as.
func (m Message) Event() Event {
	base := ChatEvent{
		ID:        m.ID,
		RoomID:    m.RoomID,
		UserID:    m.SenderID,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
		Status:    m.Status,
	}
	switch m.Kind() {
	case TypeFileUpload:
		return FileUploadEvent{ChatEvent: base, Attachments: m.Attachments, ReplyTo: m.ReplyToID}
	case TypeReply:
		return ReplyEvent{ChatEvent: base, ReplyTo: m.ReplyToID}
	default:
		return base
	}
}

// MessageFromEvent extracts the message carried by a chat, reply or
// file upload event. ok is false for other events.
func MessageFromEvent(e Event) (msg Message, ok bool) {
	var base ChatEvent
	switch e := e.(type) {
	case ChatEvent:
		base = e
	case ReplyEvent:
		base = e.ChatEvent
		msg.ReplyToID = e.ReplyTo
	case FileUploadEvent:
		base = e.ChatEvent
		base.Content = e.Caption()
		msg.ReplyToID = e.ReplyTo
		msg.Attachments = e.Attachments
	default:
		return msg, false
	}
	msg.ID = base.ID
	msg.RoomID = base.RoomID
	msg.SenderID = base.UserID
	msg.Content = base.Content
	msg.CreatedAt = base.Timestamp
	msg.Status = base.Status
	if msg.Attachments == nil {
		msg.Attachments = []Attachment{}
	}
	return msg, true
}

type PresenceStatus string

const (
	Online  PresenceStatus = "online"
	Offline PresenceStatus = "offline"
)

// PresenceRecord is the last known presence of a user in a room.
type PresenceRecord struct {
	UserID     string         `json:"userId"`
	RoomID     string         `json:"roomId"`
	Status     PresenceStatus `json:"status"`
	LastSeenAt time.Time      `json:"lastSeenAt"`
}

// OnlineAt reports whether the record counts as online at now, given the
// staleness window.
func (p PresenceRecord) OnlineAt(now time.Time, staleAfter time.Duration) bool {
	return p.Status == Online && now.Sub(p.LastSeenAt) <= staleAfter
}
