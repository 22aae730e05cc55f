package proto

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Type discriminates the variants of the wire envelope.
type Type string

const (
	TypeChat        Type = "chat"
	TypeTypingStart Type = "typing_start"
	TypeTypingStop  Type = "typing_stop"
	TypeReaction    Type = "reaction"
	TypeReply       Type = "reply"
	TypeFileUpload  Type = "file_upload"
	TypePresence    Type = "presence"
	TypeSystem      Type = "system"
	TypeError       Type = "error"
)

// Envelope is the flat JSON shape every event travels in.
// Which fields are meaningful depends on Type.
type Envelope struct {
	Type        Type         `json:"type"`
	ID          string       `json:"id,omitempty"`
	RoomID      string       `json:"roomId"`
	UserID      string       `json:"userId,omitempty"`
	Content     string       `json:"content,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	ReplyTo     string       `json:"replyTo,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	MessageID   string       `json:"messageId,omitempty"`
	Reaction    string       `json:"reaction,omitempty"`
	FileName    string       `json:"fileName,omitempty"`
	FileURL     string       `json:"fileUrl,omitempty"`
	FileSize    int64        `json:"fileSize,omitempty"`
	FileType    string       `json:"fileType,omitempty"`
	// Status is a message status, a presence status or an error code,
	// depending on Type.
	Status string `json:"status,omitempty"`
}

// Event is the decoded form of an Envelope. The set of implementations is
// closed: ChatEvent, ReplyEvent, FileUploadEvent, TypingEvent, ReactionEvent,
// PresenceEvent, SystemEvent and ErrorEvent.
type Event interface {
	Type() Type
	Envelope() Envelope
	// Validate checks the fields a client must supply for the event to be accepted.
	Validate() error
	event()
}

// ChatEvent is a plain text message. When sent by the server to the author
// it acknowledges a draft: ID holds the final id and MessageID the draft id.
type ChatEvent struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content" validate:"max=5000"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	MessageID string    `json:"messageId"`
}

type ReplyEvent struct {
	ChatEvent
	ReplyTo string `json:"replyTo" validate:"required"`
}

type FileUploadEvent struct {
	ChatEvent
	ReplyTo     string       `json:"replyTo"`
	Attachments []Attachment `json:"attachments" validate:"required,min=1,dive"`
}

// TypingEvent is typing_start when Typing is true and typing_stop otherwise.
type TypingEvent struct {
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Typing    bool      `json:"typing"`
	Timestamp time.Time `json:"timestamp"`
}

type ReactionEvent struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	MessageID string    `json:"messageId" validate:"required"`
	Reaction  string    `json:"reaction" validate:"required,max=32"`
	Timestamp time.Time `json:"timestamp"`
}

type PresenceEvent struct {
	RoomID    string         `json:"roomId"`
	UserID    string         `json:"userId"`
	Status    PresenceStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

type SystemEvent struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorEvent struct {
	RoomID  string `json:"roomId"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
	// MessageID references the draft that caused the error, if any.
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

func (ChatEvent) event()       {}
func (ReplyEvent) event()      {}
func (FileUploadEvent) event() {}
func (TypingEvent) event()     {}
func (ReactionEvent) event()   {}
func (PresenceEvent) event()   {}
func (SystemEvent) event()     {}
func (ErrorEvent) event()      {}

func (ChatEvent) Type() Type       { return TypeChat }
func (ReplyEvent) Type() Type      { return TypeReply }
func (FileUploadEvent) Type() Type { return TypeFileUpload }
func (ReactionEvent) Type() Type   { return TypeReaction }
func (PresenceEvent) Type() Type   { return TypePresence }
func (SystemEvent) Type() Type     { return TypeSystem }
func (ErrorEvent) Type() Type      { return TypeError }

func (e TypingEvent) Type() Type {
	if e.Typing {
		return TypeTypingStart
	}
	return TypeTypingStop
}

func (e ChatEvent) Envelope() Envelope {
	return Envelope{
		Type:      TypeChat,
		ID:        e.ID,
		RoomID:    e.RoomID,
		UserID:    e.UserID,
		Content:   e.Content,
		Timestamp: e.Timestamp,
		Status:    string(e.Status),
		MessageID: e.MessageID,
	}
}

func (e ReplyEvent) Envelope() Envelope {
	env := e.ChatEvent.Envelope()
	env.Type = TypeReply
	env.ReplyTo = e.ReplyTo
	return env
}

func (e FileUploadEvent) Envelope() Envelope {
	env := e.ChatEvent.Envelope()
	env.Type = TypeFileUpload
	env.ReplyTo = e.ReplyTo
	env.Attachments = e.Attachments
	if len(e.Attachments) > 0 {
		first := e.Attachments[0]
		env.FileName = first.FileName
		env.FileURL = first.FileURL
		env.FileSize = first.FileSize
		env.FileType = first.FileType
	}
	return env
}

func (e TypingEvent) Envelope() Envelope {
	return Envelope{Type: e.Type(), RoomID: e.RoomID, UserID: e.UserID, Timestamp: e.Timestamp}
}

func (e ReactionEvent) Envelope() Envelope {
	return Envelope{
		Type:      TypeReaction,
		ID:        e.ID,
		RoomID:    e.RoomID,
		UserID:    e.UserID,
		MessageID: e.MessageID,
		Reaction:  e.Reaction,
		Timestamp: e.Timestamp,
	}
}

func (e PresenceEvent) Envelope() Envelope {
	return Envelope{
		Type:      TypePresence,
		RoomID:    e.RoomID,
		UserID:    e.UserID,
		Status:    string(e.Status),
		Timestamp: e.Timestamp,
	}
}

func (e SystemEvent) Envelope() Envelope {
	return Envelope{
		Type:      TypeSystem,
		ID:        e.ID,
		RoomID:    e.RoomID,
		UserID:    e.UserID,
		Content:   e.Content,
		Timestamp: e.Timestamp,
	}
}

func (e ErrorEvent) Envelope() Envelope {
	return Envelope{
		Type:      TypeError,
		RoomID:    e.RoomID,
		Content:   e.Message,
		Status:    string(e.Code),
		MessageID: e.MessageID,
		Timestamp: e.Timestamp,
	}
}

func (e ChatEvent) Validate() error {
	if strings.TrimSpace(e.Content) == "" {
		return Validationf("content is required")
	}
	return validateStruct(e)
}

func (e ReplyEvent) Validate() error {
	if err := e.ChatEvent.Validate(); err != nil {
		return err
	}
	return validateStruct(e)
}

func (e FileUploadEvent) Validate() error {
	if err := validateStruct(e); err != nil {
		return err
	}
	if strings.TrimSpace(e.Caption()) == "" {
		return Validationf("content is required")
	}
	return nil
}

// Caption is the content of the upload, or the name of its first file when
// the sender wrote none.
func (e FileUploadEvent) Caption() string {
	if strings.TrimSpace(e.Content) == "" && len(e.Attachments) > 0 {
		return e.Attachments[0].FileName
	}
	return e.Content
}

func (e TypingEvent) Validate() error { return nil }

func (e ReactionEvent) Validate() error {
	return validateStruct(e)
}

func (e PresenceEvent) Validate() error { return nil }

func (e SystemEvent) Validate() error {
	return Validationf("system events can only be sent by the server")
}

func (e ErrorEvent) Validate() error {
	return Validationf("error events can only be sent by the server")
}

// Event converts the envelope into its typed variant.
func (env Envelope) Event() (Event, error) {
	chat := ChatEvent{
		ID:        env.ID,
		RoomID:    env.RoomID,
		UserID:    env.UserID,
		Content:   env.Content,
		Timestamp: env.Timestamp,
		Status:    Status(env.Status),
		MessageID: env.MessageID,
	}
	switch env.Type {
	case TypeChat:
		return chat, nil
	case TypeReply:
		return ReplyEvent{ChatEvent: chat, ReplyTo: env.ReplyTo}, nil
	case TypeFileUpload:
		attachments := env.Attachments
		if len(attachments) == 0 && env.FileURL != "" {
			attachments = []Attachment{{
				FileName: env.FileName,
				FileURL:  env.FileURL,
				FileSize: env.FileSize,
				FileType: env.FileType,
			}}
		}
		return FileUploadEvent{ChatEvent: chat, ReplyTo: env.ReplyTo, Attachments: attachments}, nil
	case TypeTypingStart, TypeTypingStop:
		return TypingEvent{
			RoomID:    env.RoomID,
			UserID:    env.UserID,
			Typing:    env.Type == TypeTypingStart,
			Timestamp: env.Timestamp,
		}, nil
	case TypeReaction:
		return ReactionEvent{
			ID:        env.ID,
			RoomID:    env.RoomID,
			UserID:    env.UserID,
			MessageID: env.MessageID,
			Reaction:  env.Reaction,
			Timestamp: env.Timestamp,
		}, nil
	case TypePresence:
		return PresenceEvent{
			RoomID:    env.RoomID,
			UserID:    env.UserID,
			Status:    PresenceStatus(env.Status),
			Timestamp: env.Timestamp,
		}, nil
	case TypeSystem:
		return SystemEvent{
			ID:        env.ID,
			RoomID:    env.RoomID,
			UserID:    env.UserID,
			Content:   env.Content,
			Timestamp: env.Timestamp,
		}, nil
	case TypeError:
		return ErrorEvent{
			RoomID:    env.RoomID,
			Code:      Code(env.Status),
			Message:   env.Content,
			MessageID: env.MessageID,
			Timestamp: env.Timestamp,
		}, nil
	default:
		return nil, Validationf("unsupported event type %q", env.Type)
	}
}

// Decode reads one envelope from r and returns its typed event.
func Decode(r io.Reader) (Event, error) {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, Validationf("malformed envelope: %v", err)
	}
	return env.Event()
}

// Unmarshal is Decode for an in-memory payload.
func Unmarshal(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, Validationf("malformed envelope: %v", err)
	}
	return env.Event()
}

func Encode(w io.Writer, e Event) error {
	if err := json.NewEncoder(w).Encode(e.Envelope()); err != nil {
		return fmt.Errorf("encode %s envelope: %w", e.Type(), err)
	}
	return nil
}

func Marshal(e Event) ([]byte, error) {
	data, err := json.Marshal(e.Envelope())
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", e.Type(), err)
	}
	return data, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return Validationf("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "min":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid url", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return Validationf("%s", strings.Join(msgs, "; "))
}
