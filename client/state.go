package client

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/putto11262002/studyroom/pkg/proto"
)

type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

const (
	maxNotices = 50
	maxSystem  = 100
)

// MessageView is one entry of the message list.
type MessageView struct {
	proto.Message
	// TempID is the id the entry was drafted under. It is empty for
	// messages that were never drafted by this engine.
	TempID string
	// Reactions maps a reaction to the users that sent it.
	Reactions map[string][]string
}

// Pending reports whether the entry still carries its temporary id.
func (m MessageView) Pending() bool {
	return m.TempID != "" && m.ID == m.TempID
}

// Notice is an error surfaced to the user.
type Notice struct {
	Code      proto.Code
	Message   string
	MessageID string
	At        time.Time
}

// State is an immutable snapshot of an engine.
type State struct {
	Version uint64
	// Messages are ordered by creation time, then id.
	Messages         []MessageView
	TypingUsers      []string
	OnlineMembers    []string
	ConnectionStatus ConnectionStatus
	Attempt          int
	Errors           []Notice
	System           []proto.SystemEvent
}

// Message returns the entry with id, matching temporary ids as well.
func (s State) Message(id string) (MessageView, bool) {
	for _, m := range s.Messages {
		if m.ID == id || m.TempID == id {
			return m, true
		}
	}
	return MessageView{}, false
}

type entry struct {
	msg       proto.Message
	tempID    string
	reactions map[string][]string
}

// state is the reducer's mutable store. It is owned by one Engine and only
// touched under the engine's lock.
type state struct {
	userID   string
	version  uint64
	messages map[string]*entry
	// drafts maps the final id a draft will be stored under to its temp id.
	drafts  map[string]string
	typing  map[string]time.Time
	online  map[string]struct{}
	status  ConnectionStatus
	attempt int
	notices []Notice
	system  []proto.SystemEvent
}

func newState(userID string) *state {
	return &state{
		userID:   userID,
		messages: make(map[string]*entry),
		drafts:   make(map[string]string),
		typing:   make(map[string]time.Time),
		online:   make(map[string]struct{}),
		status:   StatusDisconnected,
	}
}

// action is one reducer step.
type action interface {
	apply(s *state)
}

func (s *state) dispatch(actions ...action) {
	for _, a := range actions {
		a.apply(s)
	}
	s.version++
}

// confirm merges a status reported by the server into the local one. Server
// confirmation overrides a local error, which may have been a timeout.
func confirm(local, server proto.Status) proto.Status {
	if local == proto.StatusError && server != proto.StatusError && server.Valid() {
		return server
	}
	return local.Advance(server)
}

func (s *state) rekey(e *entry, msg proto.Message) {
	delete(s.messages, e.msg.ID)
	delete(s.drafts, msg.ID)
	status := confirm(e.msg.Status, msg.Status)
	reactions := e.reactions
	// acks only carry the chat fields
	if msg.ReplyToID == "" {
		msg.ReplyToID = e.msg.ReplyToID
	}
	if len(msg.Attachments) == 0 {
		msg.Attachments = e.msg.Attachments
	}
	e.msg = msg
	e.msg.Status = status
	e.reactions = reactions
	s.messages[msg.ID] = e
}

// merge inserts msg or folds it into the entry it corresponds to.
func (s *state) merge(msg proto.Message) {
	if e, ok := s.messages[msg.ID]; ok {
		e.msg.Status = confirm(e.msg.Status, msg.Status)
		return
	}
	if tempID, ok := s.drafts[msg.ID]; ok {
		if e, ok := s.messages[tempID]; ok {
			s.rekey(e, msg)
			return
		}
	}
	if msg.Status == "" {
		msg.Status = proto.StatusSent
	}
	s.messages[msg.ID] = &entry{msg: msg}
}

func (s *state) notice(code proto.Code, msg, messageID string, at time.Time) {
	s.notices = append(s.notices, Notice{Code: code, Message: msg, MessageID: messageID, At: at})
	if len(s.notices) > maxNotices {
		s.notices = slices.Delete(s.notices, 0, len(s.notices)-maxNotices)
	}
}

// latestConfirmed is the creation time of the newest message the server
// has confirmed.
func (s *state) latestConfirmed() time.Time {
	var latest time.Time
	for _, e := range s.messages {
		if e.tempID != "" && e.msg.ID == e.tempID {
			continue
		}
		if e.msg.CreatedAt.After(latest) {
			latest = e.msg.CreatedAt
		}
	}
	return latest
}

func (s *state) snapshot() State {
	msgs := make([]MessageView, 0, len(s.messages))
	for _, e := range s.messages {
		m := e.msg
		m.Attachments = slices.Clone(m.Attachments)
		reactions := make(map[string][]string, len(e.reactions))
		for k, users := range e.reactions {
			reactions[k] = slices.Clone(users)
		}
		msgs = append(msgs, MessageView{Message: m, TempID: e.tempID, Reactions: reactions})
	}
	slices.SortFunc(msgs, func(a, b MessageView) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	return State{
		Version:          s.version,
		Messages:         msgs,
		TypingUsers:      slices.Sorted(maps.Keys(s.typing)),
		OnlineMembers:    slices.Sorted(maps.Keys(s.online)),
		ConnectionStatus: s.status,
		Attempt:          s.attempt,
		Errors:           slices.Clone(s.notices),
		System:           slices.Clone(s.system),
	}
}

type optimisticInserted struct {
	msg proto.Message
}

func (a optimisticInserted) apply(s *state) {
	msg := a.msg
	msg.Status = proto.StatusSending
	s.messages[msg.ID] = &entry{msg: msg, tempID: msg.ID}
	s.drafts[proto.DraftMessageID(s.userID, msg.ID)] = msg.ID
}

// publishAcked swaps a draft for the message the server stored.
type publishAcked struct {
	draftID string
	msg     proto.Message
}

func (a publishAcked) apply(s *state) {
	draft, hasDraft := s.messages[a.draftID]
	final, hasFinal := s.messages[a.msg.ID]
	switch {
	case hasDraft && hasFinal && draft != final:
		// the stored copy arrived first, through a poll or another tab
		delete(s.messages, a.draftID)
		delete(s.drafts, a.msg.ID)
		final.tempID = a.draftID
		final.msg.Status = confirm(final.msg.Status, a.msg.Status)
		if final.reactions == nil {
			final.reactions = draft.reactions
		}
	case hasDraft:
		s.rekey(draft, a.msg)
	case hasFinal:
		final.msg.Status = confirm(final.msg.Status, a.msg.Status)
	default:
		s.merge(a.msg)
		if e, ok := s.messages[a.msg.ID]; ok {
			e.tempID = a.draftID
		}
	}
}

type publishFailed struct {
	draftID string
	code    proto.Code
	reason  string
	at      time.Time
}

func (a publishFailed) apply(s *state) {
	if e, ok := s.messages[a.draftID]; ok {
		e.msg.Status = e.msg.Status.Advance(proto.StatusError)
	}
	s.notice(a.code, a.reason, a.draftID, a.at)
}

type retryStarted struct {
	draftID string
}

func (a retryStarted) apply(s *state) {
	if e, ok := s.messages[a.draftID]; ok && e.msg.Status == proto.StatusError {
		e.msg.Status = proto.StatusSending
	}
}

type messageReceived struct {
	msg proto.Message
}

func (a messageReceived) apply(s *state) {
	s.merge(a.msg)
}

type messagesPolled struct {
	msgs []proto.Message
}

func (a messagesPolled) apply(s *state) {
	for _, m := range a.msgs {
		s.merge(m)
	}
}

type typingChanged struct {
	userID string
	typing bool
	at     time.Time
}

func (a typingChanged) apply(s *state) {
	if a.userID == s.userID {
		return
	}
	if a.typing {
		s.typing[a.userID] = a.at
	} else {
		delete(s.typing, a.userID)
	}
}

type presenceChanged struct {
	userID string
	status proto.PresenceStatus
}

func (a presenceChanged) apply(s *state) {
	if a.status == proto.Online {
		s.online[a.userID] = struct{}{}
	} else {
		delete(s.online, a.userID)
		delete(s.typing, a.userID)
	}
}

type onlineLoaded struct {
	users []string
}

func (a onlineLoaded) apply(s *state) {
	clear(s.online)
	for _, u := range a.users {
		s.online[u] = struct{}{}
	}
}

type reactionReceived struct {
	messageID string
	userID    string
	reaction  string
}

func (a reactionReceived) apply(s *state) {
	e, ok := s.messages[a.messageID]
	if !ok {
		if tempID, isDraft := s.drafts[a.messageID]; isDraft {
			e, ok = s.messages[tempID]
		}
	}
	if !ok {
		return
	}
	if e.reactions == nil {
		e.reactions = make(map[string][]string)
	}
	users := e.reactions[a.reaction]
	if slices.Contains(users, a.userID) {
		return
	}
	users = append(users, a.userID)
	slices.Sort(users)
	e.reactions[a.reaction] = users
}

type systemReceived struct {
	event proto.SystemEvent
}

func (a systemReceived) apply(s *state) {
	s.system = append(s.system, a.event)
	if len(s.system) > maxSystem {
		s.system = slices.Delete(s.system, 0, len(s.system)-maxSystem)
	}
}

type connectionChanged struct {
	status  ConnectionStatus
	attempt int
}

func (a connectionChanged) apply(s *state) {
	s.status = a.status
	s.attempt = a.attempt
	if a.status != StatusConnected {
		clear(s.typing)
	}
}

type errorRaised struct {
	code      proto.Code
	reason    string
	messageID string
	at        time.Time
}

func (a errorRaised) apply(s *state) {
	s.notice(a.code, a.reason, a.messageID, a.at)
}
