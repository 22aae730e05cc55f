package client

import (
	"testing"
	"time"

	"github.com/putto11262002/studyroom/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func draft(id, content string, at time.Time) proto.Message {
	return proto.Message{
		ID:          id,
		RoomID:      "room1",
		SenderID:    "alice",
		Content:     content,
		CreatedAt:   at,
		Attachments: []proto.Attachment{},
	}
}

func ackMessage(draftID, content string, at time.Time) proto.Message {
	m := stored(proto.DraftMessageID("alice", draftID), "alice", content, at)
	return m
}

func TestStateOptimisticSwap(t *testing.T) {
	s := newState("alice")
	s.dispatch(optimisticInserted{msg: draft("tmp_1", "hi", t0)})

	snap := s.snapshot()
	require.Len(t, snap.Messages, 1)
	m := snap.Messages[0]
	assert.Equal(t, proto.StatusSending, m.Status)
	assert.True(t, m.Pending())
	assert.Equal(t, "tmp_1", m.TempID)

	final := ackMessage("tmp_1", "hi", t0.Add(time.Millisecond))
	s.dispatch(publishAcked{draftID: "tmp_1", msg: final})

	snap = s.snapshot()
	require.Len(t, snap.Messages, 1)
	m = snap.Messages[0]
	assert.Equal(t, final.ID, m.ID)
	assert.Equal(t, "tmp_1", m.TempID)
	assert.False(t, m.Pending())
	assert.Equal(t, proto.StatusSent, m.Status)

	byTemp, ok := snap.Message("tmp_1")
	require.True(t, ok)
	assert.Equal(t, final.ID, byTemp.ID)
}

func TestStateDedupPushAndPoll(t *testing.T) {
	s := newState("alice")
	m := stored("m1", "bob", "hello", t0)

	s.dispatch(messageReceived{msg: m})
	s.dispatch(messagesPolled{msgs: []proto.Message{m, m}})
	s.dispatch(messageReceived{msg: m})

	snap := s.snapshot()
	assert.Equal(t, []string{"m1"}, ids(snap))
}

func TestStatePollBeforeAck(t *testing.T) {
	s := newState("alice")
	s.dispatch(optimisticInserted{msg: draft("tmp_1", "hi", t0)})

	final := ackMessage("tmp_1", "hi", t0.Add(time.Millisecond))
	// the poll sees the stored copy before the ack arrives
	s.dispatch(messagesPolled{msgs: []proto.Message{final}})
	snap := s.snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, final.ID, snap.Messages[0].ID)
	assert.Equal(t, "tmp_1", snap.Messages[0].TempID)

	final.Status = proto.StatusDelivered
	s.dispatch(publishAcked{draftID: "tmp_1", msg: final})
	snap = s.snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, proto.StatusDelivered, snap.Messages[0].Status)
}

func TestStateAckForUnknownDraft(t *testing.T) {
	s := newState("alice")
	final := ackMessage("tmp_9", "from another tab", t0)
	s.dispatch(publishAcked{draftID: "tmp_9", msg: final})

	snap := s.snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "tmp_9", snap.Messages[0].TempID)
	assert.Equal(t, final.ID, snap.Messages[0].ID)
}

func TestStateFailureKeepsDraft(t *testing.T) {
	s := newState("alice")
	s.dispatch(optimisticInserted{msg: draft("tmp_1", "hi", t0)})
	s.dispatch(publishFailed{draftID: "tmp_1", code: proto.CodeRateLimited, reason: "slow down", at: t0})

	snap := s.snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, proto.StatusError, snap.Messages[0].Status)
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, Notice{Code: proto.CodeRateLimited, Message: "slow down", MessageID: "tmp_1", At: t0}, snap.Errors[0])

	s.dispatch(retryStarted{draftID: "tmp_1"})
	assert.Equal(t, proto.StatusSending, s.snapshot().Messages[0].Status)

	// a late ack wins over a timeout
	s.dispatch(publishFailed{draftID: "tmp_1", code: proto.CodeConnectionLost, reason: "timeout", at: t0})
	s.dispatch(publishAcked{draftID: "tmp_1", msg: ackMessage("tmp_1", "hi", t0)})
	assert.Equal(t, proto.StatusSent, s.snapshot().Messages[0].Status)
}

func TestStateStatusNeverRegresses(t *testing.T) {
	s := newState("alice")
	m := stored("m1", "bob", "hello", t0)
	m.Status = proto.StatusRead
	s.dispatch(messageReceived{msg: m})

	m.Status = proto.StatusSent
	s.dispatch(messagesPolled{msgs: []proto.Message{m}})
	assert.Equal(t, proto.StatusRead, s.snapshot().Messages[0].Status)
}

func TestStateAckKeepsAttachments(t *testing.T) {
	s := newState("alice")
	d := draft("tmp_1", "notes", t0)
	d.ReplyToID = "m0"
	d.Attachments = []proto.Attachment{{FileName: "a.pdf", FileURL: "https://files.example.com/a.pdf", FileSize: 10}}
	s.dispatch(optimisticInserted{msg: d})

	s.dispatch(publishAcked{draftID: "tmp_1", msg: ackMessage("tmp_1", "notes", t0)})

	m := s.snapshot().Messages[0]
	assert.Equal(t, "m0", m.ReplyToID)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "a.pdf", m.Attachments[0].FileName)
}

func TestStateOrdering(t *testing.T) {
	s := newState("alice")
	s.dispatch(messagesPolled{msgs: []proto.Message{
		stored("c", "bob", "3", t0.Add(2*time.Second)),
		stored("b", "bob", "2", t0.Add(time.Second)),
		stored("a2", "bob", "1b", t0),
		stored("a1", "bob", "1a", t0),
	}})
	assert.Equal(t, []string{"a1", "a2", "b", "c"}, ids(s.snapshot()))
}

func TestStateTypingAndPresence(t *testing.T) {
	s := newState("alice")
	s.dispatch(
		typingChanged{userID: "bob", typing: true, at: t0},
		typingChanged{userID: "alice", typing: true, at: t0},
		typingChanged{userID: "carol", typing: true, at: t0},
	)
	assert.Equal(t, []string{"bob", "carol"}, s.snapshot().TypingUsers)

	s.dispatch(onlineLoaded{users: []string{"carol", "bob"}})
	assert.Equal(t, []string{"bob", "carol"}, s.snapshot().OnlineMembers)

	s.dispatch(presenceChanged{userID: "bob", status: proto.Offline})
	snap := s.snapshot()
	assert.Equal(t, []string{"carol"}, snap.OnlineMembers)
	assert.Equal(t, []string{"carol"}, snap.TypingUsers)

	s.dispatch(connectionChanged{status: StatusReconnecting, attempt: 1})
	snap = s.snapshot()
	assert.Empty(t, snap.TypingUsers)
	assert.Equal(t, 1, snap.Attempt)
}

func TestStateReactions(t *testing.T) {
	s := newState("alice")
	s.dispatch(optimisticInserted{msg: draft("tmp_1", "hi", t0)})
	final := proto.DraftMessageID("alice", "tmp_1")

	// reactions may reference the final id before the ack arrives
	s.dispatch(
		reactionReceived{messageID: final, userID: "bob", reaction: "👍"},
		reactionReceived{messageID: final, userID: "bob", reaction: "👍"},
		reactionReceived{messageID: "tmp_1", userID: "carol", reaction: "👍"},
		reactionReceived{messageID: "missing", userID: "carol", reaction: "👍"},
	)
	s.dispatch(publishAcked{draftID: "tmp_1", msg: ackMessage("tmp_1", "hi", t0)})

	m := s.snapshot().Messages[0]
	assert.Equal(t, map[string][]string{"👍": {"bob", "carol"}}, m.Reactions)
}

func TestStateNoticeCap(t *testing.T) {
	s := newState("alice")
	for i := 0; i < maxNotices+10; i++ {
		s.dispatch(errorRaised{code: proto.CodeInternal, reason: "boom", at: t0.Add(time.Duration(i) * time.Second)})
	}
	snap := s.snapshot()
	require.Len(t, snap.Errors, maxNotices)
	assert.Equal(t, t0.Add(10*time.Second), snap.Errors[0].At)
}

func TestStateSnapshotIsolation(t *testing.T) {
	s := newState("alice")
	s.dispatch(messageReceived{msg: stored("m1", "bob", "hello", t0)})
	s.dispatch(reactionReceived{messageID: "m1", userID: "carol", reaction: "🎉"})

	snap := s.snapshot()
	snap.Messages[0].Reactions["🎉"][0] = "mallory"
	snap.Messages[0].Content = "changed"

	again := s.snapshot()
	assert.Equal(t, "hello", again.Messages[0].Content)
	assert.Equal(t, []string{"carol"}, again.Messages[0].Reactions["🎉"])
	assert.Greater(t, again.Version, uint64(0))
}

func TestStateLatestConfirmed(t *testing.T) {
	s := newState("alice")
	assert.True(t, s.latestConfirmed().IsZero())

	s.dispatch(messageReceived{msg: stored("m1", "bob", "hello", t0)})
	s.dispatch(optimisticInserted{msg: draft("tmp_1", "later", t0.Add(time.Minute))})
	assert.Equal(t, t0, s.latestConfirmed())
}
