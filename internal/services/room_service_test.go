package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereayou/wizard-rooms/internal/models"
)

var ctx = context.Background()

// roomEvents отбрасывает глобальные active_users, чтобы проверять порядок событий комнаты
func roomEvents(events []models.Event) []models.EventType {
	var out []models.EventType
	for _, e := range events {
		if e.Type != models.EventActiveUsers {
			out = append(out, e.Type)
		}
	}
	return out
}

func join(t *testing.T, f *fixture, connID, code, name string, createNew bool) *JoinResult {
	t.Helper()
	res, err := f.svc.CreateOrJoin(ctx, connID, JoinRequest{RoomCode: code, UserName: name, CreateNew: createNew})
	require.NoError(t, err)
	return res
}

func TestCreateOrJoin_CreatesRoomWithCallerAsHost(t *testing.T) {
	f := newFixture()

	res := join(t, f, "a", "math-1", "Alice", true)

	assert.True(t, res.Created)
	assert.Equal(t, "MATH-1", res.Snapshot.RoomCode)
	assert.Equal(t, res.UserID, res.Snapshot.HostID)
	require.Len(t, res.Snapshot.Participants, 1)
	assert.True(t, res.Snapshot.Participants[0].IsHost)
	assert.NotEmpty(t, res.Token)

	room := f.room("MATH-1")
	require.NotNil(t, room)
	assert.Equal(t, models.RoomActive, room.State)
	assert.Equal(t, 1, f.presence.ActiveUserCount())

	assert.Equal(t, []models.EventType{models.EventActiveUsers, models.EventRoomJoined}, types(f.hub.received("a")))
}

func TestCreateOrJoin_MissingRoomHasNoSideEffects(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateOrJoin(ctx, "a", JoinRequest{RoomCode: "NOPE", UserName: "Alice"})

	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Nil(t, f.room("NOPE"))
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 0, f.presence.ActiveUserCount())
	assert.Empty(t, f.hub.received("a"))
}

func TestCreateOrJoin_Validation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateOrJoin(ctx, "a", JoinRequest{RoomCode: "MATH-1", UserName: "  "})
	assert.ErrorIs(t, err, ErrInvalidUserName)

	_, err = f.svc.CreateOrJoin(ctx, "a", JoinRequest{RoomCode: "bad code!", UserName: "Alice", CreateNew: true})
	assert.ErrorIs(t, err, ErrInvalidRoomCode)

	_, err = f.svc.CreateOrJoin(ctx, "a", JoinRequest{UserName: "Alice"})
	assert.ErrorIs(t, err, ErrInvalidRoomCode)
}

func TestCreateOrJoin_GeneratesCode(t *testing.T) {
	f := newFixture()

	res := join(t, f, "a", "", "Alice", true)

	assert.Len(t, res.Snapshot.RoomCode, generatedCodeLen)
	assert.Regexp(t, `^[A-Z0-9]+$`, res.Snapshot.RoomCode)
	assert.NotNil(t, f.room(res.Snapshot.RoomCode))
}

func TestCreateOrJoin_CodesAreCaseInsensitive(t *testing.T) {
	f := newFixture()

	host := join(t, f, "a", "math-1", "Alice", true)
	guest := join(t, f, "b", " Math-1 ", "Bob", false)

	assert.False(t, guest.Created)
	assert.Equal(t, host.Snapshot.RoomCode, guest.Snapshot.RoomCode)
	assert.Len(t, f.room("MATH-1").Participants, 2)
}

func TestCreateOrJoin_CreateNewOnExistingRoomJoins(t *testing.T) {
	f := newFixture()

	host := join(t, f, "a", "MATH-1", "Alice", true)
	guest := join(t, f, "b", "MATH-1", "Bob", true)

	assert.False(t, guest.Created)
	assert.Equal(t, host.UserID, f.room("MATH-1").HostID)
}

// A создает комнату, B входит, A пишет в чат и отключается
func TestRoomScenario_HostDisconnectPromotesGuest(t *testing.T) {
	f := newFixture()

	alice := join(t, f, "a", "MATH-1", "Alice", true)
	bob := join(t, f, "b", "MATH-1", "Bob", false)

	require.Len(t, bob.Snapshot.Participants, 2)
	assert.Equal(t, alice.UserID, bob.Snapshot.HostID)

	_, err := f.svc.SendChat(ctx, "a", "MATH-1", "2+2=4")
	require.NoError(t, err)

	assert.Equal(t, []models.EventType{
		models.EventRoomJoined,
		models.EventParticipantJoined,
		models.EventChatMessage,
	}, roomEvents(f.hub.received("a")))

	f.svc.DisconnectTransport(ctx, "a")

	assert.Equal(t, []models.EventType{
		models.EventRoomJoined,
		models.EventChatMessage,
		models.EventParticipantLeft,
		models.EventHostChanged,
	}, roomEvents(f.hub.received("b")))

	room := f.room("MATH-1")
	require.NotNil(t, room)
	assert.Equal(t, bob.UserID, room.HostID)
	assert.False(t, room.Participant(alice.UserID).Active)
	assert.Equal(t, models.RoomActive, room.State)
	assert.Equal(t, 1, f.presence.ActiveUserCount())
	assert.Equal(t, 1, f.hub.count(models.EventHostChanged))
}

func TestLeave_PromotesEarliestJoined(t *testing.T) {
	f := newFixture()

	join(t, f, "a", "MATH-1", "Alice", true)
	bob := join(t, f, "b", "MATH-1", "Bob", false)
	join(t, f, "c", "MATH-1", "Carol", false)

	require.NoError(t, f.svc.LeaveConnection(ctx, "a", "MATH-1"))

	room := f.room("MATH-1")
	assert.Equal(t, bob.UserID, room.HostID)
	hosts := 0
	for _, p := range room.Participants {
		if p.IsHost {
			hosts++
		}
	}
	assert.Equal(t, 1, hosts)
	assert.Equal(t, 1, f.hub.count(models.EventHostChanged))
}

func TestLeave_NonHostKeepsHost(t *testing.T) {
	f := newFixture()

	alice := join(t, f, "a", "MATH-1", "Alice", true)
	bob := join(t, f, "b", "MATH-1", "Bob", false)

	require.NoError(t, f.svc.Leave(ctx, "MATH-1", bob.UserID))

	assert.Equal(t, alice.UserID, f.room("MATH-1").HostID)
	assert.Equal(t, 0, f.hub.count(models.EventHostChanged))
	_, bound := f.presence.UserFor("b", "MATH-1")
	assert.False(t, bound)

	// повторный выход ничего не меняет
	require.NoError(t, f.svc.Leave(ctx, "MATH-1", bob.UserID))
	assert.Equal(t, 1, f.hub.count(models.EventParticipantLeft))
}

func TestLeave_UnknownRoomOrUser(t *testing.T) {
	f := newFixture()

	assert.ErrorIs(t, f.svc.Leave(ctx, "NOPE", "u1"), ErrRoomNotFound)

	join(t, f, "a", "MATH-1", "Alice", true)
	assert.ErrorIs(t, f.svc.Leave(ctx, "MATH-1", "stranger"), ErrNotInRoom)
	assert.ErrorIs(t, f.svc.LeaveConnection(ctx, "zzz", "MATH-1"), ErrNotInRoom)
}

func TestLastLeave_SchedulesClosureAndExpiryDeletes(t *testing.T) {
	f := newFixture()

	alice := join(t, f, "a", "MATH-1", "Alice", true)
	f.svc.DisconnectTransport(ctx, "a")

	room := f.room("MATH-1")
	require.NotNil(t, room, "room survives the grace period")
	assert.Equal(t, models.RoomClosing, room.State)
	assert.NotNil(t, room.ClosingSince)

	job := f.scheduler.last()
	assert.Equal(t, "MATH-1", job.code)
	assert.Equal(t, room.ClosingGeneration, job.generation)
	assert.Equal(t, 30*time.Second, job.delay)

	require.NoError(t, f.svc.ExpireRoom(ctx, job.code, job.generation))
	assert.Nil(t, f.room("MATH-1"))
	assert.Equal(t, 1, f.hub.count(models.EventRoomClosed))

	_, err := f.store.UserRoom(ctx, alice.UserID)
	assert.Error(t, err)

	// повторная доставка задачи безопасна
	require.NoError(t, f.svc.ExpireRoom(ctx, job.code, job.generation))
	assert.Equal(t, 1, f.hub.count(models.EventRoomClosed))
}

func TestJoinDuringGrace_CancelsClosure(t *testing.T) {
	f := newFixture()

	join(t, f, "a", "MATH-1", "Alice", true)
	f.svc.DisconnectTransport(ctx, "a")
	job := f.scheduler.last()

	bob := join(t, f, "b", "MATH-1", "Bob", false)

	room := f.room("MATH-1")
	assert.Equal(t, models.RoomActive, room.State)
	assert.Nil(t, room.ClosingSince)
	assert.Equal(t, bob.UserID, room.HostID)
	assert.Contains(t, f.scheduler.cancelled, "MATH-1")
	assert.Contains(t, roomEvents(f.hub.received("b")), models.EventHostChanged)

	require.NoError(t, f.svc.ExpireRoom(ctx, job.code, job.generation))
	assert.NotNil(t, f.room("MATH-1"), "cancelled closure must not delete the room")
}

func TestHostReturnsDuringGrace_StaysHost(t *testing.T) {
	f := newFixture()

	alice := join(t, f, "a", "MATH-1", "Alice", true)
	f.svc.DisconnectTransport(ctx, "a")
	f.hub.reset()

	again := join(t, f, "a2", "MATH-1", "alice", false)

	assert.Equal(t, alice.UserID, again.UserID)
	assert.Equal(t, alice.UserID, f.room("MATH-1").HostID)
	assert.Equal(t, 0, f.hub.count(models.EventHostChanged))
}

func TestExpireRoom_StaleGenerationIsIgnored(t *testing.T) {
	f := newFixture()

	alice := join(t, f, "a", "MATH-1", "Alice", true)
	require.NoError(t, f.svc.Leave(ctx, "MATH-1", alice.UserID))
	first := f.scheduler.last()

	join(t, f, "a", "MATH-1", "Alice", false)
	require.NoError(t, f.svc.Leave(ctx, "MATH-1", alice.UserID))
	second := f.scheduler.last()
	require.NotEqual(t, first.generation, second.generation)

	require.NoError(t, f.svc.ExpireRoom(ctx, "MATH-1", first.generation))
	assert.NotNil(t, f.room("MATH-1"))

	require.NoError(t, f.svc.ExpireRoom(ctx, "MATH-1", second.generation))
	assert.Nil(t, f.room("MATH-1"))
}

func TestZeroGrace_DeletesImmediately(t *testing.T) {
	f := newFixture()
	f.svc.closeGrace = 0

	join(t, f, "a", "MATH-1", "Alice", true)
	f.svc.DisconnectTransport(ctx, "a")

	assert.Nil(t, f.room("MATH-1"))
	assert.Empty(t, f.scheduler.scheduled)
}

func TestTwoTabs_CountOnceAndStayActive(t *testing.T) {
	f := newFixture()

	first := join(t, f, "tab1", "MATH-1", "Alice", true)
	second := join(t, f, "tab2", "MATH-1", "Alice", false)

	assert.Equal(t, first.UserID, second.UserID)
	assert.Equal(t, 1, f.presence.ActiveUserCount())
	assert.Equal(t, 0, f.hub.count(models.EventParticipantJoined))

	f.svc.DisconnectTransport(ctx, "tab1")

	room := f.room("MATH-1")
	assert.True(t, room.Participant(first.UserID).Active)
	assert.Equal(t, 0, f.hub.count(models.EventParticipantLeft))

	f.svc.DisconnectTransport(ctx, "tab2")
	assert.False(t, f.room("MATH-1").Participant(first.UserID).Active)
	assert.Equal(t, 0, f.presence.ActiveUserCount())
}

func TestRejoinToken_ReusesUserID(t *testing.T) {
	f := newFixture()

	join(t, f, "a", "MATH-1", "Alice", true)
	bob := join(t, f, "b", "MATH-1", "Bob", false)
	f.svc.DisconnectTransport(ctx, "b")

	res, err := f.svc.CreateOrJoin(ctx, "b2", JoinRequest{
		RoomCode: "MATH-1",
		UserName: "Robert",
		Token:    bob.Token,
	})
	require.NoError(t, err)

	assert.Equal(t, bob.UserID, res.UserID)
	assert.Len(t, f.room("MATH-1").Participants, 2)
	assert.Equal(t, "Robert", f.room("MATH-1").Participant(bob.UserID).UserName)
}

func TestRejoinToken_ForOtherRoomIsIgnored(t *testing.T) {
	f := newFixture()

	other := join(t, f, "x", "OTHER", "Zed", true)
	join(t, f, "a", "MATH-1", "Alice", true)

	res, err := f.svc.CreateOrJoin(ctx, "b", JoinRequest{RoomCode: "MATH-1", UserName: "Bob", Token: other.Token})
	require.NoError(t, err)
	assert.NotEqual(t, other.UserID, res.UserID)
}

func TestPasswordProtectedRoom(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateOrJoin(ctx, "a", JoinRequest{RoomCode: "SECRET", UserName: "Alice", CreateNew: true, Password: "pi314"})
	require.NoError(t, err)
	assert.NotEqual(t, "pi314", f.room("SECRET").PasswordHash)

	_, err = f.svc.CreateOrJoin(ctx, "b", JoinRequest{RoomCode: "SECRET", UserName: "Bob", Password: "wrong"})
	assert.ErrorIs(t, err, ErrWrongPassword)

	_, err = f.svc.CreateOrJoin(ctx, "b", JoinRequest{RoomCode: "SECRET", UserName: "Bob", Password: "pi314"})
	assert.NoError(t, err)
}

func TestAuthorize(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateOrJoin(ctx, "a", JoinRequest{RoomCode: "SECRET", UserName: "Alice", CreateNew: true, Password: "pi314"})
	require.NoError(t, err)
	_, err = f.svc.CreateOrJoin(ctx, "b", JoinRequest{RoomCode: "OPEN", UserName: "Bob", CreateNew: true})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Authorize(ctx, "secret", ""), ErrWrongPassword)
	assert.ErrorIs(t, f.svc.Authorize(ctx, "SECRET", "nope"), ErrWrongPassword)
	assert.NoError(t, f.svc.Authorize(ctx, "SECRET", "pi314"))
	assert.NoError(t, f.svc.Authorize(ctx, "OPEN", ""))
	assert.ErrorIs(t, f.svc.Authorize(ctx, "MISSING", ""), ErrRoomNotFound)
}

func TestRejoinSameConnectionWithNewName_ReleasesOldUser(t *testing.T) {
	f := newFixture()

	join(t, f, "h", "MATH-1", "Host", true)
	first := join(t, f, "a", "MATH-1", "Alice", false)
	second := join(t, f, "a", "MATH-1", "Alicia", false)

	require.NotEqual(t, first.UserID, second.UserID)
	room := f.room("MATH-1")
	assert.False(t, room.Participant(first.UserID).Active)
	assert.True(t, room.Participant(second.UserID).Active)
	assert.Equal(t, 2, f.presence.ActiveUserCount())
}

func TestSendChat(t *testing.T) {
	f := newFixture()
	join(t, f, "a", "MATH-1", "Alice", true)

	msg, err := f.svc.SendChat(ctx, "a", "math-1", "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Message)
	assert.Equal(t, "Alice", msg.UserName)
	assert.NotEmpty(t, msg.ID)

	_, err = f.svc.SendChat(ctx, "a", "MATH-1", "   ")
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = f.svc.SendChat(ctx, "stranger", "MATH-1", "hi")
	assert.ErrorIs(t, err, ErrNotInRoom)

	assert.Len(t, f.room("MATH-1").ChatMessages, 1)
}

func TestDraw_ClearIsHostOnlyAndReplayStartsAtClear(t *testing.T) {
	f := newFixture()
	join(t, f, "a", "MATH-1", "Alice", true)
	join(t, f, "b", "MATH-1", "Bob", false)

	pen := DrawInput{Type: models.DrawPen, Points: []models.Point{{X: 1, Y: 2}}, Color: "#000"}

	_, err := f.svc.Draw(ctx, "b", "MATH-1", pen)
	require.NoError(t, err)

	_, err = f.svc.Draw(ctx, "b", "MATH-1", DrawInput{Type: models.DrawClear})
	assert.ErrorIs(t, err, ErrNotHost)

	_, err = f.svc.Draw(ctx, "a", "MATH-1", DrawInput{Type: models.DrawClear})
	require.NoError(t, err)
	_, err = f.svc.Draw(ctx, "a", "MATH-1", pen)
	require.NoError(t, err)

	assert.Len(t, f.room("MATH-1").DrawEvents, 3, "the log keeps everything")

	snap, err := f.svc.Snapshot(ctx, "MATH-1")
	require.NoError(t, err)
	require.Len(t, snap.DrawEvents, 2)
	assert.Equal(t, models.DrawClear, snap.DrawEvents[0].Type)
	assert.Equal(t, models.DrawPen, snap.DrawEvents[1].Type)
}

func TestDraw_Validation(t *testing.T) {
	f := newFixture()
	join(t, f, "a", "MATH-1", "Alice", true)

	_, err := f.svc.Draw(ctx, "a", "MATH-1", DrawInput{Type: "spray", Points: []models.Point{{}}})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = f.svc.Draw(ctx, "a", "MATH-1", DrawInput{Type: models.DrawPen})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestSnapshot_LimitsChatHistory(t *testing.T) {
	f := newFixture()
	f.svc.chatHistory = 3
	join(t, f, "a", "MATH-1", "Alice", true)

	for i := 0; i < 5; i++ {
		_, err := f.svc.SendChat(ctx, "a", "MATH-1", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	snap, err := f.svc.Snapshot(ctx, "MATH-1")
	require.NoError(t, err)
	require.Len(t, snap.ChatMessages, 3)
	assert.Equal(t, "msg 2", snap.ChatMessages[0].Message)

	_, err = f.svc.Snapshot(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestChatPage(t *testing.T) {
	f := newFixture()
	join(t, f, "a", "MATH-1", "Alice", true)

	var ids []string
	for i := 0; i < 5; i++ {
		msg, err := f.svc.SendChat(ctx, "a", "MATH-1", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	page, more, err := f.svc.ChatPage(ctx, "MATH-1", 2, "")
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, page, 2)
	assert.Equal(t, "msg 3", page[0].Message)

	page, more, err = f.svc.ChatPage(ctx, "MATH-1", 10, ids[3])
	require.NoError(t, err)
	assert.False(t, more)
	assert.Len(t, page, 3)

	_, _, err = f.svc.ChatPage(ctx, "MATH-1", 10, "missing")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestIngest(t *testing.T) {
	f := newFixture()
	join(t, f, "a", "MATH-1", "Alice", true)

	require.NoError(t, f.svc.Ingest(ctx, IngestRequest{RoomCode: "math-1", Type: "chat", Message: "from outside"}))
	require.NoError(t, f.svc.Ingest(ctx, IngestRequest{RoomCode: "MATH-1", Type: "notice", Message: "heads up"}))
	require.NoError(t, f.svc.Ingest(ctx, IngestRequest{
		RoomCode: "MATH-1",
		Type:     "draw",
		UserName: "bot",
		Draw:     &DrawInput{Type: models.DrawClear},
	}))

	room := f.room("MATH-1")
	require.Len(t, room.ChatMessages, 1)
	assert.Equal(t, SystemUserID, room.ChatMessages[0].UserName)
	require.Len(t, room.DrawEvents, 1)
	assert.Equal(t, "bot", room.DrawEvents[0].UserName)

	assert.Equal(t, []models.EventType{
		models.EventRoomJoined,
		models.EventChatMessage,
		models.EventNotice,
		models.EventDraw,
	}, roomEvents(f.hub.received("a")))

	assert.ErrorIs(t, f.svc.Ingest(ctx, IngestRequest{RoomCode: "NOPE", Type: "chat", Message: "x"}), ErrRoomNotFound)
	assert.ErrorIs(t, f.svc.Ingest(ctx, IngestRequest{RoomCode: "MATH-1", Type: "weird"}), ErrInvalidPayload)
}

type archiveCall struct {
	room     *models.Room
	closedAt time.Time
}

type chanArchiver chan archiveCall

func (c chanArchiver) ArchiveRoom(_ context.Context, room *models.Room, closedAt time.Time) error {
	c <- archiveCall{room: room, closedAt: closedAt}
	return nil
}

func TestExpireRoom_ArchivesTranscript(t *testing.T) {
	f := newFixture()
	archived := make(chanArchiver, 1)
	f.svc.archiver = archived

	join(t, f, "a", "MATH-1", "Alice", true)
	_, err := f.svc.SendChat(ctx, "a", "MATH-1", "bye")
	require.NoError(t, err)
	f.svc.DisconnectTransport(ctx, "a")

	job := f.scheduler.last()
	require.NoError(t, f.svc.ExpireRoom(ctx, job.code, job.generation))

	select {
	case call := <-archived:
		assert.Equal(t, "MATH-1", call.room.Code)
		require.Len(t, call.room.ChatMessages, 1)
		assert.False(t, call.closedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("room was not archived")
	}
}

func TestExists(t *testing.T) {
	f := newFixture()
	join(t, f, "a", "MATH-1", "Alice", true)

	ok, err := f.svc.Exists(ctx, "math-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.Exists(ctx, "NOPE")
	require.NoError(t, err)
	assert.False(t, ok)
}
