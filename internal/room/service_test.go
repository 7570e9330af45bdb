// internal/room/service_test.go
package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gameroom/internal/game"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConn records every event sent to it.
type mockConn struct {
	mu     sync.Mutex
	events []game.Event
}

func (c *mockConn) Send(ev game.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *mockConn) count(t game.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (c *mockConn) find(t game.EventType) (game.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == t {
			return c.events[i], true
		}
	}
	return game.Event{}, false
}

func (c *mockConn) last() game.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

// mockResolver maps tokens to identities; any other token fails.
type mockResolver map[string]Identity

func (m mockResolver) ResolveIdentity(_ context.Context, token string) (Identity, error) {
	if id, ok := m[token]; ok {
		return id, nil
	}
	return Identity{}, errors.New("bad token")
}

func (m mockResolver) VerifyIdentity(token string) (Identity, error) {
	return m.ResolveIdentity(context.Background(), token)
}

// countingResolver counts full resolutions, the ones that may reach account storage.
type countingResolver struct {
	mockResolver
	mu       sync.Mutex
	resolves int
}

func (c *countingResolver) ResolveIdentity(ctx context.Context, token string) (Identity, error) {
	c.mu.Lock()
	c.resolves++
	c.mu.Unlock()
	return c.mockResolver.ResolveIdentity(ctx, token)
}

func (c *countingResolver) resolveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolves
}

type failingReporter struct{ calls int }

func (f *failingReporter) ReportResult(context.Context, game.MatchResult) error {
	f.calls++
	return errors.New("rating store unavailable")
}

// blockingReporter parks every report until release is closed or the context ends.
type blockingReporter struct {
	entered chan struct{}
	release chan struct{}

	mu  sync.Mutex
	ids []uuid.UUID
}

func newBlockingReporter() *blockingReporter {
	return &blockingReporter{entered: make(chan struct{}, 4), release: make(chan struct{})}
}

func (b *blockingReporter) ReportResult(ctx context.Context, res game.MatchResult) error {
	b.mu.Lock()
	b.ids = append(b.ids, res.MatchID)
	b.mu.Unlock()
	b.entered <- struct{}{}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blockingReporter) matchIDs() []uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uuid.UUID(nil), b.ids...)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	opts.Logger = quietLogger()
	s := NewService(opts)
	t.Cleanup(s.Shutdown)
	return s
}

// startedRoom creates a grid-drop room and seats alice then bob.
func startedRoom(t *testing.T, s *Service) (string, *mockConn, *mockConn) {
	t.Helper()
	code, err := s.CreateRoom(game.KindGridDrop, false)
	require.NoError(t, err)
	a, b := &mockConn{}, &mockConn{}
	require.NoError(t, s.Join(context.Background(), game.KindGridDrop, code, "alice", "", a))
	require.NoError(t, s.Join(context.Background(), game.KindGridDrop, code, "bob", "", b))
	return code, a, b
}

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestCreateRoomReturnsUsableCode(t *testing.T) {
	s := newTestService(t, Options{})
	for _, k := range game.Kinds {
		for _, mm := range []bool{false, true} {
			code, err := s.CreateRoom(k, mm)
			require.NoError(t, err)
			assert.Regexp(t, codePattern, code)
			assert.True(t, s.RoomExists(k, code))
			assert.True(t, s.RoomExists(k, strings.ToLower(code)), "lookups are case-insensitive")

			exists, isMM := s.RoomExistsWithMatchmaking(k, code)
			assert.True(t, exists)
			assert.Equal(t, mm, isMM)
		}
	}
	_, err := s.CreateRoom("chess", false)
	assert.ErrorIs(t, err, ErrUnknownGameType)

	exists, isMM := s.RoomExistsWithMatchmaking(game.KindDuelChoice, "ZZZZZZ")
	assert.False(t, exists)
	assert.False(t, isMM)
}

func TestCodesAreDistinct(t *testing.T) {
	s := newTestService(t, Options{})
	seen := make(map[string]bool)
	for i := 0; i < 300; i++ {
		code, err := s.CreateRoom(game.Kinds[i%len(game.Kinds)], false)
		require.NoError(t, err)
		require.False(t, seen[code], "code %s allocated twice", code)
		seen[code] = true
	}
}

func TestCreateRoomRetriesAcrossGameTypes(t *testing.T) {
	codes := []string{"AAAAAA", "aaaaaa", "BBBBBB"}
	i := 0
	s := newTestService(t, Options{NewCode: func() (string, error) {
		c := codes[i%len(codes)]
		i++
		return c, nil
	}})

	first, err := s.CreateRoom(game.KindGridDrop, false)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", first)

	second, err := s.CreateRoom(game.KindDuelChoice, false)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", second, "a code live under another game type is skipped")
}

func TestCreateRoomGivesUpWhenCodesRunOut(t *testing.T) {
	s := newTestService(t, Options{NewCode: func() (string, error) { return "SAME01", nil }})
	_, err := s.CreateRoom(game.KindMemoryPair, false)
	require.NoError(t, err)
	_, err = s.CreateRoom(game.KindMemoryPair, false)
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
}

func TestJoinRejections(t *testing.T) {
	s := newTestService(t, Options{Identity: mockResolver{"good": {UserID: uuid.New()}}})
	code, err := s.CreateRoom(game.KindDuelChoice, false)
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, s.Join(ctx, game.KindDuelChoice, "NOPE00", "alice", "", &mockConn{}), ErrRoomNotFound)
	assert.ErrorIs(t, s.Join(ctx, game.KindGridDrop, code, "alice", "", &mockConn{}), ErrRoomNotFound, "code belongs to another game type")
	assert.ErrorIs(t, s.Join(ctx, game.KindDuelChoice, code, "alice", "forged", &mockConn{}), ErrAuthFailed)
	assert.ErrorIs(t, s.Join(ctx, game.KindDuelChoice, code, "", "", &mockConn{}), ErrMissingPlayerID)
	assert.NoError(t, s.Join(ctx, game.KindDuelChoice, code, "alice", "good", &mockConn{}))
	assert.Panics(t, func() { _ = s.Join(ctx, game.KindDuelChoice, code, "bob", "", nil) })
}

func TestJoinTwiceKeepsOneParticipant(t *testing.T) {
	s := newTestService(t, Options{})
	code, err := s.CreateRoom(game.KindGridDrop, false)
	require.NoError(t, err)
	first, second := &mockConn{}, &mockConn{}

	require.NoError(t, s.Join(context.Background(), game.KindGridDrop, code, "alice", "", first))
	require.NoError(t, s.Join(context.Background(), game.KindGridDrop, code, "alice", "", second))

	r, ok := s.Room(game.KindGridDrop, code)
	require.True(t, ok)
	require.Len(t, r.Players(), 1)
	assert.False(t, r.Started())

	bob := &mockConn{}
	require.NoError(t, s.Join(context.Background(), game.KindGridDrop, code, "bob", "", bob))
	assert.Equal(t, 1, second.count(game.EventGameStarted), "broadcasts reach the replacement connection")
	assert.Equal(t, 0, first.count(game.EventGameStarted))
}

func TestSecondJoinStartsGameInJoinOrder(t *testing.T) {
	s := newTestService(t, Options{})
	code, a, b := startedRoom(t, s)
	r, _ := s.Room(game.KindGridDrop, code)

	require.True(t, r.Started())
	players := r.Players()
	require.Len(t, players, 2)
	assert.Equal(t, game.GridColorA, r.PlayerColor(players[0]))
	assert.Equal(t, game.GridColorB, r.PlayerColor(players[1]))
	assert.Equal(t, "alice", players[0].PlayerID)

	seatA, ok := a.find(game.EventSeatAssigned)
	require.True(t, ok)
	assert.Equal(t, game.GridColorA, seatA.Color)
	seatB, ok := b.find(game.EventSeatAssigned)
	require.True(t, ok)
	assert.Equal(t, game.GridColorB, seatB.Color)
	assert.Equal(t, 1, a.count(game.EventGameStarted))
	assert.Equal(t, 1, b.count(game.EventGameStarted))

	carol := &mockConn{}
	require.NoError(t, s.Join(context.Background(), game.KindGridDrop, code, "carol", "", carol))
	assert.Len(t, r.Players(), 2)
	assert.Equal(t, game.GridColorA, r.PlayerColor(players[0]), "third join does not reassign colors")
	assert.Equal(t, 1, a.count(game.EventGameStarted), "game starts only once")
	assert.Equal(t, game.EventGameState, carol.last().Type)

	// the extra participant cannot move
	s.HandleCommand(context.Background(), game.KindGridDrop, code, "carol", "DROP 0", "")
	st := r.State().(game.GridDropState)
	assert.Equal(t, 0, st.Moves)
}

func TestConcurrentJoinsStartExactlyOnce(t *testing.T) {
	s := newTestService(t, Options{})
	for i := 0; i < 50; i++ {
		code, err := s.CreateRoom(game.KindDuelChoice, false)
		require.NoError(t, err)
		conns := []*mockConn{{}, {}, {}}
		var wg sync.WaitGroup
		for j, c := range conns {
			wg.Add(1)
			go func(id string, c *mockConn) {
				defer wg.Done()
				_ = s.Join(context.Background(), game.KindDuelChoice, code, id, "", c)
			}(fmt.Sprintf("p%d-%d", i, j), c)
		}
		wg.Wait()

		r, _ := s.Room(game.KindDuelChoice, code)
		require.Len(t, r.Players(), 2)
		started := 0
		for _, c := range conns {
			started += c.count(game.EventGameStarted)
		}
		assert.Equal(t, 2, started, "exactly the two seated players see one game_started each")
	}
}

func TestCommandsReachGameAndFallBackToAccount(t *testing.T) {
	aliceID := uuid.New()
	s := newTestService(t, Options{Identity: mockResolver{"alice-token": {UserID: aliceID, Username: "alice"}}})
	code, err := s.CreateRoom(game.KindGridDrop, false)
	require.NoError(t, err)
	ctx := context.Background()
	a, b := &mockConn{}, &mockConn{}
	require.NoError(t, s.Join(ctx, game.KindGridDrop, code, "alice", "alice-token", a))
	require.NoError(t, s.Join(ctx, game.KindGridDrop, code, "bob", "", b))
	r, _ := s.Room(game.KindGridDrop, code)

	s.HandleCommand(ctx, game.KindGridDrop, code, "alice", "DROP 3", "")
	assert.Equal(t, 1, r.State().(game.GridDropState).Moves)
	assert.Equal(t, game.EventGameState, b.last().Type)

	// a new socket with a new player id but the same account takes over alice's seat
	a2 := &mockConn{}
	require.NoError(t, s.Join(ctx, game.KindGridDrop, code, "alice-tab2", "alice-token", a2))
	assert.Len(t, r.Players(), 2)
	seat, ok := a2.find(game.EventSeatAssigned)
	require.True(t, ok)
	assert.Equal(t, game.GridColorA, seat.Color)

	s.HandleCommand(ctx, game.KindGridDrop, code, "bob", "3", "")
	s.HandleCommand(ctx, game.KindGridDrop, code, "alice-tab2", "DROP 4", "alice-token")
	assert.Equal(t, 3, r.State().(game.GridDropState).Moves)

	s.HandleCommand(ctx, game.KindGridDrop, code, "stranger", "DROP 5", "")
	s.HandleCommand(ctx, game.KindGridDrop, "ZZZZZZ", "bob", "DROP 5", "")
	assert.Equal(t, 3, r.State().(game.GridDropState).Moves)
}

func TestDisconnectThenReconnectKeepsRoom(t *testing.T) {
	s := newTestService(t, Options{GracePeriod: 60 * time.Millisecond})
	code, a, b := startedRoom(t, s)
	r, _ := s.Room(game.KindGridDrop, code)

	s.OnTransportDisconnected(game.KindGridDrop, code, "alice", a)
	assert.Equal(t, []string{"alice"}, r.Disconnected())
	deadline, ok := r.CloseTime()
	require.True(t, ok)
	ev, ok := b.find(game.EventPlayerDisconnected)
	require.True(t, ok)
	require.NotNil(t, ev.Deadline)
	assert.Equal(t, deadline, *ev.Deadline)
	assert.Equal(t, 1, b.count(game.EventRoomClosing))

	a2 := &mockConn{}
	require.NoError(t, s.Join(context.Background(), game.KindGridDrop, code, "alice", "", a2))
	assert.Empty(t, r.Disconnected())
	_, ok = r.CloseTime()
	assert.False(t, ok)
	assert.Equal(t, 1, b.count(game.EventPlayerReconnected))
	seat, ok := a2.find(game.EventSeatAssigned)
	require.True(t, ok)
	assert.Equal(t, game.GridColorA, seat.Color)

	time.Sleep(150 * time.Millisecond)
	assert.True(t, s.RoomExists(game.KindGridDrop, code))
}

func TestDisconnectWithoutReconnectClosesRoom(t *testing.T) {
	s := newTestService(t, Options{GracePeriod: 30 * time.Millisecond})
	code, a, b := startedRoom(t, s)

	s.HandlePlayerDisconnect(game.KindGridDrop, code, "alice", a)
	require.Eventually(t, func() bool {
		return !s.RoomExists(game.KindGridDrop, code)
	}, time.Second, 5*time.Millisecond)

	ev, ok := b.find(game.EventRoomClosed)
	require.True(t, ok)
	assert.Equal(t, ReasonTimeout, ev.Reason)
	assert.Equal(t, Key(game.KindGridDrop, code), ev.RoomKey)
	assert.False(t, s.codePlayers.Has("alice"))
	assert.False(t, s.codePlayers.Has("bob"))
}

func TestDisconnectFromReplacedSocketIsIgnored(t *testing.T) {
	s := newTestService(t, Options{GracePeriod: time.Hour})
	code, a, _ := startedRoom(t, s)
	r, _ := s.Room(game.KindGridDrop, code)

	a2 := &mockConn{}
	require.NoError(t, s.Join(context.Background(), game.KindGridDrop, code, "alice", "", a2))
	s.OnTransportDisconnected(game.KindGridDrop, code, "alice", a)
	assert.Empty(t, r.Disconnected())
	_, pending := r.CloseTime()
	assert.False(t, pending)
}

func TestLeaveMatchmakingRoomClosesImmediately(t *testing.T) {
	s := newTestService(t, Options{GracePeriod: time.Hour})
	ctx := context.Background()
	a, b := &mockConn{}, &mockConn{}
	code, err := s.JoinMatchmaking(ctx, game.KindDuelChoice, "alice", "", a)
	require.NoError(t, err)
	code2, err := s.JoinMatchmaking(ctx, game.KindDuelChoice, "bob", "", b)
	require.NoError(t, err)
	require.Equal(t, code, code2)

	s.HandlePlayerLeave(game.KindDuelChoice, code, "alice")
	assert.False(t, s.RoomExists(game.KindDuelChoice, code))
	ev, ok := b.find(game.EventRoomClosed)
	require.True(t, ok)
	assert.Equal(t, ReasonPlayerLeft, ev.Reason)
	assert.Equal(t, 0, a.count(game.EventRoomClosed), "the leaver is not notified")
	assert.False(t, s.activeMatchmaking.Has("bob"))
	assert.False(t, s.matchPlayers.Has("bob"))
}

func TestLeaveCodeRoomStartsGraceTimer(t *testing.T) {
	s := newTestService(t, Options{GracePeriod: 50 * time.Millisecond})
	code, _, b := startedRoom(t, s)
	r, _ := s.Room(game.KindGridDrop, code)

	s.HandlePlayerLeave(game.KindGridDrop, code, "alice")
	assert.True(t, s.RoomExists(game.KindGridDrop, code))
	assert.Len(t, r.Players(), 1)
	_, pending := r.CloseTime()
	assert.True(t, pending)
	left, ok := b.find(game.EventPlayerLeft)
	require.True(t, ok)
	assert.Equal(t, "alice", left.PlayerID)
	assert.False(t, s.codePlayers.Has("alice"))

	require.Eventually(t, func() bool {
		return !s.RoomExists(game.KindGridDrop, code)
	}, time.Second, 5*time.Millisecond)
}

func TestLastPlayerLeavingClosesRoom(t *testing.T) {
	s := newTestService(t, Options{GracePeriod: time.Hour})
	code, err := s.CreateRoom(game.KindMemoryPair, false)
	require.NoError(t, err)
	require.NoError(t, s.Join(context.Background(), game.KindMemoryPair, code, "alice", "", &mockConn{}))

	s.HandlePlayerLeave(game.KindMemoryPair, code, "alice")
	assert.False(t, s.RoomExists(game.KindMemoryPair, code))

	// repeated and unknown leaves are no-ops
	s.HandlePlayerLeave(game.KindMemoryPair, code, "alice")
	s.HandlePlayerLeave(game.KindMemoryPair, "ZZZZZZ", "nobody")
}

func TestReplacedTimerDoesNotFire(t *testing.T) {
	s := newTestService(t, Options{GracePeriod: 200 * time.Millisecond})
	code, a, _ := startedRoom(t, s)
	r, _ := s.Room(game.KindGridDrop, code)
	key := Key(game.KindGridDrop, code)

	s.HandlePlayerDisconnect(game.KindGridDrop, code, "alice", a)
	first, _ := r.CloseTime()
	time.Sleep(100 * time.Millisecond)
	second, ok := s.StartRoomTimer(key, ReasonPlayerDisconnect)
	require.True(t, ok)
	require.True(t, second.After(first))

	// past the first deadline, before the second
	time.Sleep(150 * time.Millisecond)
	assert.True(t, s.RoomExists(game.KindGridDrop, code), "the replaced timer must not close the room")
	got, _ := r.CloseTime()
	assert.Equal(t, second, got)

	require.Eventually(t, func() bool { return !s.RoomExists(game.KindGridDrop, code) }, time.Second, 5*time.Millisecond)
}

func TestTimerFiringAfterReconnectIsNoop(t *testing.T) {
	s := newTestService(t, Options{GracePeriod: time.Hour})
	code, _, _ := startedRoom(t, s)
	r, _ := s.Room(game.KindGridDrop, code)

	s.HandlePlayerDisconnect(game.KindGridDrop, code, "alice", nil)
	// everyone is back, but the deadline was left behind
	r.mu.Lock()
	delete(r.disconnected, "alice")
	r.mu.Unlock()

	later := time.Now().Add(2 * time.Hour)
	assert.Equal(t, 0, s.CleanupExpiredRooms(later))
	assert.True(t, s.RoomExists(game.KindGridDrop, code))
	_, pending := r.CloseTime()
	assert.False(t, pending, "a deadline whose reason is gone is cleared")

	s.HandlePlayerDisconnect(game.KindGridDrop, code, "bob", nil)
	assert.Equal(t, 1, s.CleanupExpiredRooms(later))
	assert.False(t, s.RoomExists(game.KindGridDrop, code))
}

func TestCleanupClosesIdleEmptyRooms(t *testing.T) {
	s := newTestService(t, Options{EmptyRoomTTL: time.Minute})
	code, err := s.CreateRoom(game.KindDuelChoice, false)
	require.NoError(t, err)

	assert.Equal(t, 0, s.CleanupExpiredRooms(time.Now()))
	assert.Equal(t, 1, s.CleanupExpiredRooms(time.Now().Add(2*time.Minute)))
	assert.False(t, s.RoomExists(game.KindDuelChoice, code))
}

func TestJanitorSweeps(t *testing.T) {
	s := newTestService(t, Options{EmptyRoomTTL: time.Millisecond})
	code, err := s.CreateRoom(game.KindDuelChoice, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartJanitor(ctx, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !s.RoomExists(game.KindDuelChoice, code) }, time.Second, 5*time.Millisecond)
}

func TestForceRemovePlayerFromAllRooms(t *testing.T) {
	s := newTestService(t, Options{GracePeriod: time.Hour})

	// a dangling shortcut is cleared even though no room exists
	s.codePlayers.Set("ghost", "grid-drop:GONE00")
	s.ForceRemovePlayerFromAllRooms("ghost")
	assert.False(t, s.codePlayers.Has("ghost"))

	code, err := s.CreateRoom(game.KindGridDrop, false)
	require.NoError(t, err)
	require.NoError(t, s.Join(context.Background(), game.KindGridDrop, code, "alice", "", &mockConn{}))
	s.ForceRemovePlayerFromAllRooms("alice")
	assert.False(t, s.RoomExists(game.KindGridDrop, code))
	assert.False(t, s.codePlayers.Has("alice"))
}

func TestJoiningAnotherRoomEvictsFromTheFirst(t *testing.T) {
	s := newTestService(t, Options{GracePeriod: time.Hour})
	first, _, b := startedRoom(t, s)
	second, err := s.CreateRoom(game.KindGridDrop, false)
	require.NoError(t, err)

	require.NoError(t, s.Join(context.Background(), game.KindGridDrop, second, "alice", "", &mockConn{}))
	r1, _ := s.Room(game.KindGridDrop, first)
	assert.Len(t, r1.Players(), 1)
	left, ok := b.find(game.EventPlayerLeft)
	require.True(t, ok)
	assert.Equal(t, ReasonJoinedElsewhere, left.Reason)

	key, _ := s.codePlayers.Get("alice")
	assert.Equal(t, Key(game.KindGridDrop, second), key)
}

func TestMatchmakingPairsAndResumes(t *testing.T) {
	s := newTestService(t, Options{GracePeriod: time.Hour})
	ctx := context.Background()
	a, b, c := &mockConn{}, &mockConn{}, &mockConn{}

	codeA, err := s.JoinMatchmaking(ctx, game.KindMemoryPair, "alice", "", a)
	require.NoError(t, err)
	assert.Equal(t, game.EventMatchmakingJoined, a.events[0].Type)
	codeB, err := s.JoinMatchmaking(ctx, game.KindMemoryPair, "bob", "", b)
	require.NoError(t, err)
	assert.Equal(t, codeA, codeB)

	r, _ := s.Room(game.KindMemoryPair, codeA)
	assert.True(t, r.Started())
	assert.True(t, r.IsMatchmaking)

	codeC, err := s.JoinMatchmaking(ctx, game.KindMemoryPair, "carol", "", c)
	require.NoError(t, err)
	assert.NotEqual(t, codeA, codeC)

	// alice's socket drops and she comes back through matchmaking
	s.OnTransportDisconnected(game.KindMemoryPair, codeA, "alice", a)
	a2 := &mockConn{}
	again, err := s.JoinMatchmaking(ctx, game.KindMemoryPair, "alice", "", a2)
	require.NoError(t, err)
	assert.Equal(t, codeA, again)
	assert.Empty(t, r.Disconnected())
	assert.Len(t, r.Players(), 2)

	_, err = s.JoinMatchmaking(ctx, "chess", "dave", "", &mockConn{})
	assert.ErrorIs(t, err, ErrUnknownGameType)
}

func TestMatchmakingSkipsRoomsOfOtherTypes(t *testing.T) {
	s := newTestService(t, Options{})
	ctx := context.Background()
	duel, err := s.JoinMatchmaking(ctx, game.KindDuelChoice, "alice", "", &mockConn{})
	require.NoError(t, err)
	grid, err := s.JoinMatchmaking(ctx, game.KindGridDrop, "bob", "", &mockConn{})
	require.NoError(t, err)
	assert.True(t, s.RoomExists(game.KindGridDrop, grid))
	assert.False(t, s.RoomExists(game.KindGridDrop, duel))
}

func TestSpectators(t *testing.T) {
	s := newTestService(t, Options{})
	code, a, _ := startedRoom(t, s)
	r, _ := s.Room(game.KindGridDrop, code)
	watcher, again := &mockConn{}, &mockConn{}

	require.NoError(t, s.JoinAsSpectator(game.KindGridDrop, code, "watcher", "Wendy", watcher))
	require.NoError(t, s.JoinAsSpectator(game.KindGridDrop, code, "watcher", "Wendy", again))
	assert.Equal(t, []string{"watcher"}, r.Spectators())
	assert.Equal(t, 1, a.count(game.EventSpectatorJoined))
	assert.Equal(t, game.EventGameState, again.last().Type)
	assert.ErrorIs(t, s.JoinAsSpectator(game.KindGridDrop, "ZZZZZZ", "w", "", &mockConn{}), ErrRoomNotFound)

	s.HandleCommand(context.Background(), game.KindGridDrop, code, "alice", "DROP 2", "")
	assert.Equal(t, game.EventGameState, again.last().Type)
	s.HandleCommand(context.Background(), game.KindGridDrop, code, "watcher", "DROP 3", "")
	assert.Equal(t, 1, r.State().(game.GridDropState).Moves, "spectators cannot move")

	_, pendingBefore := r.CloseTime()
	s.OnTransportDisconnected(game.KindGridDrop, code, "watcher", again)
	assert.Empty(t, r.Spectators())
	assert.Equal(t, 1, a.count(game.EventSpectatorLeft))
	_, pendingAfter := r.CloseTime()
	assert.Equal(t, pendingBefore, pendingAfter, "spectators never touch the close timer")
}

func TestReportWin(t *testing.T) {
	rep := &failingReporter{}
	s := newTestService(t, Options{Reporter: rep})
	code, err := s.CreateRoom(game.KindGridDrop, false)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Join(ctx, game.KindGridDrop, code, "alice", "", &mockConn{}))
	require.NoError(t, s.Join(ctx, game.KindGridDrop, code, "bob", "", &mockConn{}))

	assert.ErrorIs(t, s.ReportWin(ctx, game.KindGridDrop, code, "alice"), game.ErrGameInProgress)
	for i, col := range []int{0, 1, 0, 1, 0, 1, 0} {
		player := "alice"
		if i%2 == 1 {
			player = "bob"
		}
		s.HandleCommand(ctx, game.KindGridDrop, code, player, fmt.Sprintf("DROP %d", col), "")
	}

	err = s.ReportWin(ctx, game.KindGridDrop, code, "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rating store unavailable")
	assert.Equal(t, 1, rep.calls)

	assert.NoError(t, s.ReportWin(ctx, game.KindGridDrop, "ZZZZZZ", "bob"))
	assert.NoError(t, s.ReportWin(ctx, game.KindGridDrop, code, "nobody"))
}

func TestStatsAndShutdown(t *testing.T) {
	s := newTestService(t, Options{})
	_, a, _ := startedRoom(t, s)
	_, err := s.CreateRoom(game.KindDuelChoice, true)
	require.NoError(t, err)

	st := s.Stats()
	assert.Equal(t, 2, st.Rooms)
	assert.Equal(t, 1, st.Started)
	assert.Equal(t, 1, st.Matchmaking)
	assert.Equal(t, 2, st.Players)
	assert.Equal(t, 1, st.ByGameType[game.KindGridDrop])
	assert.Equal(t, 0, st.ByGameType[game.KindMemoryPair])

	s.Shutdown()
	assert.Equal(t, 0, s.Stats().Rooms)
	ev, ok := a.find(game.EventRoomClosed)
	require.True(t, ok)
	assert.Equal(t, ReasonServerShutdown, ev.Reason)
}

func TestCloseRoomAndKickAllPlayersExcludesCaller(t *testing.T) {
	s := newTestService(t, Options{})
	code, a, b := startedRoom(t, s)
	key := Key(game.KindGridDrop, code)

	require.True(t, s.CloseRoomAndKickAllPlayers(key, ReasonPlayerLeft, "alice"))
	assert.Zero(t, a.count(game.EventRoomClosed))
	assert.Equal(t, 1, b.count(game.EventRoomClosed))
	assert.False(t, s.RoomExists(game.KindGridDrop, code))

	assert.False(t, s.CloseRoomAndKickAllPlayers(key, ReasonPlayerLeft, ""), "second close is a no-op")
	assert.Equal(t, 1, b.count(game.EventRoomClosed))

	// the players were unindexed, so joining a new room evicts nothing
	code2, err := s.CreateRoom(game.KindGridDrop, false)
	require.NoError(t, err)
	c := &mockConn{}
	require.NoError(t, s.Join(context.Background(), game.KindGridDrop, code2, "alice", "", c))
	r, ok := s.Room(game.KindGridDrop, code2)
	require.True(t, ok)
	assert.Equal(t, []game.Seat{{PlayerID: "alice"}}, r.Players())
}

// finishGrid plays red to a vertical four in column 0.
func finishGrid(t *testing.T, s *Service, code string) {
	t.Helper()
	for i, col := range []int{0, 1, 0, 1, 0, 1, 0} {
		player := "alice"
		if i%2 == 1 {
			player = "bob"
		}
		s.HandleCommand(context.Background(), game.KindGridDrop, code, player, fmt.Sprintf("DROP %d", col), "")
	}
	r, ok := s.Room(game.KindGridDrop, code)
	require.True(t, ok)
	require.Equal(t, game.GridColorA, r.State().(game.GridDropState).WinnerColor)
}

func TestReportWinDoesNotHoldRoomLock(t *testing.T) {
	rep := newBlockingReporter()
	s := newTestService(t, Options{Reporter: rep})
	code, a, _ := startedRoom(t, s)
	finishGrid(t, s, code)
	ctx := context.Background()

	reported := make(chan error, 1)
	go func() { reported <- s.ReportWin(ctx, game.KindGridDrop, code, "alice") }()
	select {
	case <-rep.entered:
	case <-time.After(time.Second):
		t.Fatal("reporter was never called")
	}

	done := make(chan struct{})
	go func() {
		s.HandlePlayerDisconnect(game.KindGridDrop, code, "bob", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("disconnect blocked while a report was running")
	}
	_, ok := a.find(game.EventPlayerDisconnected)
	assert.True(t, ok)

	assert.ErrorIs(t, s.ReportWin(ctx, game.KindGridDrop, code, "alice"), ErrReportInFlight)
	assert.Equal(t, 0, a.count(game.EventResultReported))

	close(rep.release)
	require.NoError(t, <-reported)
	assert.Equal(t, 1, a.count(game.EventResultReported))

	require.NoError(t, s.ReportWin(ctx, game.KindGridDrop, code, "alice"), "confirmed result is a no-op")
	assert.Len(t, rep.matchIDs(), 1)
}

func TestReportWinTimesOutAndRetriesWithSameMatch(t *testing.T) {
	rep := newBlockingReporter()
	s := newTestService(t, Options{Reporter: rep, ReportTimeout: 50 * time.Millisecond})
	code, a, _ := startedRoom(t, s)
	finishGrid(t, s, code)
	ctx := context.Background()

	start := time.Now()
	err := s.ReportWin(ctx, game.KindGridDrop, code, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, a.count(game.EventResultReported))

	close(rep.release)
	require.NoError(t, s.ReportWin(ctx, game.KindGridDrop, code, "bob"))
	assert.Equal(t, 1, a.count(game.EventResultReported))

	ids := rep.matchIDs()
	require.Len(t, ids, 2)
	assert.NotEqual(t, uuid.Nil, ids[0])
	assert.Equal(t, ids[0], ids[1])
}

func TestCommandsVerifyTokenWithoutFullResolve(t *testing.T) {
	aliceID := uuid.New()
	res := &countingResolver{mockResolver: mockResolver{"alice-token": {UserID: aliceID, Username: "alice"}}}
	s := newTestService(t, Options{Identity: res})
	code, err := s.CreateRoom(game.KindGridDrop, false)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Join(ctx, game.KindGridDrop, code, "alice", "alice-token", &mockConn{}))
	require.NoError(t, s.Join(ctx, game.KindGridDrop, code, "bob", "", &mockConn{}))
	require.Equal(t, 1, res.resolveCount())

	// unknown player id, resolved through the account behind the token
	s.HandleCommand(ctx, game.KindGridDrop, code, "alice-tab2", "DROP 2", "alice-token")
	s.HandleCommand(ctx, game.KindGridDrop, code, "bob", "DROP 3", "")
	s.HandleCommand(ctx, game.KindGridDrop, code, "alice", "DROP 2", "alice-token")

	r, _ := s.Room(game.KindGridDrop, code)
	assert.Equal(t, 3, r.State().(game.GridDropState).Moves)
	assert.Equal(t, 1, res.resolveCount(), "commands must not take the full resolve path")
}
