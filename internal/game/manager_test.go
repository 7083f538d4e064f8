package game

import (
	"errors"
	"sync"
	"testing"
	"time"

	"sortrace/internal/sorting"
)

// recorder is a Broadcaster that keeps every event in order.
type recorder struct {
	mu       sync.Mutex
	events   []Event
	direct   map[string][]Event
	attached map[string]string
}

func newRecorder() *recorder {
	return &recorder{direct: make(map[string][]Event), attached: make(map[string]string)}
}

func (r *recorder) Broadcast(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) SendTo(playerID string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[playerID] = append(r.direct[playerID], ev)
}

func (r *recorder) Attach(playerID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached[playerID] = room
}

func (r *recorder) Detach(playerID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached[playerID] == room {
		delete(r.attached, playerID)
	}
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) ofType(typ EventType) []Event {
	var out []Event
	for _, ev := range r.all() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// await blocks until an event of typ has been recorded n times.
func (r *recorder) await(t *testing.T, typ EventType, n int) []Event {
	t.Helper()
	var got []Event
	waitFor(t, func() bool {
		got = r.ofType(typ)
		return len(got) >= n
	})
	return got
}

var (
	alice = Player{ID: "p-alice", Username: "alice"}
	bob   = Player{ID: "p-bob", Username: "bob"}
	carol = Player{ID: "p-carol", Username: "carol"}
)

func fastSettings() *Settings {
	s := DefaultSettings()
	s.StepDelayMs = 0
	return &s
}

func newTestManager(t *testing.T, cfg Config, opts ...Option) (*Manager, *recorder) {
	t.Helper()
	rec := newRecorder()
	m := NewManager(rec, cfg, opts...)
	t.Cleanup(m.Stop)
	return m, rec
}

func TestCreateRoom(t *testing.T) {
	m, rec := newTestManager(t, Config{})

	view, err := m.CreateRoom(alice, []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmQuick}, nil)
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}
	if len(view.Code) != ROOM_CODE_LENGTH {
		t.Errorf("room code %q has length %d, want %d", view.Code, len(view.Code), ROOM_CODE_LENGTH)
	}
	if view.HostID != alice.ID {
		t.Errorf("HostID = %q, want %q", view.HostID, alice.ID)
	}
	if view.Status != StatusWaiting {
		t.Errorf("Status = %q, want waiting", view.Status)
	}
	if view.Settings != DefaultSettings() {
		t.Errorf("Settings = %+v, want defaults", view.Settings)
	}
	if m.RoomCount() != 1 {
		t.Errorf("RoomCount() = %d, want 1", m.RoomCount())
	}
	if len(rec.ofType(EventRoomCreated)) != 1 {
		t.Error("room_created was not broadcast")
	}
	if rec.attached[alice.ID] != view.Code {
		t.Error("host was not attached to the room")
	}
}

func TestCreateRoom_Validation(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	tests := []struct {
		name     string
		algos    []sorting.Algorithm
		settings *Settings
		want     error
	}{
		{"single algorithm", []sorting.Algorithm{sorting.AlgorithmBubble}, nil, ErrInsufficientAlgorithms},
		{"no algorithms", nil, nil, ErrInsufficientAlgorithms},
		{"unknown algorithm", []sorting.Algorithm{sorting.AlgorithmBubble, "sleep"}, nil, ErrUnknownAlgorithm},
		{"duplicate algorithm", []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmBubble}, nil, ErrDuplicateAlgorithm},
		{"bad settings", []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmQuick}, &Settings{DatasetSize: 1, MinValue: 1, MaxValue: 10}, ErrInvalidSettings},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CreateRoom(alice, tt.algos, tt.settings)
			if !errors.Is(err, tt.want) {
				t.Errorf("CreateRoom() error = %v, want %v", err, tt.want)
			}
			if KindOf(err) != KindValidation {
				t.Errorf("KindOf() = %q, want validation", KindOf(err))
			}
		})
	}
	if m.RoomCount() != 0 {
		t.Errorf("RoomCount() = %d after rejected creates, want 0", m.RoomCount())
	}
}

func TestCreateRoom_UniqueCodes(t *testing.T) {
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	next := 0
	m, _ := newTestManager(t, Config{}, WithCodeGenerator(func() string {
		c := codes[next%len(codes)]
		next++
		return c
	}))

	first, err := m.CreateRoom(alice, []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmQuick}, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.CreateRoom(bob, []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmQuick}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.Code != "AAAAAA" || second.Code != "BBBBBB" {
		t.Errorf("codes = %s, %s; want AAAAAA, BBBBBB", first.Code, second.Code)
	}
}

func TestJoinRoom(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	room, _ := m.CreateRoom(alice, []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmQuick}, nil)

	if _, err := m.JoinRoom("NOPE00", bob); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("JoinRoom(unknown) error = %v, want ErrRoomNotFound", err)
	}

	view, err := m.JoinRoom(room.Code, bob)
	if err != nil {
		t.Fatalf("JoinRoom() error = %v", err)
	}
	if len(view.Players) != 2 || view.HostID != alice.ID {
		t.Errorf("after join: players=%v host=%q", view.Players, view.HostID)
	}

	// Rejoining with the same id refreshes the name instead of duplicating.
	view, _ = m.JoinRoom(room.Code, Player{ID: bob.ID, Username: "bobby"})
	if len(view.Players) != 2 || view.Players[1].Username != "bobby" {
		t.Errorf("after rejoin: players=%v", view.Players)
	}
	if n := len(rec.ofType(EventPlayerJoined)); n != 2 {
		t.Errorf("player_joined events = %d, want 2", n)
	}
	if n := len(rec.ofType(EventHostChanged)); n != 0 {
		t.Errorf("host_changed events = %d, want 0", n)
	}
}

func TestLeaveRoom_HostElection(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	room, _ := m.CreateRoom(alice, []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmQuick}, nil)
	m.JoinRoom(room.Code, bob)
	m.JoinRoom(room.Code, carol)

	if err := m.LeaveRoom(room.Code, alice.ID); err != nil {
		t.Fatalf("LeaveRoom() error = %v", err)
	}

	changes := rec.ofType(EventHostChanged)
	if len(changes) != 1 {
		t.Fatalf("host_changed events = %d, want exactly 1", len(changes))
	}
	msg := changes[0].Data.(HostChangedMessage)
	if msg.HostID != bob.ID {
		t.Errorf("new host = %q, want %q (earliest remaining joiner)", msg.HostID, bob.ID)
	}
	view, _ := m.GetRoom(room.Code)
	if view.HostID != bob.ID || len(view.Players) != 2 {
		t.Errorf("room after leave: host=%q players=%v", view.HostID, view.Players)
	}
	if _, ok := rec.attached[alice.ID]; ok {
		t.Error("departed host still attached to the room")
	}

	// A non-host leaving does not move the host.
	m.LeaveRoom(room.Code, carol.ID)
	if n := len(rec.ofType(EventHostChanged)); n != 1 {
		t.Errorf("host_changed events = %d after non-host left, want 1", n)
	}
	if err := m.LeaveRoom(room.Code, carol.ID); !errors.Is(err, ErrNotInRoom) {
		t.Errorf("second LeaveRoom() error = %v, want ErrNotInRoom", err)
	}
}

func TestHostOnlyOperations(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	room, _ := m.CreateRoom(alice, []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmQuick}, fastSettings())
	m.JoinRoom(room.Code, bob)

	ops := map[string]func() error{
		"StartRace":        func() error { return m.StartRace(room.Code, bob.ID) },
		"EndRaceEarly":     func() error { return m.EndRaceEarly(room.Code, bob.ID) },
		"UpdateStepSpeed":  func() error { return m.UpdateStepSpeed(room.Code, bob.ID, 10) },
		"SelectAlgorithms": func() error { return m.SelectAlgorithms(room.Code, bob.ID, []sorting.Algorithm{sorting.AlgorithmHeap, sorting.AlgorithmMerge}) },
		"UpdateSettings":   func() error { return m.UpdateSettings(room.Code, bob.ID, DefaultSettings()) },
		"ResetRoom":        func() error { return m.ResetRoom(room.Code, bob.ID) },
		"ResetPoints":      func() error { return m.ResetPoints(room.Code, bob.ID) },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			if !errors.Is(err, ErrNotHost) {
				t.Errorf("error = %v, want ErrNotHost", err)
			}
			if KindOf(err) != KindPermission {
				t.Errorf("KindOf() = %q, want permission", KindOf(err))
			}
		})
	}
}

func TestPlaceBet(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	room, _ := m.CreateRoom(alice, []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmQuick}, nil)
	m.JoinRoom(room.Code, bob)

	if err := m.PlaceBet(room.Code, bob.ID, sorting.AlgorithmHeap); !errors.Is(err, ErrAlgorithmNotSelected) {
		t.Errorf("bet on unselected algorithm error = %v", err)
	}
	if err := m.PlaceBet(room.Code, carol.ID, sorting.AlgorithmBubble); !errors.Is(err, ErrNotInRoom) {
		t.Errorf("bet from outsider error = %v", err)
	}

	m.PlaceBet(room.Code, bob.ID, sorting.AlgorithmBubble)
	m.PlaceBet(room.Code, bob.ID, sorting.AlgorithmQuick)

	view, _ := m.GetRoom(room.Code)
	if len(view.Bets) != 1 || view.Bets[0].Algorithm != sorting.AlgorithmQuick {
		t.Errorf("bets = %+v, want a single bet on quick", view.Bets)
	}
	if n := len(rec.ofType(EventBetPlaced)); n != 2 {
		t.Errorf("bet_placed events = %d, want 2", n)
	}

	// Deselecting an algorithm drops bets on it.
	m.SelectAlgorithms(room.Code, alice.ID, []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmHeap})
	view, _ = m.GetRoom(room.Code)
	if len(view.Bets) != 0 {
		t.Errorf("bets after deselect = %+v, want none", view.Bets)
	}
}

func TestSelectAlgorithmsAndSettings(t *testing.T) {
	m, rec := newTestManager(t, Config{MaxDatasetSize: 50})
	room, _ := m.CreateRoom(alice, []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmQuick}, nil)

	if err := m.SelectAlgorithms(room.Code, alice.ID, []sorting.Algorithm{sorting.AlgorithmRadix}); !errors.Is(err, ErrInsufficientAlgorithms) {
		t.Errorf("SelectAlgorithms(one) error = %v", err)
	}
	if err := m.SelectAlgorithms(room.Code, alice.ID, []sorting.Algorithm{sorting.AlgorithmRadix, sorting.AlgorithmTim, sorting.AlgorithmPower}); err != nil {
		t.Fatalf("SelectAlgorithms() error = %v", err)
	}

	s := DefaultSettings()
	s.DatasetSize = 51
	if err := m.UpdateSettings(room.Code, alice.ID, s); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("UpdateSettings(oversized) error = %v", err)
	}
	s.DatasetSize = 12
	if err := m.UpdateSettings(room.Code, alice.ID, s); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}

	view, _ := m.GetRoom(room.Code)
	if len(view.Algorithms) != 3 || view.Settings.DatasetSize != 12 {
		t.Errorf("room = %+v", view)
	}
	if len(rec.ofType(EventAlgorithmsUpdated)) != 1 || len(rec.ofType(EventSettingsUpdated)) != 1 {
		t.Error("update events were not broadcast")
	}
}

func TestUpdateStepSpeed(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	room, _ := m.CreateRoom(alice, []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmQuick}, nil)

	if err := m.UpdateStepSpeed(room.Code, alice.ID, -1); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("negative delay error = %v", err)
	}
	if err := m.UpdateStepSpeed(room.Code, alice.ID, 5); err != nil {
		t.Fatal(err)
	}
	view, _ := m.GetRoom(room.Code)
	if view.Settings.StepDelayMs != 5 {
		t.Errorf("StepDelayMs = %d, want 5", view.Settings.StepDelayMs)
	}
	if len(rec.ofType(EventStepSpeedUpdated)) != 1 {
		t.Error("step_speed_updated was not broadcast")
	}
}

func TestGracePeriod_RejoinCancelsDeletion(t *testing.T) {
	grace := 80 * time.Millisecond
	m, _ := newTestManager(t, Config{GracePeriod: grace})
	room, _ := m.CreateRoom(alice, []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmQuick}, nil)
	m.JoinRoom(room.Code, bob)
	m.PlaceBet(room.Code, bob.ID, sorting.AlgorithmBubble)

	m.LeaveRoom(room.Code, alice.ID)
	m.LeaveRoom(room.Code, bob.ID)

	view, err := m.GetRoom(room.Code)
	if err != nil {
		t.Fatalf("room deleted immediately: %v", err)
	}
	if !view.PendingDeletion || view.HostID != "" {
		t.Errorf("empty room: pending=%v host=%q", view.PendingDeletion, view.HostID)
	}

	view, err = m.JoinRoom(room.Code, bob)
	if err != nil {
		t.Fatalf("rejoin error = %v", err)
	}
	if view.PendingDeletion {
		t.Error("rejoin did not clear PendingDeletion")
	}
	if view.HostID != bob.ID {
		t.Errorf("rejoining player should become host, got %q", view.HostID)
	}

	time.Sleep(2 * grace)
	if _, err := m.GetRoom(room.Code); err != nil {
		t.Errorf("room deleted despite rejoin: %v", err)
	}
}

func TestGracePeriod_DeletesAbandonedRoom(t *testing.T) {
	grace := 50 * time.Millisecond
	m, _ := newTestManager(t, Config{GracePeriod: grace})
	room, _ := m.CreateRoom(alice, []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmQuick}, nil)

	m.LeaveRoom(room.Code, alice.ID)
	waitFor(t, func() bool { return m.RoomCount() == 0 })

	if _, err := m.GetRoom(room.Code); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("GetRoom() after grace error = %v, want ErrRoomNotFound", err)
	}
}

func TestGracePeriod_PointsSurviveRejoin(t *testing.T) {
	grace := 100 * time.Millisecond
	m, rec := newTestManager(t, Config{GracePeriod: grace})
	room, _ := m.CreateRoom(alice, []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmSelection}, fastSettings())
	m.PlaceBet(room.Code, alice.ID, sorting.AlgorithmBubble)
	m.StartRace(room.Code, alice.ID)
	res := rec.await(t, EventRaceResults, 1)[0].Data.(RaceRecord)

	want := 0
	if res.Winner == sorting.AlgorithmBubble {
		want = 1
	}

	m.LeaveRoom(room.Code, alice.ID)
	m.JoinRoom(room.Code, alice)
	board, _ := m.Leaderboard(room.Code)
	if len(board) != 1 || board[0].Points != want {
		t.Errorf("leaderboard after rejoin = %+v, want alice with %d", board, want)
	}
}

func TestResetRoomAndPoints(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	room, _ := m.CreateRoom(alice, []sorting.Algorithm{sorting.AlgorithmBubble, sorting.AlgorithmSelection}, fastSettings())

	if err := m.ResetRoom(room.Code, alice.ID); !errors.Is(err, ErrNotFinished) {
		t.Errorf("ResetRoom(waiting) error = %v, want ErrNotFinished", err)
	}

	m.PlaceBet(room.Code, alice.ID, sorting.AlgorithmBubble)
	m.StartRace(room.Code, alice.ID)
	rec.await(t, EventRaceResults, 1)

	if err := m.PlaceBet(room.Code, alice.ID, sorting.AlgorithmBubble); !errors.Is(err, ErrBettingClosed) {
		t.Errorf("PlaceBet(finished) error = %v, want ErrBettingClosed", err)
	}
	if err := m.StartRace(room.Code, alice.ID); !errors.Is(err, ErrNotWaiting) {
		t.Errorf("StartRace(finished) error = %v, want ErrNotWaiting", err)
	}
	if err := m.ResetRoom(room.Code, alice.ID); err != nil {
		t.Fatalf("ResetRoom() error = %v", err)
	}

	view, _ := m.GetRoom(room.Code)
	if view.Status != StatusWaiting || len(view.Bets) != 0 {
		t.Errorf("after reset: status=%q bets=%v", view.Status, view.Bets)
	}
	if err := m.ResetPoints(room.Code, alice.ID); err != nil {
		t.Fatal(err)
	}
	board, _ := m.Leaderboard(room.Code)
	if board[0].Points != 0 {
		t.Errorf("points after ResetPoints = %d, want 0", board[0].Points)
	}
	if len(rec.ofType(EventRoomReset)) != 1 || len(rec.ofType(EventPointsReset)) != 1 {
		t.Error("reset events were not broadcast")
	}
}
