package game

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"sortrace/internal/sorting"
)

const (
	GRACE_PERIOD       = 10 * time.Second
	BROADCAST_INTERVAL = 100 * time.Millisecond
	MIN_BROADCAST      = 16 * time.Millisecond
	ARCHIVE_TIMEOUT    = 5 * time.Second
	MAX_CODE_ATTEMPTS  = 100
)

// Config tunes the Manager. Zero values fall back to the defaults above.
type Config struct {
	GracePeriod       time.Duration
	BroadcastInterval time.Duration
	MaxDatasetSize    int
	DefaultSettings   Settings
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = GRACE_PERIOD
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = BROADCAST_INTERVAL
	}
	if c.MaxDatasetSize <= 0 {
		c.MaxDatasetSize = MAX_DATASET_SIZE
	}
	if c.DefaultSettings == (Settings{}) {
		c.DefaultSettings = DefaultSettings()
	}
	return c
}

// ResultSink receives every finalized race, e.g. for history storage.
type ResultSink interface {
	RecordRace(ctx context.Context, rec RaceRecord) error
}

// Manager is the single registry of rooms and races. All room and race
// state is mutated under mu through the methods below.
type Manager struct {
	hub     Broadcaster
	cfg     Config
	sinks   []ResultSink
	metrics *Metrics
	newCode func() string
	newSeed func() string

	mu    sync.Mutex
	rooms map[string]*Room
	races map[string]*race

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Manager)

func WithResultSink(s ResultSink) Option {
	return func(m *Manager) {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithCodeGenerator replaces the room code source.
func WithCodeGenerator(gen func() string) Option {
	return func(m *Manager) { m.newCode = gen }
}

// WithSeedGenerator replaces the dataset seed source.
func WithSeedGenerator(gen func() string) Option {
	return func(m *Manager) { m.newSeed = gen }
}

func NewManager(hub Broadcaster, cfg Config, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		hub:     hub,
		cfg:     cfg.withDefaults(),
		newCode: GenerateRoomCode,
		newSeed: GenerateSeed,
		rooms:   make(map[string]*Room),
		races:   make(map[string]*race),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Stop aborts every race, cancels pending deletions and waits for
// in-flight archive writes.
func (m *Manager) Stop() {
	m.mu.Lock()
	for code, r := range m.races {
		m.abortRaceLocked(r)
		delete(m.races, code)
	}
	for _, room := range m.rooms {
		room.stopDeletionTimer()
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	log.Println("[GAME] Manager stopped")
}

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

func (m *Manager) ActiveRaces() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.races)
}

// CreateRoom registers a room hosted by host. A nil settings uses the defaults.
func (m *Manager) CreateRoom(host Player, algos []sorting.Algorithm, settings *Settings) (RoomView, error) {
	if host.ID == "" {
		return RoomView{}, ErrNotInRoom.with(fmt.Errorf("missing player id"))
	}
	if err := validateAlgorithms(algos); err != nil {
		return RoomView{}, err
	}
	s := m.cfg.DefaultSettings
	if settings != nil {
		s = *settings
	}
	if err := ValidateSettings(s, m.cfg.MaxDatasetSize); err != nil {
		return RoomView{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	code, err := m.uniqueCodeLocked()
	if err != nil {
		return RoomView{}, err
	}
	room := newRoom(code, host, algos, s)
	m.rooms[code] = room
	m.metrics.setRooms(len(m.rooms))
	m.hub.Attach(host.ID, code)

	view := room.view()
	m.hub.Broadcast(Event{Type: EventRoomCreated, Room: code, Data: view})
	log.Printf("[ROOM] %s created by %s with %v", code, host.Username, algos)
	return view, nil
}

func (m *Manager) uniqueCodeLocked() (string, error) {
	for i := 0; i < MAX_CODE_ATTEMPTS; i++ {
		code := m.newCode()
		if _, taken := m.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", &RoomError{Kind: KindInternal, Message: "could not allocate a room code"}
}

// JoinRoom adds p to the room, or refreshes p's username when already present.
// Joining an emptied room cancels its pending deletion.
func (m *Manager) JoinRoom(code string, p Player) (RoomView, error) {
	if p.ID == "" {
		return RoomView{}, ErrNotInRoom.with(fmt.Errorf("missing player id"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return RoomView{}, ErrRoomNotFound
	}

	if i := room.indexOf(p.ID); i >= 0 {
		room.Players[i].Username = p.Username
	} else {
		room.Players = append(room.Players, p)
	}
	room.ledger.Track(p)
	m.hub.Attach(p.ID, code)

	if room.PendingDeletion {
		room.PendingDeletion = false
		room.EmptySince = time.Time{}
		room.stopDeletionTimer()
		log.Printf("[ROOM] %s pending deletion cancelled, %s rejoined", code, p.Username)
	}

	m.hub.Broadcast(Event{Type: EventPlayerJoined, Room: code, Data: p})

	if room.HostID == "" || room.indexOf(room.HostID) < 0 {
		room.HostID = p.ID
		m.hub.Broadcast(Event{Type: EventHostChanged, Room: code, Data: HostChangedMessage{HostID: p.ID, Username: p.Username}})
		log.Printf("[ROOM] %s host is now %s", code, p.Username)
	}

	return room.view(), nil
}

// LeaveRoom removes a player, on leave or disconnect. A departing host is
// replaced by the first remaining player; an emptied room enters the
// grace window instead of being deleted at once.
func (m *Manager) LeaveRoom(code, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	i := room.indexOf(playerID)
	if i < 0 {
		return ErrNotInRoom
	}
	p := room.Players[i]
	room.Players = append(room.Players[:i], room.Players[i+1:]...)
	if room.Status == StatusWaiting {
		room.ledger.Drop(playerID)
	}
	m.hub.Broadcast(Event{Type: EventPlayerLeft, Room: code, Data: p})
	m.hub.Detach(playerID, code)
	log.Printf("[ROOM] %s left %s (%d remaining)", p.Username, code, len(room.Players))

	if len(room.Players) == 0 {
		room.HostID = ""
		room.PendingDeletion = true
		room.EmptySince = time.Now()
		room.stopDeletionTimer()
		room.deletionTimer = time.AfterFunc(m.cfg.GracePeriod, func() { m.recheckRoom(code) })
		log.Printf("[ROOM] %s is empty, deleting in %v unless someone rejoins", code, m.cfg.GracePeriod)
		return nil
	}

	if room.HostID == playerID {
		next := room.Players[0]
		room.HostID = next.ID
		m.hub.Broadcast(Event{Type: EventHostChanged, Room: code, Data: HostChangedMessage{HostID: next.ID, Username: next.Username}})
		log.Printf("[ROOM] %s host passed from %s to %s", code, p.Username, next.Username)
	}
	return nil
}

// recheckRoom runs when a grace window expires. It re-reads the room and
// deletes it only if it is still flagged and has stayed empty long enough.
func (m *Manager) recheckRoom(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok || !room.PendingDeletion {
		return
	}
	if len(room.Players) > 0 {
		room.PendingDeletion = false
		room.EmptySince = time.Time{}
		return
	}
	if time.Since(room.EmptySince) < m.cfg.GracePeriod {
		return
	}
	m.deleteRoomLocked(room)
}

func (m *Manager) deleteRoomLocked(room *Room) {
	if r, ok := m.races[room.Code]; ok {
		m.abortRaceLocked(r)
		delete(m.races, room.Code)
	}
	room.stopDeletionTimer()
	delete(m.rooms, room.Code)
	m.metrics.setRooms(len(m.rooms))
	log.Printf("[ROOM] %s deleted", room.Code)
}

func (m *Manager) GetRoom(code string) (RoomView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[code]
	if !ok {
		return RoomView{}, ErrRoomNotFound
	}
	return room.view(), nil
}

func (m *Manager) Leaderboard(code string) ([]LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.ledger.Leaderboard(room.Players), nil
}

// hostRoomLocked loads a room and checks that playerID hosts it.
func (m *Manager) hostRoomLocked(code, playerID string) (*Room, error) {
	room, ok := m.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if !room.isHost(playerID) {
		return nil, ErrNotHost
	}
	return room, nil
}

// SelectAlgorithms replaces the room's algorithm selection while waiting.
// Bets on algorithms that are no longer selected are dropped.
func (m *Manager) SelectAlgorithms(code, playerID string, algos []sorting.Algorithm) error {
	if err := validateAlgorithms(algos); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	room, err := m.hostRoomLocked(code, playerID)
	if err != nil {
		return err
	}
	if room.Status != StatusWaiting {
		return ErrNotWaiting
	}
	room.Algorithms = append(room.Algorithms[:0:0], algos...)
	room.ledger.Retain(room.Algorithms)
	m.hub.Broadcast(Event{Type: EventAlgorithmsUpdated, Room: code, Data: room.Algorithms})
	return nil
}

func (m *Manager) UpdateSettings(code, playerID string, s Settings) error {
	if err := ValidateSettings(s, m.cfg.MaxDatasetSize); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	room, err := m.hostRoomLocked(code, playerID)
	if err != nil {
		return err
	}
	if room.Status != StatusWaiting {
		return ErrNotWaiting
	}
	room.Settings = s
	m.hub.Broadcast(Event{Type: EventSettingsUpdated, Room: code, Data: s})
	return nil
}

// PlaceBet records playerID's pick, replacing any earlier bet.
func (m *Manager) PlaceBet(code, playerID string, algo sorting.Algorithm) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	p, ok := room.player(playerID)
	if !ok {
		return ErrNotInRoom
	}
	if room.Status != StatusWaiting {
		return ErrBettingClosed
	}
	if !room.hasAlgorithm(algo) {
		return ErrAlgorithmNotSelected.with(fmt.Errorf("%q", algo))
	}

	bet := Bet{PlayerID: p.ID, Username: p.Username, Algorithm: algo, PlacedAt: time.Now()}
	room.ledger.Place(bet)
	m.metrics.betPlaced()
	m.hub.Broadcast(Event{Type: EventBetPlaced, Room: code, Data: bet})
	return nil
}

// UpdateStepSpeed changes the per-operation delay. During a race the new
// delay applies to every engine's future waits.
func (m *Manager) UpdateStepSpeed(code, playerID string, delayMs int) error {
	if delayMs < 0 || delayMs > MAX_STEP_DELAY {
		return ErrInvalidSettings.with(fmt.Errorf("step delay must be between 0 and %dms", MAX_STEP_DELAY))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	room, err := m.hostRoomLocked(code, playerID)
	if err != nil {
		return err
	}
	room.Settings.StepDelayMs = delayMs
	if r, ok := m.races[code]; ok {
		r.setDelay(room.Settings.StepDelay())
	}
	m.hub.Broadcast(Event{Type: EventStepSpeedUpdated, Room: code, Data: map[string]int{"step_delay_ms": delayMs}})
	return nil
}

// ResetRoom moves a finished room back to waiting. Points are kept.
func (m *Manager) ResetRoom(code, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, err := m.hostRoomLocked(code, playerID)
	if err != nil {
		return err
	}
	switch room.Status {
	case StatusRacing:
		return ErrAlreadyRacing
	case StatusWaiting:
		return ErrNotFinished
	}
	room.Status = StatusWaiting
	m.hub.Broadcast(Event{Type: EventRoomReset, Room: code, Data: room.view()})
	log.Printf("[ROOM] %s reset for the next race", code)
	return nil
}

// ResetPoints clears the room's leaderboard.
func (m *Manager) ResetPoints(code, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, err := m.hostRoomLocked(code, playerID)
	if err != nil {
		return err
	}
	if room.Status == StatusRacing {
		return ErrAlreadyRacing
	}
	room.ledger.ResetPoints()
	m.hub.Broadcast(Event{Type: EventPointsReset, Room: code, Data: room.ledger.Leaderboard(room.Players)})
	return nil
}
