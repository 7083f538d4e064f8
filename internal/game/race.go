package game

import (
	"context"
	"errors"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sortrace/internal/sorting"
)

// race is the transient record of one running race. Fields other than the
// engines, delay and stop channel are guarded by Manager.mu.
type race struct {
	id         string
	room       string
	seed       string
	dataset    []int
	settings   Settings
	algorithms []sorting.Algorithm
	engines    map[sorting.Algorithm]*sorting.Engine
	startedAt  time.Time

	finishOrder []sorting.Algorithm
	stopped     map[sorting.Algorithm]bool
	failed      map[sorting.Algorithm]string
	winner      sorting.Algorithm
	endedEarly  bool
	done        bool

	delay    atomic.Int64
	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
}

func (r *race) setDelay(d time.Duration) {
	r.delay.Store(int64(d))
	for _, e := range r.engines {
		e.SetDelay(d)
	}
}

// broadcastInterval is min(ceiling, delay), never below MIN_BROADCAST.
func (r *race) broadcastInterval(ceiling time.Duration) time.Duration {
	return max(min(ceiling, time.Duration(r.delay.Load())), MIN_BROADCAST)
}

func (r *race) stopBroadcast() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *race) states() []sorting.State {
	out := make([]sorting.State, 0, len(r.algorithms))
	for _, a := range r.algorithms {
		out = append(out, r.engines[a].State())
	}
	return out
}

func (r *race) position(a sorting.Algorithm) int {
	return slices.Index(r.finishOrder, a) + 1
}

// StartRace launches every selected algorithm against one shared dataset.
func (m *Manager) StartRace(code, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, err := m.hostRoomLocked(code, playerID)
	if err != nil {
		return err
	}
	if _, running := m.races[code]; running || room.Status == StatusRacing {
		return ErrAlreadyRacing
	}
	if room.Status != StatusWaiting {
		return ErrNotWaiting
	}
	if err := validateAlgorithms(room.Algorithms); err != nil {
		return err
	}

	settings := room.Settings
	seed := m.newSeed()
	dataset, err := GenerateDataset(seed, settings)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(m.ctx)
	r := &race{
		id:         uuid.NewString(),
		room:       code,
		seed:       seed,
		dataset:    dataset,
		settings:   settings,
		algorithms: slices.Clone(room.Algorithms),
		engines:    make(map[sorting.Algorithm]*sorting.Engine, len(room.Algorithms)),
		stopped:    make(map[sorting.Algorithm]bool),
		failed:     make(map[sorting.Algorithm]string),
		startedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
		stop:       make(chan struct{}),
	}
	r.delay.Store(int64(settings.StepDelay()))

	sched := sorting.NewScheduler()
	members := make([]*sorting.Member, 0, len(r.algorithms))
	for _, algo := range r.algorithms {
		member := sched.Join()
		eng, err := sorting.NewEngine(algo, dataset, settings.StepDelay(), sorting.WithPacer(member))
		if err != nil {
			cancel()
			return ErrUnknownAlgorithm.with(err)
		}
		r.engines[algo] = eng
		members = append(members, member)
	}

	m.races[code] = r
	room.Status = StatusRacing
	m.metrics.raceStarted()

	m.hub.Broadcast(Event{Type: EventRaceStarted, Room: code, Data: RaceStartedMessage{
		RaceID:     r.id,
		Dataset:    slices.Clone(dataset),
		Algorithms: slices.Clone(r.algorithms),
		Commitment: HashCommitment(seed),
		StepDelay:  settings.StepDelayMs,
	}})
	log.Printf("[RACE] %s started in room %s: %v over %d values", r.id, code, r.algorithms, len(dataset))

	go sched.Run(ctx)
	for i, algo := range r.algorithms {
		go m.runEngine(r, r.engines[algo], members[i])
	}
	go m.broadcastLoop(r)
	return nil
}

func (m *Manager) runEngine(r *race, eng *sorting.Engine, member *sorting.Member) {
	// the completion handler runs before the turn is released, so handlers
	// execute one at a time in scheduler order
	defer member.Done()
	err := eng.Run(r.ctx)
	m.engineDone(r, eng.Algorithm(), err)
}

// engineDone is the single place a natural finish or failure enters the
// finish list.
func (m *Manager) engineDone(r *race, algo sorting.Algorithm, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.done || slices.Contains(r.finishOrder, algo) {
		return
	}
	if errors.Is(err, sorting.ErrStopped) || errors.Is(err, context.Canceled) {
		return
	}
	r.finishOrder = append(r.finishOrder, algo)
	position := len(r.finishOrder)

	state := r.engines[algo].State()
	msg := AlgorithmDoneMessage{Algorithm: algo, Position: position, Counters: state.Counters}
	if err != nil {
		r.failed[algo] = err.Error()
		msg.Error = err.Error()
		m.metrics.engineFailed(string(algo))
		log.Printf("[RACE] %s failed in room %s: %v", algo, r.room, err)
	} else if r.winner == "" {
		r.winner = algo
	}
	m.hub.Broadcast(Event{Type: EventAlgorithmFinished, Room: r.room, Data: msg})

	if len(r.finishOrder) == len(r.engines) {
		m.finalizeLocked(r)
	}
}

// EndRaceEarly stops every engine still running once a winner exists.
func (m *Manager) EndRaceEarly(code, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.hostRoomLocked(code, playerID); err != nil {
		return err
	}
	r, ok := m.races[code]
	if !ok || r.done {
		return ErrNotRacing
	}
	if r.winner == "" {
		return ErrNothingFinished
	}

	for _, algo := range r.algorithms {
		if slices.Contains(r.finishOrder, algo) {
			continue
		}
		eng := r.engines[algo]
		eng.Pause()
		r.finishOrder = append(r.finishOrder, algo)
		r.stopped[algo] = true
		m.hub.Broadcast(Event{Type: EventAlgorithmStopped, Room: code, Data: AlgorithmDoneMessage{
			Algorithm: algo,
			Position:  len(r.finishOrder),
			Counters:  eng.State().Counters,
		}})
	}
	r.endedEarly = true
	log.Printf("[RACE] %s ended early in room %s", r.id, code)
	m.finalizeLocked(r)
	return nil
}

// finalizeLocked settles bets, publishes results and releases the race.
func (m *Manager) finalizeLocked(r *race) {
	r.done = true
	r.stopBroadcast()

	room := m.rooms[r.room]
	results := make([]AlgorithmResult, 0, len(r.algorithms))
	for _, algo := range r.finishOrder {
		st := r.engines[algo].State()
		results = append(results, AlgorithmResult{
			Algorithm:    algo,
			Position:     r.position(algo),
			IsWinner:     algo == r.winner,
			StoppedEarly: r.stopped[algo],
			Error:        r.failed[algo],
			Dataset:      st.Dataset,
			Counters:     st.Counters,
		})
	}

	rec := RaceRecord{
		RaceID:      r.id,
		RoomCode:    r.room,
		Winner:      r.winner,
		Results:     results,
		EndedEarly:  r.endedEarly,
		DatasetSeed: r.seed,
		Dataset:     r.dataset,
		Settings:    r.settings,
		StartedAt:   r.startedAt,
		FinishedAt:  time.Now(),
	}
	if room != nil {
		rec.WinningBettors = room.ledger.Settle(r.winner)
		rec.Leaderboard = room.ledger.Leaderboard(room.Players)
		room.Status = StatusFinished
	}

	m.hub.Broadcast(Event{Type: EventRaceResults, Room: r.room, Data: rec})
	log.Printf("[RACE] %s finished in room %s: winner %q, ended early %v", r.id, r.room, r.winner, r.endedEarly)

	r.cancel()
	if m.races[r.room] == r {
		delete(m.races, r.room)
	}
	if room != nil {
		room.ledger.ClearBets()
	}
	m.metrics.raceEnded(r.endedEarly, string(r.winner))
	m.archive(rec)
}

// abortRaceLocked tears a race down without results, used when its room goes away.
func (m *Manager) abortRaceLocked(r *race) {
	if r.done {
		return
	}
	r.done = true
	r.stopBroadcast()
	r.cancel()
	m.metrics.raceAborted()
	log.Printf("[RACE] %s aborted in room %s", r.id, r.room)
}

// broadcastLoop publishes aggregate snapshots until the race stops. Its
// cadence follows the current delay, not any single engine.
func (m *Manager) broadcastLoop(r *race) {
	for {
		timer := time.NewTimer(r.broadcastInterval(m.cfg.BroadcastInterval))
		select {
		case <-r.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		m.mu.Lock()
		if r.done {
			m.mu.Unlock()
			return
		}
		m.hub.Broadcast(Event{Type: EventRaceProgress, Room: r.room, Data: ProgressMessage{RaceID: r.id, States: r.states()}})
		m.mu.Unlock()
	}
}

func (m *Manager) archive(rec RaceRecord) {
	if len(m.sinks) == 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), ARCHIVE_TIMEOUT)
		defer cancel()
		for _, sink := range m.sinks {
			if err := sink.RecordRace(ctx, rec); err != nil {
				log.Printf("[RACE] Failed to archive %s: %v", rec.RaceID, err)
			}
		}
	}()
}
