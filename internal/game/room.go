package game

import (
	"crypto/rand"
	"fmt"
	"slices"
	"time"

	"sortrace/internal/sorting"
)

const (
	ROOM_CODE_LENGTH   = 6
	ROOM_CODE_ALPHABET = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Room is the server-side record of one lobby. Fields are guarded by the
// owning Manager's lock.
type Room struct {
	Code            string
	HostID          string
	Players         []Player
	Status          RoomStatus
	Algorithms      []sorting.Algorithm
	Settings        Settings
	PendingDeletion bool
	EmptySince      time.Time
	CreatedAt       time.Time

	ledger        *Ledger
	deletionTimer *time.Timer
}

func newRoom(code string, host Player, algos []sorting.Algorithm, settings Settings) *Room {
	r := &Room{
		Code:       code,
		HostID:     host.ID,
		Players:    []Player{host},
		Status:     StatusWaiting,
		Algorithms: slices.Clone(algos),
		Settings:   settings,
		CreatedAt:  time.Now(),
		ledger:     NewLedger(code),
	}
	r.ledger.Track(host)
	return r
}

// GenerateRoomCode returns a random code over a fixed unambiguous alphabet.
func GenerateRoomCode() string {
	b := make([]byte, ROOM_CODE_LENGTH)
	rand.Read(b)
	for i := range b {
		b[i] = ROOM_CODE_ALPHABET[int(b[i])%len(ROOM_CODE_ALPHABET)]
	}
	return string(b)
}

func (r *Room) indexOf(playerID string) int {
	return slices.IndexFunc(r.Players, func(p Player) bool { return p.ID == playerID })
}

func (r *Room) player(playerID string) (Player, bool) {
	if i := r.indexOf(playerID); i >= 0 {
		return r.Players[i], true
	}
	return Player{}, false
}

func (r *Room) isHost(playerID string) bool {
	return playerID != "" && r.HostID == playerID
}

func (r *Room) hasAlgorithm(a sorting.Algorithm) bool {
	return slices.Contains(r.Algorithms, a)
}

func (r *Room) view() RoomView {
	return RoomView{
		Code:            r.Code,
		HostID:          r.HostID,
		Players:         slices.Clone(r.Players),
		Status:          r.Status,
		Algorithms:      slices.Clone(r.Algorithms),
		Settings:        r.Settings,
		Bets:            r.ledger.Bets(),
		Leaderboard:     r.ledger.Leaderboard(r.Players),
		PendingDeletion: r.PendingDeletion,
		CreatedAt:       r.CreatedAt,
	}
}

func (r *Room) stopDeletionTimer() {
	if r.deletionTimer != nil {
		r.deletionTimer.Stop()
		r.deletionTimer = nil
	}
}

// validateAlgorithms checks a selection: at least two, all known, no repeats.
func validateAlgorithms(algos []sorting.Algorithm) error {
	seen := make(map[sorting.Algorithm]bool, len(algos))
	for _, a := range algos {
		if !a.Valid() {
			return ErrUnknownAlgorithm.with(fmt.Errorf("%q", a))
		}
		if seen[a] {
			return ErrDuplicateAlgorithm.with(fmt.Errorf("%q", a))
		}
		seen[a] = true
	}
	if len(seen) < 2 {
		return ErrInsufficientAlgorithms
	}
	return nil
}
