package game

import (
	"log"
	"slices"

	"sortrace/internal/sorting"
)

// Ledger holds one room's bets and accumulated points. It is not safe for
// concurrent use; the Manager serializes access.
type Ledger struct {
	room   string
	bets   map[string]Bet
	points map[string]int
	names  map[string]string
	order  []string // player ids in first-seen order, used to break ties
}

func NewLedger(room string) *Ledger {
	return &Ledger{
		room:   room,
		bets:   make(map[string]Bet),
		points: make(map[string]int),
		names:  make(map[string]string),
	}
}

// Track records a player so the leaderboard can order them by arrival.
func (l *Ledger) Track(p Player) {
	if _, seen := l.names[p.ID]; !seen {
		l.order = append(l.order, p.ID)
	}
	l.names[p.ID] = p.Username
}

// Place stores b, replacing any earlier bet of the same player.
func (l *Ledger) Place(b Bet) {
	l.Track(Player{ID: b.PlayerID, Username: b.Username})
	l.bets[b.PlayerID] = b
	log.Printf("[BET] %s bet on %s in room %s", b.Username, b.Algorithm, l.room)
}

func (l *Ledger) Drop(playerID string) {
	delete(l.bets, playerID)
}

// Retain drops bets on algorithms that are no longer selected.
func (l *Ledger) Retain(selected []sorting.Algorithm) {
	for id, b := range l.bets {
		if !slices.Contains(selected, b.Algorithm) {
			delete(l.bets, id)
		}
	}
}

// Bets returns live bets in player arrival order.
func (l *Ledger) Bets() []Bet {
	out := make([]Bet, 0, len(l.bets))
	for _, id := range l.order {
		if b, ok := l.bets[id]; ok {
			out = append(out, b)
		}
	}
	return out
}

// Settle awards one point to every bettor who picked winner and returns them.
func (l *Ledger) Settle(winner sorting.Algorithm) []Player {
	winners := []Player{}
	if winner == "" {
		return winners
	}
	for _, b := range l.Bets() {
		if b.Algorithm != winner {
			continue
		}
		l.points[b.PlayerID]++
		winners = append(winners, Player{ID: b.PlayerID, Username: b.Username})
	}
	log.Printf("[BET] Room %s settled on %s: %d winning bettors", l.room, winner, len(winners))
	return winners
}

func (l *Ledger) ClearBets() {
	clear(l.bets)
}

// ResetPoints is the only path that lowers a player's points.
func (l *Ledger) ResetPoints() {
	clear(l.points)
	log.Printf("[BET] Room %s points reset", l.room)
}

func (l *Ledger) pointsOf(playerID string) int {
	return l.points[playerID]
}

// Leaderboard ranks current players and everyone who ever scored, by
// points descending, ties kept in arrival order.
func (l *Ledger) Leaderboard(current []Player) []LeaderboardEntry {
	connected := make(map[string]bool, len(current))
	for _, p := range current {
		connected[p.ID] = true
		l.Track(p)
	}

	entries := make([]LeaderboardEntry, 0, len(l.order))
	for _, id := range l.order {
		pts, scored := l.points[id]
		if !connected[id] && !scored {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			PlayerID:  id,
			Username:  l.names[id],
			Points:    pts,
			Connected: connected[id],
		})
	}
	slices.SortStableFunc(entries, func(a, b LeaderboardEntry) int {
		return b.Points - a.Points
	})
	return entries
}
