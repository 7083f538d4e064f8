package game

import (
	"time"

	"sortrace/internal/sorting"
)

type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusRacing   RoomStatus = "racing"
	StatusFinished RoomStatus = "finished"
)

// Settings controls dataset generation and pacing for a room's races.
type Settings struct {
	DatasetSize     int  `json:"dataset_size" yaml:"dataset_size"`
	MinValue        int  `json:"min_value" yaml:"min_value"`
	MaxValue        int  `json:"max_value" yaml:"max_value"`
	AllowDuplicates bool `json:"allow_duplicates" yaml:"allow_duplicates"`
	StepDelayMs     int  `json:"step_delay_ms" yaml:"step_delay_ms"`
}

func DefaultSettings() Settings {
	return Settings{
		DatasetSize:     30,
		MinValue:        1,
		MaxValue:        100,
		AllowDuplicates: true,
		StepDelayMs:     50,
	}
}

func (s Settings) StepDelay() time.Duration {
	return time.Duration(s.StepDelayMs) * time.Millisecond
}

type Player struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Bet struct {
	PlayerID  string            `json:"player_id"`
	Username  string            `json:"username"`
	Algorithm sorting.Algorithm `json:"algorithm"`
	PlacedAt  time.Time         `json:"placed_at"`
}

type LeaderboardEntry struct {
	PlayerID  string `json:"player_id"`
	Username  string `json:"username"`
	Points    int    `json:"points"`
	Connected bool   `json:"connected"`
}

// RoomView is the serializable snapshot of a room.
type RoomView struct {
	Code            string              `json:"code"`
	HostID          string              `json:"host_id"`
	Players         []Player            `json:"players"`
	Status          RoomStatus          `json:"status"`
	Algorithms      []sorting.Algorithm `json:"algorithms"`
	Settings        Settings            `json:"settings"`
	Bets            []Bet               `json:"bets"`
	Leaderboard     []LeaderboardEntry  `json:"leaderboard"`
	PendingDeletion bool                `json:"pending_deletion"`
	CreatedAt       time.Time           `json:"created_at"`
}

// AlgorithmResult is one algorithm's line in race_results.
type AlgorithmResult struct {
	Algorithm    sorting.Algorithm `json:"algorithm"`
	Position     int               `json:"position"`
	IsWinner     bool              `json:"is_winner"`
	StoppedEarly bool              `json:"stopped_early"`
	Error        string            `json:"error,omitempty"`
	Dataset      []int             `json:"dataset"`
	sorting.Counters
}

// RaceRecord is the finalized outcome of one race.
type RaceRecord struct {
	RaceID         string             `json:"race_id"`
	RoomCode       string             `json:"room_code"`
	Winner         sorting.Algorithm  `json:"winner,omitempty"`
	Results        []AlgorithmResult  `json:"results"`
	WinningBettors []Player           `json:"winning_bettors"`
	Leaderboard    []LeaderboardEntry `json:"leaderboard"`
	EndedEarly     bool               `json:"ended_early"`
	DatasetSeed    string             `json:"dataset_seed"`
	Dataset        []int              `json:"dataset"`
	Settings       Settings           `json:"settings"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
}
