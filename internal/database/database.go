package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sugawarayuuta/sonnet"

	"sortrace/internal/config"
	"sortrace/internal/game"
	"sortrace/internal/sorting"
)

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// RecordRace stores a finished race. Recording the same race twice is a no-op.
	RecordRace(ctx context.Context, rec game.RaceRecord) error

	// RecentRaces returns a room's latest races, newest first.
	RecentRaces(ctx context.Context, roomCode string, limit int) ([]game.RaceRecord, error)

	// Race loads one stored race by id.
	Race(ctx context.Context, raceID string) (game.RaceRecord, bool, error)

	// AlgorithmStats summarizes wins per algorithm over every stored race.
	AlgorithmStats(ctx context.Context) ([]AlgorithmStat, error)

	// DB exposes the pool for migrations.
	DB() *sql.DB

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error
}

type AlgorithmStat struct {
	Algorithm sorting.Algorithm `json:"algorithm"`
	Wins      int64             `json:"wins"`
	EarlyWins int64             `json:"early_wins"`
	LastWinAt time.Time         `json:"last_win_at"`
}

type service struct {
	db   *sql.DB
	name string
}

// New opens the pgx pool described by cfg. The pool connects lazily, so
// an unreachable database shows up in Health rather than here.
func New(cfg config.DatabaseConfig) (Service, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &service{db: db, name: cfg.Database}, nil
}

func (s *service) DB() *sql.DB {
	return s.db
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	err := s.db.PingContext(ctx)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		log.Printf("[DB] Health check failed: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()
	stats["max_idle_closed"] = strconv.FormatInt(dbStats.MaxIdleClosed, 10)
	stats["max_lifetime_closed"] = strconv.FormatInt(dbStats.MaxLifetimeClosed, 10)

	if dbStats.OpenConnections > 40 {
		stats["message"] = "The database is experiencing heavy load."
	}
	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

// RecordRace implements game.ResultSink.
func (s *service) RecordRace(ctx context.Context, rec game.RaceRecord) error {
	data, err := sonnet.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal race %s: %w", rec.RaceID, err)
	}

	var winner sql.NullString
	if rec.Winner != "" {
		winner = sql.NullString{String: string(rec.Winner), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO race_results
			(race_id, room_code, winner, ended_early, dataset_seed, dataset_size, step_delay_ms, record, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (race_id) DO NOTHING`,
		rec.RaceID, rec.RoomCode, winner, rec.EndedEarly, rec.DatasetSeed,
		len(rec.Dataset), rec.Settings.StepDelayMs, data, rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert race %s: %w", rec.RaceID, err)
	}
	log.Printf("[DB] Stored race %s for room %s", rec.RaceID, rec.RoomCode)
	return nil
}

func (s *service) RecentRaces(ctx context.Context, roomCode string, limit int) ([]game.RaceRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM race_results
		WHERE room_code = $1
		ORDER BY finished_at DESC
		LIMIT $2`, roomCode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []game.RaceRecord{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec game.RaceRecord
		if err := sonnet.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode race record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *service) Race(ctx context.Context, raceID string) (game.RaceRecord, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM race_results WHERE race_id = $1`, raceID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return game.RaceRecord{}, false, nil
	}
	if err != nil {
		return game.RaceRecord{}, false, err
	}
	var rec game.RaceRecord
	if err := sonnet.Unmarshal(data, &rec); err != nil {
		return game.RaceRecord{}, false, fmt.Errorf("decode race record: %w", err)
	}
	return rec, true, nil
}

func (s *service) AlgorithmStats(ctx context.Context) ([]AlgorithmStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT winner,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE ended_early),
		       MAX(finished_at)
		FROM race_results
		WHERE winner IS NOT NULL
		GROUP BY winner
		ORDER BY COUNT(*) DESC, winner`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []AlgorithmStat{}
	for rows.Next() {
		var st AlgorithmStat
		if err := rows.Scan(&st.Algorithm, &st.Wins, &st.EarlyWins, &st.LastWinAt); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Close closes the database connection.
// It logs a message indicating the disconnection from the specific database.
// If the connection is successfully closed, it returns nil.
// If an error occurs while closing the connection, it returns the error.
func (s *service) Close() error {
	log.Printf("[DB] Disconnected from database: %s", s.name)
	return s.db.Close()
}
