package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"sortrace/internal/config"
	"sortrace/internal/game"
	"sortrace/internal/sorting"
)

const migrationsPath = "../../migrations"

var testConfig config.DatabaseConfig

func mustStartPostgresContainer() (func(context.Context, ...testcontainers.TerminateOption) error, error) {
	var (
		dbName = "database"
		dbPwd  = "password"
		dbUser = "user"
	)

	// Create context with timeout to prevent hanging
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbContainer, err := postgres.Run(
		ctx,
		"postgres:latest",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPwd),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, err
	}

	dbHost, err := dbContainer.Host(context.Background())
	if err != nil {
		return dbContainer.Terminate, err
	}

	dbPort, err := dbContainer.MappedPort(context.Background(), "5432/tcp")
	if err != nil {
		return dbContainer.Terminate, err
	}

	testConfig = config.DatabaseConfig{
		Host:     dbHost,
		Port:     dbPort.Port(),
		Database: dbName,
		Username: dbUser,
		Password: dbPwd,
		Schema:   "public",
	}
	return dbContainer.Terminate, nil
}

func TestMain(m *testing.M) {
	// Skip integration tests if SKIP_INTEGRATION env var is set
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}

	// Skip if Docker is not available
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		os.Exit(0)
	}

	teardown, err := mustStartPostgresContainer()
	if err != nil {
		// Don't fail, just skip tests if container can't start
		os.Exit(0)
	}

	code := m.Run()

	if teardown != nil {
		teardown(context.Background())
	}

	os.Exit(code)
}

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

func mustNew(t *testing.T) Service {
	t.Helper()
	srv, err := New(testConfig)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func migrated(t *testing.T) Service {
	t.Helper()
	srv := mustNew(t)
	if err := RunMigrations(srv.DB(), migrationsPath); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if _, err := srv.DB().Exec("TRUNCATE race_results"); err != nil {
		t.Fatal(err)
	}
	return srv
}

func TestNew(t *testing.T) {
	srv := mustNew(t)
	if srv == nil {
		t.Fatal("New() returned nil")
	}
}

func TestHealth(t *testing.T) {
	srv := mustNew(t)

	stats := srv.Health()

	if stats["status"] != "up" {
		t.Fatalf("expected status to be up, got %s", stats["status"])
	}

	if _, ok := stats["error"]; ok {
		t.Fatalf("expected error not to be present")
	}

	if stats["message"] != "It's healthy" {
		t.Fatalf("expected message to be 'It's healthy', got %s", stats["message"])
	}
}

func TestClose(t *testing.T) {
	srv, err := New(testConfig)
	if err != nil {
		t.Fatal(err)
	}

	if srv.Close() != nil {
		t.Fatalf("expected Close() to return nil")
	}
}

func TestMigrations(t *testing.T) {
	srv := mustNew(t)

	if err := RunMigrations(srv.DB(), migrationsPath); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	// Running again is a no-op.
	if err := RunMigrations(srv.DB(), migrationsPath); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}

	version, dirty, err := GetMigrationVersion(srv.DB(), migrationsPath)
	if err != nil || dirty || version != 1 {
		t.Fatalf("GetMigrationVersion() = %d, %v, %v; want 1, false, nil", version, dirty, err)
	}

	if err := RollbackMigration(srv.DB(), migrationsPath); err != nil {
		t.Fatalf("RollbackMigration() error = %v", err)
	}
	version, _, err = GetMigrationVersion(srv.DB(), migrationsPath)
	if err != nil || version != 0 {
		t.Errorf("version after rollback = %d, %v; want 0", version, err)
	}
	if err := RunMigrations(srv.DB(), migrationsPath); err != nil {
		t.Fatal(err)
	}
}

func raceRecord(room string, winner sorting.Algorithm, endedEarly bool, finished time.Time) game.RaceRecord {
	return game.RaceRecord{
		RaceID:      uuid.NewString(),
		RoomCode:    room,
		Winner:      winner,
		EndedEarly:  endedEarly,
		DatasetSeed: "00ff",
		Dataset:     []int{4, 2, 3, 1},
		Settings:    game.DefaultSettings(),
		Results: []game.AlgorithmResult{
			{Algorithm: winner, Position: 1, IsWinner: winner != "", Dataset: []int{1, 2, 3, 4}},
		},
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: finished,
	}
}

func TestRecordRace(t *testing.T) {
	srv := migrated(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	first := raceRecord("ROOM01", sorting.AlgorithmQuick, false, base)
	second := raceRecord("ROOM01", sorting.AlgorithmHeap, true, base.Add(time.Minute))
	for _, rec := range []game.RaceRecord{first, second, raceRecord("ROOM02", sorting.AlgorithmQuick, true, base)} {
		if err := srv.RecordRace(ctx, rec); err != nil {
			t.Fatalf("RecordRace() error = %v", err)
		}
	}
	// Duplicate deliveries are ignored.
	if err := srv.RecordRace(ctx, first); err != nil {
		t.Fatalf("duplicate RecordRace() error = %v", err)
	}

	got, err := srv.RecentRaces(ctx, "ROOM01", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentRaces() = %d records, want 2", len(got))
	}
	if got[0].RaceID != second.RaceID || got[1].RaceID != first.RaceID {
		t.Errorf("RecentRaces() order = %s, %s; want newest first", got[0].RaceID, got[1].RaceID)
	}
	if !got[0].EndedEarly || got[0].Winner != sorting.AlgorithmHeap {
		t.Errorf("round-tripped record = %+v", got[0])
	}

	rec, ok, err := srv.Race(ctx, first.RaceID)
	if err != nil || !ok || rec.Winner != sorting.AlgorithmQuick {
		t.Errorf("Race(first) = %+v, %v, %v", rec, ok, err)
	}
	if _, ok, err := srv.Race(ctx, uuid.NewString()); ok || err != nil {
		t.Errorf("Race(unknown) = %v, %v; want not found", ok, err)
	}
}

func TestAlgorithmStats(t *testing.T) {
	srv := migrated(t)
	ctx := context.Background()
	now := time.Now().UTC()

	srv.RecordRace(ctx, raceRecord("ROOM01", sorting.AlgorithmQuick, false, now))
	srv.RecordRace(ctx, raceRecord("ROOM01", sorting.AlgorithmQuick, true, now))
	srv.RecordRace(ctx, raceRecord("ROOM02", sorting.AlgorithmMerge, false, now))
	srv.RecordRace(ctx, raceRecord("ROOM02", "", false, now))

	stats, err := srv.AlgorithmStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("AlgorithmStats() = %+v, want two algorithms", stats)
	}
	if stats[0].Algorithm != sorting.AlgorithmQuick || stats[0].Wins != 2 || stats[0].EarlyWins != 1 {
		t.Errorf("leader = %+v, want quick with 2 wins, 1 early", stats[0])
	}
	if stats[1].Algorithm != sorting.AlgorithmMerge || stats[1].Wins != 1 {
		t.Errorf("second = %+v, want merge with 1 win", stats[1])
	}
}
