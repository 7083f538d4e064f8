package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sugawarayuuta/sonnet"

	"sortrace/internal/game"
	"sortrace/internal/sorting"
)

const (
	RACE_TTL                 = 24 * time.Hour
	RECENT_RACES             = 20
	REDIS_KEY_RACE           = "sortrace:race:"
	REDIS_KEY_ROOM_RACES     = "sortrace:room:"
	REDIS_KEY_ALGORITHM_WINS = "sortrace:stats:wins"
)

// Archive keeps finished races in Redis: each record as JSON with a TTL, a
// capped list of recent race ids per room and a global win count per
// algorithm.
type Archive struct {
	client *redis.Client
}

func NewArchive(client *redis.Client) *Archive {
	return &Archive{client: client}
}

type AlgorithmWins struct {
	Algorithm sorting.Algorithm `json:"algorithm"`
	Wins      int64             `json:"wins"`
}

func roomRacesKey(code string) string {
	return REDIS_KEY_ROOM_RACES + code + ":races"
}

// RecordRace implements game.ResultSink.
func (a *Archive) RecordRace(ctx context.Context, rec game.RaceRecord) error {
	data, err := sonnet.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal race %s: %w", rec.RaceID, err)
	}

	listKey := roomRacesKey(rec.RoomCode)
	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, REDIS_KEY_RACE+rec.RaceID, data, RACE_TTL)
		pipe.LPush(ctx, listKey, rec.RaceID)
		pipe.LTrim(ctx, listKey, 0, RECENT_RACES-1)
		pipe.Expire(ctx, listKey, RACE_TTL)
		if rec.Winner != "" {
			pipe.ZIncrBy(ctx, REDIS_KEY_ALGORITHM_WINS, 1, string(rec.Winner))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive race %s: %w", rec.RaceID, err)
	}
	log.Printf("[CACHE] Archived race %s for room %s", rec.RaceID, rec.RoomCode)
	return nil
}

// RecentRaces returns up to limit records for a room, newest first.
// Records that already expired are skipped.
func (a *Archive) RecentRaces(ctx context.Context, code string, limit int) ([]game.RaceRecord, error) {
	if limit <= 0 || limit > RECENT_RACES {
		limit = RECENT_RACES
	}
	ids, err := a.client.LRange(ctx, roomRacesKey(code), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []game.RaceRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = REDIS_KEY_RACE + id
	}
	values, err := a.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]game.RaceRecord, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec game.RaceRecord
		if err := sonnet.Unmarshal([]byte(s), &rec); err != nil {
			log.Printf("[CACHE] Skipping unreadable race %s: %v", ids[i], err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Race loads one archived record.
func (a *Archive) Race(ctx context.Context, raceID string) (game.RaceRecord, bool, error) {
	data, err := a.client.Get(ctx, REDIS_KEY_RACE+raceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return game.RaceRecord{}, false, nil
	}
	if err != nil {
		return game.RaceRecord{}, false, err
	}
	var rec game.RaceRecord
	if err := sonnet.Unmarshal(data, &rec); err != nil {
		return game.RaceRecord{}, false, err
	}
	return rec, true, nil
}

// AlgorithmWins ranks algorithms by races won across all rooms.
func (a *Archive) AlgorithmWins(ctx context.Context) ([]AlgorithmWins, error) {
	zs, err := a.client.ZRevRangeWithScores(ctx, REDIS_KEY_ALGORITHM_WINS, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]AlgorithmWins, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, AlgorithmWins{Algorithm: sorting.Algorithm(member), Wins: int64(z.Score)})
	}
	return out, nil
}
