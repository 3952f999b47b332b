package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"salkit/core"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" yaml:"addr" env:"SALKIT_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" yaml:"password,omitempty" env:"SALKIT_REDIS_PASSWORD"`
	DB           int           `json:"db" yaml:"db" env:"SALKIT_REDIS_DB"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size" env:"SALKIT_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	// Prefix namespaces every key, e.g. "salkit:".
	Prefix string `json:"prefix" yaml:"prefix" env:"SALKIT_REDIS_PREFIX"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements the platform storage over Redis.
// Data structure:
// - lb:name:{name} -> leaderboard handle
// - lb:{handle}:def -> JSON Leaderboard
// - lb:{handle}:scores -> sorted set of subject by score
// - lb:{handle}:records -> hash subject -> JSON ScoreRecord
// - stats:{subject} / ach:{subject} -> hash api name -> JSON value
// - file:{owner}:{name} -> raw bytes
// - ugc:{handle} -> JSON SharedFile
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, prefix: config.Prefix}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) nameKey(name string) string { return s.prefix + "lb:name:" + name }

func (s *Store) defKey(h core.LeaderboardHandle) string {
	return fmt.Sprintf("%slb:%d:def", s.prefix, h)
}

func (s *Store) scoresKey(h core.LeaderboardHandle) string {
	return fmt.Sprintf("%slb:%d:scores", s.prefix, h)
}

func (s *Store) recordsKey(h core.LeaderboardHandle) string {
	return fmt.Sprintf("%slb:%d:records", s.prefix, h)
}

func (s *Store) statsKey(subject core.SubjectID) string { return s.prefix + "stats:" + string(subject) }
func (s *Store) achKey(subject core.SubjectID) string   { return s.prefix + "ach:" + string(subject) }

func (s *Store) fileKey(owner core.SubjectID, name string) string {
	return s.prefix + "file:" + string(owner) + ":" + name
}

func (s *Store) ugcKey(h core.UGCHandle) string {
	return s.prefix + "ugc:" + strconv.FormatUint(uint64(h), 10)
}

// Lua script for atomic find-or-create: the first definition for a name wins.
var createLeaderboardScript = redis.NewScript(`
	local existing = redis.call('GET', KEYS[1])
	if existing then
		return {existing, 0}
	end
	redis.call('SET', KEYS[1], ARGV[1])
	redis.call('SET', KEYS[2], ARGV[2])
	return {ARGV[1], 1}
`)

func (s *Store) FindLeaderboard(ctx context.Context, name string) (core.Leaderboard, error) {
	h, err := s.client.Get(ctx, s.nameKey(name)).Int64()
	if errors.Is(err, redis.Nil) {
		return core.Leaderboard{}, core.ErrNotFound
	}
	if err != nil {
		return core.Leaderboard{}, fmt.Errorf("failed to find leaderboard: %w", err)
	}
	return s.Leaderboard(ctx, core.LeaderboardHandle(h))
}

func (s *Store) CreateLeaderboard(ctx context.Context, lb core.Leaderboard) (core.Leaderboard, error) {
	data, err := json.Marshal(lb)
	if err != nil {
		return core.Leaderboard{}, err
	}
	res, err := createLeaderboardScript.Run(ctx, s.client,
		[]string{s.nameKey(lb.Name), s.defKey(lb.Handle)},
		int64(lb.Handle), data).Slice()
	if err != nil {
		return core.Leaderboard{}, fmt.Errorf("failed to create leaderboard: %w", err)
	}
	if created, _ := res[1].(int64); created == 1 {
		return lb, nil
	}
	existing, ok := res[0].(string)
	if !ok {
		return core.Leaderboard{}, errors.New("unexpected result type from Redis script")
	}
	h, err := strconv.ParseInt(existing, 10, 64)
	if err != nil {
		return core.Leaderboard{}, fmt.Errorf("corrupt leaderboard handle %q: %w", existing, err)
	}
	return s.Leaderboard(ctx, core.LeaderboardHandle(h))
}

func (s *Store) Leaderboard(ctx context.Context, h core.LeaderboardHandle) (core.Leaderboard, error) {
	data, err := s.client.Get(ctx, s.defKey(h)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Leaderboard{}, core.ErrNotFound
	}
	if err != nil {
		return core.Leaderboard{}, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	var lb core.Leaderboard
	if err := json.Unmarshal(data, &lb); err != nil {
		return core.Leaderboard{}, err
	}
	return lb, nil
}

// Lua script for an atomic keep-best or forced score write. Returns
// {changed, stored score}.
var submitScoreScript = redis.NewScript(`
	local subject = ARGV[1]
	local score = tonumber(ARGV[2])
	local prev = redis.call('ZSCORE', KEYS[1], subject)
	if prev then
		prev = tonumber(prev)
		if ARGV[4] == 'keep_best' then
			if (ARGV[5] == 'ascending' and score >= prev) or (ARGV[5] == 'descending' and score <= prev) then
				return {0, prev}
			end
		end
	end
	redis.call('ZADD', KEYS[1], score, subject)
	redis.call('HSET', KEYS[2], subject, ARGV[3])
	if prev == score then
		return {0, score}
	end
	return {1, score}
`)

func (s *Store) SubmitScore(ctx context.Context, h core.LeaderboardHandle, rec core.ScoreRecord, method core.UploadMethod) (core.ScoreChange, error) {
	lb, err := s.Leaderboard(ctx, h)
	if err != nil {
		return core.ScoreChange{}, err
	}
	if rec.Updated.IsZero() {
		rec.Updated = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return core.ScoreChange{}, err
	}
	res, err := submitScoreScript.Run(ctx, s.client,
		[]string{s.scoresKey(h), s.recordsKey(h)},
		string(rec.Subject), rec.Score, data, method.String(), lb.Sort.String()).Int64Slice()
	if err != nil {
		return core.ScoreChange{}, fmt.Errorf("failed to submit score: %w", err)
	}
	if len(res) != 2 {
		return core.ScoreChange{}, errors.New("unexpected result from Redis script")
	}
	return core.ScoreChange{Changed: res[0] == 1, Score: int32(res[1])}, nil
}

func (s *Store) Scores(ctx context.Context, h core.LeaderboardHandle) ([]core.ScoreRecord, error) {
	if _, err := s.Leaderboard(ctx, h); err != nil {
		return nil, err
	}
	all, err := s.client.HGetAll(ctx, s.recordsKey(h)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get scores: %w", err)
	}
	out := make([]core.ScoreRecord, 0, len(all))
	for _, v := range all {
		var r core.ScoreRecord
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			continue // Skip invalid entries
		}
		out = append(out, r)
	}
	return out, nil
}

// SetScoreUGC rewrites the subject's record under WATCH so a concurrent
// score write is never lost.
func (s *Store) SetScoreUGC(ctx context.Context, h core.LeaderboardHandle, subject core.SubjectID, ugc core.UGCHandle) error {
	key := s.recordsKey(h)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, key, string(subject)).Bytes()
		if errors.Is(err, redis.Nil) {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		var r core.ScoreRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		r.UGC = ugc
		out, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, string(subject), out)
			return nil
		})
		return err
	}, key)
}

func getHash[T any](ctx context.Context, c *redis.Client, key string) (map[string]T, error) {
	all, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(all))
	for k, v := range all {
		var val T
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			continue
		}
		out[k] = val
	}
	return out, nil
}

func putHash[T any](ctx context.Context, c *redis.Client, key string, values map[string]T) error {
	if len(values) == 0 {
		return nil
	}
	fields := make([]any, 0, 2*len(values))
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fields = append(fields, k, b)
	}
	return c.HSet(ctx, key, fields...).Err()
}

func (s *Store) Stats(ctx context.Context, subject core.SubjectID) (map[string]core.StatValue, error) {
	return getHash[core.StatValue](ctx, s.client, s.statsKey(subject))
}

func (s *Store) PutStats(ctx context.Context, subject core.SubjectID, stats map[string]core.StatValue) error {
	if err := putHash(ctx, s.client, s.statsKey(subject), stats); err != nil {
		return fmt.Errorf("failed to put stats: %w", err)
	}
	return nil
}

func (s *Store) Achievements(ctx context.Context, subject core.SubjectID) (map[string]core.AchievementState, error) {
	return getHash[core.AchievementState](ctx, s.client, s.achKey(subject))
}

func (s *Store) PutAchievements(ctx context.Context, subject core.SubjectID, states map[string]core.AchievementState) error {
	if err := putHash(ctx, s.client, s.achKey(subject), states); err != nil {
		return fmt.Errorf("failed to put achievements: %w", err)
	}
	return nil
}

func (s *Store) ResetStats(ctx context.Context, subject core.SubjectID, achievementsToo bool) error {
	keys := []string{s.statsKey(subject)}
	if achievementsToo {
		keys = append(keys, s.achKey(subject))
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *Store) WriteFile(ctx context.Context, owner core.SubjectID, name string, data []byte) error {
	return s.client.Set(ctx, s.fileKey(owner, name), data, 0).Err()
}

func (s *Store) ReadFile(ctx context.Context, owner core.SubjectID, name string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.fileKey(owner, name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	return b, err
}

func (s *Store) ShareFile(ctx context.Context, f core.SharedFile) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.ugcKey(f.Handle), b, 0).Err()
}

func (s *Store) SharedFile(ctx context.Context, h core.UGCHandle) (core.SharedFile, error) {
	b, err := s.client.Get(ctx, s.ugcKey(h)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.SharedFile{}, core.ErrNotFound
	}
	if err != nil {
		return core.SharedFile{}, err
	}
	var f core.SharedFile
	if err := json.Unmarshal(b, &f); err != nil {
		return core.SharedFile{}, err
	}
	return f, nil
}

var _ interface {
	SubmitScore(context.Context, core.LeaderboardHandle, core.ScoreRecord, core.UploadMethod) (core.ScoreChange, error)
	SetScoreUGC(context.Context, core.LeaderboardHandle, core.SubjectID, core.UGCHandle) error
} = (*Store)(nil)
