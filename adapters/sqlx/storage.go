package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"salkit/core"
)

// Driver names a supported SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite"
)

// Config holds SQL connection configuration.
type Config struct {
	Driver          Driver        `json:"driver" yaml:"driver" env:"SALKIT_SQL_DRIVER"`
	DSN             string        `json:"dsn" yaml:"dsn" env:"SALKIT_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" env:"SALKIT_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" env:"SALKIT_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"SALKIT_SQL_CONN_MAX_LIFETIME"`
	// AutoMigrate creates missing tables on open.
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate" env:"SALKIT_SQL_AUTO_MIGRATE"`
}

// DefaultConfig returns pool defaults for driver.
func DefaultConfig(driver Driver) Config {
	cfg := Config{
		Driver:          driver,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		AutoMigrate:     true,
	}
	if driver == DriverSQLite {
		cfg.MaxOpenConns = 1 // single writer
		cfg.DSN = "file:salkit.db?_pragma=busy_timeout(5000)"
	}
	return cfg
}

func (c Config) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("unsupported sql driver %q", c.Driver)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return errors.New("sql dsn is required")
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return errors.New("connection pool sizes cannot be negative")
	}
	return nil
}

// Store implements the platform storage over a SQL database.
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens the database, checks the connection and creates the schema when
// AutoMigrate is set.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	s := NewWithDB(db, cfg.Driver)
	if cfg.AutoMigrate {
		if err := s.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an open database (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) blobType() string {
	switch s.driver {
	case DriverPostgres:
		return "BYTEA"
	case DriverMySQL:
		return "LONGBLOB"
	}
	return "BLOB"
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	blob := s.blobType()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS leaderboards (
			handle BIGINT PRIMARY KEY,
			name VARCHAR(128) NOT NULL UNIQUE,
			sort_method INTEGER NOT NULL,
			display_type INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS leaderboard_scores (
			handle BIGINT NOT NULL,
			subject VARCHAR(20) NOT NULL,
			score INTEGER NOT NULL,
			details TEXT NOT NULL,
			ugc BIGINT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (handle, subject)
		)`,
		`CREATE TABLE IF NOT EXISTS user_stats (
			subject VARCHAR(20) NOT NULL,
			name VARCHAR(128) NOT NULL,
			stat_type INTEGER NOT NULL,
			int_value INTEGER NOT NULL,
			float_value NUMERIC(38,12) NOT NULL,
			count_value NUMERIC(38,12) NOT NULL,
			seconds_value NUMERIC(38,12) NOT NULL,
			PRIMARY KEY (subject, name)
		)`,
		`CREATE TABLE IF NOT EXISTS user_achievements (
			subject VARCHAR(20) NOT NULL,
			name VARCHAR(128) NOT NULL,
			unlocked BOOLEAN NOT NULL,
			unlocked_at TIMESTAMP NULL,
			progress BIGINT NOT NULL,
			max_progress BIGINT NOT NULL,
			PRIMARY KEY (subject, name)
		)`,
		`CREATE TABLE IF NOT EXISTS cloud_files (
			owner VARCHAR(20) NOT NULL,
			name VARCHAR(260) NOT NULL,
			data ` + blob + ` NOT NULL,
			PRIMARY KEY (owner, name)
		)`,
		`CREATE TABLE IF NOT EXISTS shared_files (
			handle BIGINT PRIMARY KEY,
			owner VARCHAR(20) NOT NULL,
			name VARCHAR(260) NOT NULL,
			data ` + blob + ` NOT NULL,
			shared_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// upsert builds an insert that overwrites the non-key columns on conflict.
func (s *Store) upsert(table string, keys, cols []string) string {
	all := append(append([]string{}, keys...), cols...)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(all, ", "), marks)
	sets := make([]string, len(cols))
	if s.driver == DriverMySQL {
		for i, c := range cols {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		}
		return s.db.Rebind(q + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", "))
	}
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	return s.db.Rebind(q + " ON CONFLICT (" + strings.Join(keys, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", "))
}

type leaderboardRow struct {
	Handle  int64  `db:"handle"`
	Name    string `db:"name"`
	Sort    int    `db:"sort_method"`
	Display int    `db:"display_type"`
}

func (r leaderboardRow) model() core.Leaderboard {
	return core.Leaderboard{
		Handle:  core.LeaderboardHandle(r.Handle),
		Name:    r.Name,
		Sort:    core.SortMethod(r.Sort),
		Display: core.DisplayType(r.Display),
	}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

func (s *Store) FindLeaderboard(ctx context.Context, name string) (core.Leaderboard, error) {
	var row leaderboardRow
	q := s.db.Rebind(`SELECT handle, name, sort_method, display_type FROM leaderboards WHERE name = ?`)
	if err := s.db.GetContext(ctx, &row, q, name); err != nil {
		return core.Leaderboard{}, notFound(err)
	}
	return row.model(), nil
}

func (s *Store) CreateLeaderboard(ctx context.Context, lb core.Leaderboard) (core.Leaderboard, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.Leaderboard{}, err
	}
	defer tx.Rollback()

	var row leaderboardRow
	q := tx.Rebind(`SELECT handle, name, sort_method, display_type FROM leaderboards WHERE name = ?`)
	err = tx.GetContext(ctx, &row, q, lb.Name)
	switch {
	case err == nil:
		return row.model(), tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return core.Leaderboard{}, err
	}
	ins := tx.Rebind(`INSERT INTO leaderboards (handle, name, sort_method, display_type) VALUES (?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, ins, int64(lb.Handle), lb.Name, int(lb.Sort), int(lb.Display)); err != nil {
		return core.Leaderboard{}, fmt.Errorf("create leaderboard: %w", err)
	}
	return lb, tx.Commit()
}

func (s *Store) Leaderboard(ctx context.Context, h core.LeaderboardHandle) (core.Leaderboard, error) {
	var row leaderboardRow
	q := s.db.Rebind(`SELECT handle, name, sort_method, display_type FROM leaderboards WHERE handle = ?`)
	if err := s.db.GetContext(ctx, &row, q, int64(h)); err != nil {
		return core.Leaderboard{}, notFound(err)
	}
	return row.model(), nil
}

func (s *Store) forUpdate() string {
	if s.driver == DriverSQLite {
		return ""
	}
	return " FOR UPDATE"
}

func (s *Store) SubmitScore(ctx context.Context, h core.LeaderboardHandle, rec core.ScoreRecord, method core.UploadMethod) (core.ScoreChange, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.ScoreChange{}, err
	}
	defer tx.Rollback()

	var sortMethod int
	if err := tx.GetContext(ctx, &sortMethod, tx.Rebind(`SELECT sort_method FROM leaderboards WHERE handle = ?`), int64(h)); err != nil {
		return core.ScoreChange{}, notFound(err)
	}
	var prev int32
	err = tx.GetContext(ctx, &prev, tx.Rebind(`SELECT score FROM leaderboard_scores WHERE handle = ? AND subject = ?`+s.forUpdate()), int64(h), string(rec.Subject))
	had := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return core.ScoreChange{}, err
	}
	if had && method == core.UploadKeepBest && !core.SortMethod(sortMethod).Better(rec.Score, prev) {
		return core.ScoreChange{Score: prev}, tx.Commit()
	}
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return core.ScoreChange{}, err
	}
	if rec.Updated.IsZero() {
		rec.Updated = time.Now().UTC()
	}
	q := s.upsert("leaderboard_scores", []string{"handle", "subject"}, []string{"score", "details", "ugc", "updated_at"})
	if _, err := tx.ExecContext(ctx, q, int64(h), string(rec.Subject), rec.Score, string(details), int64(rec.UGC), rec.Updated); err != nil {
		return core.ScoreChange{}, fmt.Errorf("submit score: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.ScoreChange{}, err
	}
	return core.ScoreChange{Score: rec.Score, Changed: !had || prev != rec.Score}, nil
}

type scoreRow struct {
	Subject string    `db:"subject"`
	Score   int32     `db:"score"`
	Details string    `db:"details"`
	UGC     int64     `db:"ugc"`
	Updated time.Time `db:"updated_at"`
}

func (s *Store) Scores(ctx context.Context, h core.LeaderboardHandle) ([]core.ScoreRecord, error) {
	if _, err := s.Leaderboard(ctx, h); err != nil {
		return nil, err
	}
	var rows []scoreRow
	q := s.db.Rebind(`SELECT subject, score, details, ugc, updated_at FROM leaderboard_scores WHERE handle = ?`)
	if err := s.db.SelectContext(ctx, &rows, q, int64(h)); err != nil {
		return nil, err
	}
	out := make([]core.ScoreRecord, 0, len(rows))
	for _, r := range rows {
		rec := core.ScoreRecord{Subject: core.SubjectID(r.Subject), Score: r.Score, UGC: core.UGCHandle(r.UGC), Updated: r.Updated}
		if r.Details != "" {
			if err := json.Unmarshal([]byte(r.Details), &rec.Details); err != nil {
				return nil, fmt.Errorf("decode details for %s: %w", r.Subject, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) SetScoreUGC(ctx context.Context, h core.LeaderboardHandle, subject core.SubjectID, ugc core.UGCHandle) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE leaderboard_scores SET ugc = ? WHERE handle = ? AND subject = ?`), int64(ugc), int64(h), string(subject))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound
	}
	return nil
}

type statRow struct {
	Name    string          `db:"name"`
	Type    int             `db:"stat_type"`
	Integer int32           `db:"int_value"`
	Float   decimal.Decimal `db:"float_value"`
	Count   decimal.Decimal `db:"count_value"`
	Seconds decimal.Decimal `db:"seconds_value"`
}

func (s *Store) Stats(ctx context.Context, subject core.SubjectID) (map[string]core.StatValue, error) {
	var rows []statRow
	q := s.db.Rebind(`SELECT name, stat_type, int_value, float_value, count_value, seconds_value FROM user_stats WHERE subject = ?`)
	if err := s.db.SelectContext(ctx, &rows, q, string(subject)); err != nil {
		return nil, err
	}
	out := make(map[string]core.StatValue, len(rows))
	for _, r := range rows {
		out[r.Name] = core.StatValue{
			Type:    core.StatType(r.Type),
			Integer: r.Integer,
			Float:   r.Float.InexactFloat64(),
			Count:   r.Count.InexactFloat64(),
			Seconds: r.Seconds.InexactFloat64(),
		}
	}
	return out, nil
}

func (s *Store) PutStats(ctx context.Context, subject core.SubjectID, stats map[string]core.StatValue) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	q := s.upsert("user_stats", []string{"subject", "name"}, []string{"stat_type", "int_value", "float_value", "count_value", "seconds_value"})
	for name, v := range stats {
		if _, err := tx.ExecContext(ctx, q, string(subject), name, int(v.Type), v.Integer,
			decimal.NewFromFloat(v.Float), decimal.NewFromFloat(v.Count), decimal.NewFromFloat(v.Seconds)); err != nil {
			return fmt.Errorf("put stat %s: %w", name, err)
		}
	}
	return tx.Commit()
}

type achievementRow struct {
	Name       string       `db:"name"`
	Unlocked   bool         `db:"unlocked"`
	UnlockedAt sql.NullTime `db:"unlocked_at"`
	Progress   int64        `db:"progress"`
	Max        int64        `db:"max_progress"`
}

func (s *Store) Achievements(ctx context.Context, subject core.SubjectID) (map[string]core.AchievementState, error) {
	var rows []achievementRow
	q := s.db.Rebind(`SELECT name, unlocked, unlocked_at, progress, max_progress FROM user_achievements WHERE subject = ?`)
	if err := s.db.SelectContext(ctx, &rows, q, string(subject)); err != nil {
		return nil, err
	}
	out := make(map[string]core.AchievementState, len(rows))
	for _, r := range rows {
		out[r.Name] = core.AchievementState{
			Unlocked:   r.Unlocked,
			UnlockedAt: r.UnlockedAt.Time,
			Progress:   uint32(r.Progress),
			Max:        uint32(r.Max),
		}
	}
	return out, nil
}

func (s *Store) PutAchievements(ctx context.Context, subject core.SubjectID, states map[string]core.AchievementState) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	q := s.upsert("user_achievements", []string{"subject", "name"}, []string{"unlocked", "unlocked_at", "progress", "max_progress"})
	for name, st := range states {
		at := sql.NullTime{Time: st.UnlockedAt, Valid: !st.UnlockedAt.IsZero()}
		if _, err := tx.ExecContext(ctx, q, string(subject), name, st.Unlocked, at, int64(st.Progress), int64(st.Max)); err != nil {
			return fmt.Errorf("put achievement %s: %w", name, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ResetStats(ctx context.Context, subject core.SubjectID, achievementsToo bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM user_stats WHERE subject = ?`), string(subject)); err != nil {
		return err
	}
	if achievementsToo {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM user_achievements WHERE subject = ?`), string(subject)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) WriteFile(ctx context.Context, owner core.SubjectID, name string, data []byte) error {
	q := s.upsert("cloud_files", []string{"owner", "name"}, []string{"data"})
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, q, string(owner), name, data)
	return err
}

func (s *Store) ReadFile(ctx context.Context, owner core.SubjectID, name string) ([]byte, error) {
	var data []byte
	q := s.db.Rebind(`SELECT data FROM cloud_files WHERE owner = ? AND name = ?`)
	if err := s.db.GetContext(ctx, &data, q, string(owner), name); err != nil {
		return nil, notFound(err)
	}
	return data, nil
}

type sharedRow struct {
	Handle int64     `db:"handle"`
	Owner  string    `db:"owner"`
	Name   string    `db:"name"`
	Data   []byte    `db:"data"`
	Shared time.Time `db:"shared_at"`
}

func (s *Store) ShareFile(ctx context.Context, f core.SharedFile) error {
	q := s.upsert("shared_files", []string{"handle"}, []string{"owner", "name", "data", "shared_at"})
	if f.Shared.IsZero() {
		f.Shared = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, q, int64(f.Handle), string(f.Owner), f.Name, f.Data, f.Shared)
	return err
}

func (s *Store) SharedFile(ctx context.Context, h core.UGCHandle) (core.SharedFile, error) {
	var row sharedRow
	q := s.db.Rebind(`SELECT handle, owner, name, data, shared_at FROM shared_files WHERE handle = ?`)
	if err := s.db.GetContext(ctx, &row, q, int64(h)); err != nil {
		return core.SharedFile{}, notFound(err)
	}
	return core.SharedFile{
		Handle: core.UGCHandle(row.Handle),
		Owner:  core.SubjectID(row.Owner),
		Name:   row.Name,
		Data:   row.Data,
		Shared: row.Shared,
	}, nil
}

var _ interface {
	FindLeaderboard(context.Context, string) (core.Leaderboard, error)
	SubmitScore(context.Context, core.LeaderboardHandle, core.ScoreRecord, core.UploadMethod) (core.ScoreChange, error)
	SharedFile(context.Context, core.UGCHandle) (core.SharedFile, error)
} = (*Store)(nil)
