package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lectern-audio/lectern/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound reports a lookup that matched no row.
var ErrNotFound = errors.New("not found")

// MaxTopicPapers bounds how many papers a topic digest may combine.
const MaxTopicPapers = 5

// ErrTopicSize reports a topic with too few or too many papers.
var ErrTopicSize = fmt.Errorf("topic requires between 1 and %d papers", MaxTopicPapers)

// Task status lifecycle: pending -> running -> done | failed.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Paper is one ingested document and its extracted text.
type Paper struct {
	ID        string
	Filename  string
	Title     string
	Author    string
	Subject   string
	Pages     int
	DOI       string
	Text      string
	AddedAt   time.Time
	ExpiresAt time.Time
}

// Task tracks one asynchronous narration job.
type Task struct {
	ID        string
	PaperID   string
	Kind      string
	Status    string
	Detail    string
	Result    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Topic groups up to MaxTopicPapers papers under one digest.
type Topic struct {
	ID        string
	Title     string
	PaperIDs  []string
	Digest    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store keeps the paper library, task ledger, topics and the synthesized
// audio cache in one SQLite database. An empty path opens the store in
// ephemeral mode: every call is a no-op and lookups miss.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time

	paperTTL time.Duration
	topicTTL time.Duration
	audioTTL time.Duration
}

// Open initializes the library store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	s := &Store{
		cfg:      cfg,
		log:      log.With(slog.String("component", "store")),
		clock:    time.Now,
		paperTTL: hoursOr(cfg.PaperTTLHours, 24*time.Hour),
		topicTTL: hoursOr(cfg.TopicTTLHours, 24*time.Hour),
		audioTTL: minutesOr(cfg.AudioTTLMin, time.Hour),
	}
	if cfg.Path == "" {
		return s, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s.db = db

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			s.log.Warn("store vacuum failed", slogError(err))
		}
	}
	if err := s.SweepExpired(ctx); err != nil {
		s.log.Warn("store sweep on start failed", slogError(err))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS papers (
    id TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    title TEXT,
    author TEXT,
    subject TEXT,
    pages INTEGER,
    doi TEXT,
    text TEXT,
    added_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    paper_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    detail TEXT,
    result TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_paper ON tasks(paper_id);
CREATE TABLE IF NOT EXISTS topics (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    paper_ids TEXT NOT NULL,
    digest TEXT,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS audio_cache (
    cache_key TEXT PRIMARY KEY,
    voice TEXT,
    audio BLOB NOT NULL,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Healthy reports whether the store can serve queries. Ephemeral stores are
// considered healthy: they serve their no-op contract.
func (s *Store) Healthy(ctx context.Context) bool {
	if s.db == nil {
		return true
	}
	return s.db.PingContext(ctx) == nil
}

// SavePaper inserts or replaces a paper row. Zero timestamps are filled
// from the store clock and the configured paper TTL.
func (s *Store) SavePaper(ctx context.Context, p Paper) error {
	if s.db == nil {
		return nil
	}
	now := s.clock().UTC()
	if p.AddedAt.IsZero() {
		p.AddedAt = now
	}
	if p.ExpiresAt.IsZero() {
		p.ExpiresAt = p.AddedAt.Add(s.paperTTL)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO papers(id, filename, title, author, subject, pages, doi, text, added_at, expires_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET filename=excluded.filename, title=excluded.title,
		   author=excluded.author, subject=excluded.subject, pages=excluded.pages,
		   doi=excluded.doi, text=excluded.text, added_at=excluded.added_at,
		   expires_at=excluded.expires_at`,
		p.ID, p.Filename, p.Title, p.Author, p.Subject, p.Pages, p.DOI, p.Text, p.AddedAt, p.ExpiresAt)
	return err
}

// GetPaper retrieves one paper by id.
func (s *Store) GetPaper(ctx context.Context, id string) (Paper, error) {
	if s.db == nil {
		return Paper{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, title, author, subject, pages, doi, text, added_at, expires_at
		 FROM papers WHERE id = ?`, id)
	return scanPaper(row.Scan)
}

// ListPapers returns every stored paper, newest first, without body text.
func (s *Store) ListPapers(ctx context.Context) ([]Paper, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, title, author, subject, pages, doi, '', added_at, expires_at
		 FROM papers ORDER BY added_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var papers []Paper
	for rows.Next() {
		p, err := scanPaper(rows.Scan)
		if err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// DeletePaper removes a paper along with its tasks and cached audio.
func (s *Store) DeletePaper(ctx context.Context, id string) error {
	if s.db == nil {
		return ErrNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var res sql.Result
	if res, err = tx.ExecContext(ctx, `DELETE FROM papers WHERE id = ?`, id); err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		err = ErrNotFound
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM tasks WHERE paper_id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM audio_cache WHERE cache_key LIKE ? || ':%'`, id); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// CreateTask records a new task, defaulting to the pending status.
func (s *Store) CreateTask(ctx context.Context, t Task) error {
	if s.db == nil {
		return nil
	}
	now := s.clock().UTC()
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, paper_id, kind, status, detail, result, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PaperID, t.Kind, t.Status, t.Detail, t.Result, t.CreatedAt, t.UpdatedAt)
	return err
}

// UpdateTask moves a task to a new status with a progress detail.
func (s *Store) UpdateTask(ctx context.Context, id, status, detail string) error {
	if s.db == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, detail = ?, updated_at = ? WHERE id = ?`,
		status, detail, s.clock().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishTask records the terminal status of a task and its result payload.
func (s *Store) FinishTask(ctx context.Context, id, status, detail, result string) error {
	if s.db == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, detail = ?, result = ?, updated_at = ? WHERE id = ?`,
		status, detail, result, s.clock().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTask retrieves one task by id.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	if s.db == nil {
		return Task{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, paper_id, kind, status, detail, result, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	var t Task
	var created, updated string
	err := row.Scan(&t.ID, &t.PaperID, &t.Kind, &t.Status, &t.Detail, &t.Result, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}

// SaveTopic stores a topic after validating its paper count.
func (s *Store) SaveTopic(ctx context.Context, t Topic) error {
	if len(t.PaperIDs) == 0 || len(t.PaperIDs) > MaxTopicPapers {
		return ErrTopicSize
	}
	if s.db == nil {
		return nil
	}
	now := s.clock().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = t.CreatedAt.Add(s.topicTTL)
	}
	ids, err := json.Marshal(t.PaperIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO topics(id, title, paper_ids, digest, created_at, expires_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, paper_ids=excluded.paper_ids,
		   digest=excluded.digest, created_at=excluded.created_at, expires_at=excluded.expires_at`,
		t.ID, t.Title, string(ids), t.Digest, t.CreatedAt, t.ExpiresAt)
	return err
}

// SetTopicDigest attaches the generated digest text to a topic.
func (s *Store) SetTopicDigest(ctx context.Context, id, digest string) error {
	if s.db == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE topics SET digest = ? WHERE id = ?`, digest, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTopic removes one topic by id.
func (s *Store) DeleteTopic(ctx context.Context, id string) error {
	if s.db == nil {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM topics WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTopic retrieves one topic by id.
func (s *Store) GetTopic(ctx context.Context, id string) (Topic, error) {
	if s.db == nil {
		return Topic{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, paper_ids, digest, created_at, expires_at FROM topics WHERE id = ?`, id)
	return scanTopic(row.Scan)
}

// ListTopics returns every stored topic, newest first.
func (s *Store) ListTopics(ctx context.Context) ([]Topic, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, paper_ids, digest, created_at, expires_at FROM topics ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		t, err := scanTopic(rows.Scan)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// AudioKey is the cache key for one paper and narration mode.
func AudioKey(paperID, mode string) string {
	return paperID + ":" + mode
}

// PutAudio caches synthesized audio under key for the configured audio TTL.
func (s *Store) PutAudio(ctx context.Context, key, voice string, audio []byte) error {
	if s.db == nil {
		return nil
	}
	now := s.clock().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audio_cache(cache_key, voice, audio, created_at, expires_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET voice=excluded.voice, audio=excluded.audio,
		   created_at=excluded.created_at, expires_at=excluded.expires_at`,
		key, voice, audio, now, now.Add(s.audioTTL))
	return err
}

// GetAudio returns cached audio for key. Expired entries miss.
func (s *Store) GetAudio(ctx context.Context, key string) ([]byte, bool, error) {
	if s.db == nil {
		return nil, false, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT audio FROM audio_cache WHERE cache_key = ? AND expires_at > ?`,
		key, s.clock().UTC())
	var audio []byte
	err := row.Scan(&audio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return audio, true, nil
}

// SweepExpired prunes expired papers, topics and cached audio, and drops
// tasks that have not moved within the paper TTL.
func (s *Store) SweepExpired(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	now := s.clock().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM audio_cache WHERE expires_at <= ?`, now); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM papers WHERE expires_at <= ?`, now); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM topics WHERE expires_at <= ?`, now); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM tasks WHERE updated_at <= ?`, now.Add(-s.paperTTL)); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

func scanPaper(scan func(...any) error) (Paper, error) {
	var p Paper
	var added, expires string
	err := scan(&p.ID, &p.Filename, &p.Title, &p.Author, &p.Subject, &p.Pages, &p.DOI, &p.Text, &added, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return Paper{}, ErrNotFound
	}
	if err != nil {
		return Paper{}, err
	}
	p.AddedAt = parseTime(added)
	p.ExpiresAt = parseTime(expires)
	return p, nil
}

func scanTopic(scan func(...any) error) (Topic, error) {
	var t Topic
	var ids, created, expires string
	err := scan(&t.ID, &t.Title, &ids, &t.Digest, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return Topic{}, ErrNotFound
	}
	if err != nil {
		return Topic{}, err
	}
	if err := json.Unmarshal([]byte(ids), &t.PaperIDs); err != nil {
		return Topic{}, fmt.Errorf("decode topic paper ids: %w", err)
	}
	t.CreatedAt = parseTime(created)
	t.ExpiresAt = parseTime(expires)
	return t, nil
}

func parseTime(value string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func hoursOr(hours int, fallback time.Duration) time.Duration {
	if hours <= 0 {
		return fallback
	}
	return time.Duration(hours) * time.Hour
}

func minutesOr(minutes int, fallback time.Duration) time.Duration {
	if minutes <= 0 {
		return fallback
	}
	return time.Duration(minutes) * time.Minute
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
