package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sdstudio/logging"
	"sdstudio/session"
)

const timeLayout = "2006-01-02 15:04:05"

var ErrNotFound = errors.New("db: generation not found")

// Generation is one row of the generations table.
type Generation struct {
	ID              int64
	RunID           string
	Style           string
	Mode            string
	Prompt          string
	NegativePrompt  string
	SecondaryPrompt string
	Seed            int64
	Steps           int
	Width           int
	Height          int
	GuidanceScale   float64
	Strength        float64
	StageSplit      float64
	DurationMS      int64
	Status          string
	ErrorMessage    string
	StartedAt       time.Time
	CreatedAt       time.Time
}

// StyleStats aggregates generations per style.
type StyleStats struct {
	Style     string
	Runs      int
	Succeeded int
	Failed    int
	Cancelled int
	AvgMS     float64
}

// Repository reads and writes generation history. It implements
// session.Recorder.
type Repository struct {
	db     *Database
	writer *AsyncWriter
	log    *logging.Logger
	now    func() time.Time
}

// NewRepository wraps db. When async is true, RecordRun queues inserts on a
// background writer; call Close to flush them.
func NewRepository(db *Database, async bool, log *logging.Logger) *Repository {
	if log == nil {
		log = logging.NewNop()
	}
	r := &Repository{db: db, log: log, now: time.Now}
	if async {
		r.writer = NewAsyncWriterWithConfig(r.handleWrite, AsyncWriterConfig{
			OnError: func(op WriteOperation, err error) {
				r.log.Warn("history write failed", zap.Error(err))
			},
		})
		r.writer.Start()
	}
	return r
}

// Close flushes queued writes. It does not close the database.
func (r *Repository) Close() {
	if r.writer != nil && !r.writer.Stop() {
		r.log.Warn("history writer did not drain before timeout", zap.Int("pending", r.writer.Pending()))
	}
}

// RecordRun stores rec, asynchronously when the repository was created with
// async writes and the queue has room.
func (r *Repository) RecordRun(ctx context.Context, rec session.RunRecord) error {
	g := fromRunRecord(rec, r.now())
	if r.writer != nil && r.writer.Write(g) {
		return nil
	}
	_, err := r.Insert(ctx, g)
	return err
}

func (r *Repository) handleWrite(op WriteOperation) error {
	g, ok := op.Data.(Generation)
	if !ok {
		return fmt.Errorf("db: unexpected write payload %T", op.Data)
	}
	_, err := r.Insert(context.Background(), g)
	return err
}

func fromRunRecord(rec session.RunRecord, now time.Time) Generation {
	return Generation{
		RunID:           rec.RunID,
		Style:           rec.Style,
		Mode:            string(rec.Mode),
		Prompt:          rec.Prompt,
		NegativePrompt:  rec.NegativePrompt,
		SecondaryPrompt: rec.SecondaryPrompt,
		Seed:            rec.Seed,
		Steps:           rec.Steps,
		Width:           rec.Width,
		Height:          rec.Height,
		GuidanceScale:   rec.GuidanceScale,
		Strength:        rec.Strength,
		StageSplit:      rec.StageSplit,
		DurationMS:      rec.Duration.Milliseconds(),
		Status:          rec.Status,
		ErrorMessage:    rec.Error,
		StartedAt:       rec.StartedAt,
		CreatedAt:       now,
	}
}

// Insert writes g synchronously and returns its row ID.
func (r *Repository) Insert(ctx context.Context, g Generation) (int64, error) {
	conn := r.db.DB()
	if conn == nil {
		return 0, ErrClosed
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = r.now()
	}
	res, err := conn.ExecContext(ctx, `
		INSERT INTO generations (
			run_id, style, mode, prompt, negative_prompt, secondary_prompt,
			seed, steps, width, height, guidance_scale, strength, stage_split,
			duration_ms, status, error_message, started_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.RunID, g.Style, g.Mode, g.Prompt, nullString(g.NegativePrompt), nullString(g.SecondaryPrompt),
		g.Seed, g.Steps, g.Width, g.Height, g.GuidanceScale, g.Strength, g.StageSplit,
		g.DurationMS, g.Status, nullString(g.ErrorMessage),
		g.StartedAt.UTC().Format(timeLayout), g.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("db: insert generation %s: %w", g.RunID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("db: last insert id: %w", err)
	}
	return id, nil
}

const selectGeneration = `
	SELECT id, run_id, style, mode, prompt,
	       COALESCE(negative_prompt, ''), COALESCE(secondary_prompt, ''),
	       seed, steps, width, height, guidance_scale, strength, stage_split,
	       duration_ms, status, COALESCE(error_message, ''), started_at, created_at
	FROM generations`

// Recent returns up to limit generations, newest first. A non-empty style
// filters by style.
func (r *Repository) Recent(ctx context.Context, limit int, style string) ([]Generation, error) {
	conn := r.db.DB()
	if conn == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}

	var rows *sql.Rows
	var err error
	if style == "" {
		rows, err = conn.QueryContext(ctx, selectGeneration+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = conn.QueryContext(ctx, selectGeneration+` WHERE style = ? ORDER BY created_at DESC, id DESC LIMIT ?`, style, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("db: query generations: %w", err)
	}
	defer rows.Close()

	var out []Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterate generations: %w", err)
	}
	return out, nil
}

// ByRunID returns the generation recorded for runID or ErrNotFound.
func (r *Repository) ByRunID(ctx context.Context, runID string) (Generation, error) {
	conn := r.db.DB()
	if conn == nil {
		return Generation{}, ErrClosed
	}
	row := conn.QueryRowContext(ctx, selectGeneration+` WHERE run_id = ?`, runID)
	g, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Generation{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return g, err
}

// Stats aggregates history per style, ordered by style name.
func (r *Repository) Stats(ctx context.Context) ([]StyleStats, error) {
	conn := r.db.DB()
	if conn == nil {
		return nil, ErrClosed
	}
	rows, err := conn.QueryContext(ctx, `
		SELECT style, COUNT(*),
		       SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END),
		       AVG(duration_ms)
		FROM generations
		GROUP BY style
		ORDER BY style`)
	if err != nil {
		return nil, fmt.Errorf("db: query stats: %w", err)
	}
	defer rows.Close()

	var out []StyleStats
	for rows.Next() {
		var s StyleStats
		if err := rows.Scan(&s.Style, &s.Runs, &s.Succeeded, &s.Failed, &s.Cancelled, &s.AvgMS); err != nil {
			return nil, fmt.Errorf("db: scan stats: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterate stats: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanGeneration(s scanner) (Generation, error) {
	var g Generation
	var started, created string
	err := s.Scan(
		&g.ID, &g.RunID, &g.Style, &g.Mode, &g.Prompt,
		&g.NegativePrompt, &g.SecondaryPrompt,
		&g.Seed, &g.Steps, &g.Width, &g.Height, &g.GuidanceScale, &g.Strength, &g.StageSplit,
		&g.DurationMS, &g.Status, &g.ErrorMessage, &started, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return g, err
	}
	if err != nil {
		return g, fmt.Errorf("db: scan generation: %w", err)
	}
	g.StartedAt, _ = time.Parse(timeLayout, started)
	g.CreatedAt, _ = time.Parse(timeLayout, created)
	return g, nil
}

// nullString stores empty strings as NULL.
func nullString(s string) interface{} {
	if s == "" {
		return sql.NullString{}
	}
	return s
}
