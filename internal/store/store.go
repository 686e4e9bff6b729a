// Package store keeps a SQLite history of comparisons.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"patina/internal/analysis"
	"patina/pkg/geometry"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("store: analysis not found")

// Record is one stored comparison.
type Record struct {
	ID               string           `json:"id"`
	OriginSource     string           `json:"origin_source"`
	ComparedSource   string           `json:"compared_source"`
	State            analysis.State   `json:"state"`
	MatchedZone      *geometry.Rect   `json:"matched_zone"`
	DegradationScore float64          `json:"degradation_score"`
	ColorDifference  float64          `json:"color_difference"`
	ColorComputed    bool             `json:"color_computed"`
	FailureReason    string           `json:"failure_reason,omitempty"`
	Result           *analysis.Result `json:"result,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// NewRecord builds a Record for res under id, the analysis id the run was
// logged with. An empty id gets a fresh one.
func NewRecord(id, originSrc, comparedSrc string, res *analysis.Result) Record {
	if id == "" {
		id = uuid.NewString()
	}
	return Record{
		ID:               id,
		OriginSource:     originSrc,
		ComparedSource:   comparedSrc,
		State:            res.State,
		MatchedZone:      res.MatchedZone,
		DegradationScore: res.DegradationScore,
		ColorDifference:  res.ColorDifference,
		ColorComputed:    res.ColorComputed,
		FailureReason:    res.FailureReason,
		Result:           res,
		CreatedAt:        time.Now().UTC(),
	}
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		origin_source TEXT NOT NULL,
		compared_source TEXT NOT NULL,
		state TEXT NOT NULL,
		zone_x REAL,
		zone_y REAL,
		zone_width REAL,
		zone_height REAL,
		degradation_score REAL NOT NULL,
		color_difference REAL NOT NULL,
		color_computed INTEGER NOT NULL,
		failure_reason TEXT,
		result_json TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at);`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces rec.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("save: record has no id")
	}

	var zx, zy, zw, zh sql.NullFloat64
	if z := rec.MatchedZone; z != nil {
		zx = sql.NullFloat64{Float64: z.X, Valid: true}
		zy = sql.NullFloat64{Float64: z.Y, Valid: true}
		zw = sql.NullFloat64{Float64: z.Width, Valid: true}
		zh = sql.NullFloat64{Float64: z.Height, Valid: true}
	}
	var resultJSON sql.NullString
	if rec.Result != nil {
		b, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("save %s: marshal result: %w", rec.ID, err)
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO analyses
		(id, origin_source, compared_source, state, zone_x, zone_y, zone_width, zone_height,
		 degradation_score, color_difference, color_computed, failure_reason, result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.OriginSource, rec.ComparedSource, string(rec.State), zx, zy, zw, zh,
		rec.DegradationScore, rec.ColorDifference, rec.ColorComputed, rec.FailureReason, resultJSON, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save %s: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `SELECT id, origin_source, compared_source, state, zone_x, zone_y, zone_width, zone_height,
	degradation_score, color_difference, color_computed, failure_reason, result_json, created_at FROM analyses`

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?;`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return rec, nil
}

// List returns the most recent records, newest first, without the full
// result payload. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, id LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		rec.Result = nil
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec            Record
		state          string
		zx, zy, zw, zh sql.NullFloat64
		reason         sql.NullString
		resultJSON     sql.NullString
	)
	if err := sc.Scan(&rec.ID, &rec.OriginSource, &rec.ComparedSource, &state, &zx, &zy, &zw, &zh,
		&rec.DegradationScore, &rec.ColorDifference, &rec.ColorComputed, &reason, &resultJSON, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.State = analysis.State(state)
	if zx.Valid && zy.Valid && zw.Valid && zh.Valid {
		z := geometry.NewRect(zx.Float64, zy.Float64, zw.Float64, zh.Float64)
		rec.MatchedZone = &z
	}
	rec.FailureReason = reason.String
	if resultJSON.Valid && resultJSON.String != "" {
		var res analysis.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &res); err != nil {
			return nil, fmt.Errorf("unmarshal result of %s: %w", rec.ID, err)
		}
		rec.Result = &res
	}
	return &rec, nil
}
