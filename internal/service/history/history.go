package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"deepguard/internal/models"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Service stores scan summaries.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Record persists rec and fills in its ID and CreatedAt.
func (s *Service) Record(ctx context.Context, rec *models.ScanRecord) error {
	if rec == nil {
		return errors.New("scan record required")
	}
	breakdown, err := json.Marshal(rec.Breakdown)
	if err != nil {
		return fmt.Errorf("encode breakdown: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_records (media_type, source, file_name, probability, breakdown, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(rec.Kind), rec.Source, rec.FileName, rec.Probability, string(breakdown), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert scan record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("scan record id: %w", err)
	}
	rec.ID = id
	return nil
}

// List returns the newest records first. limit is clamped to [1, MaxListLimit].
func (s *Service) List(ctx context.Context, limit int) ([]*models.ScanRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, media_type, source, file_name, probability, breakdown, created_at
		FROM scan_records ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.ScanRecord, 0, limit)
	for rows.Next() {
		var (
			rec       models.ScanRecord
			kind      string
			breakdown string
		)
		if err := rows.Scan(&rec.ID, &kind, &rec.Source, &rec.FileName, &rec.Probability, &breakdown, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		rec.Kind = models.MediaKind(kind)
		if err := json.Unmarshal([]byte(breakdown), &rec.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown for record %d: %w", rec.ID, err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
