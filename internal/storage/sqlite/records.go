package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/semanticdata/voicemail-transcriber/internal/records"
	"github.com/semanticdata/voicemail-transcriber/pkg/logger"
)

// ErrRecordNotFound is returned when a record does not exist in the caller's session
var ErrRecordNotFound = errors.New("record not found")

// RecordStorage holds the saved transcriptions of every live session.
// Rows are only ever inserted or deleted with their session.
type RecordStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewRecordStorage creates a new SQLite record storage
func NewRecordStorage(db *sql.DB, logger *logger.Logger) (*RecordStorage, error) {
	storage := &RecordStorage{
		db:     db,
		logger: logger.Named("sqlite-records"),
	}

	if err := storage.initDB(); err != nil {
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *RecordStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			transcript TEXT NOT NULL,
			caller_name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			audio BLOB,
			audio_name TEXT NOT NULL DEFAULT '',
			audio_mime TEXT NOT NULL DEFAULT '',
			model TEXT,
			language TEXT,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create records table: %w", err)
	}

	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_records_session_seq ON records(session_id, seq)`,
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create records index: %w", err)
		}
	}

	return nil
}

// Append stores rec as the last entry of its session and returns the stored
// copy with ID, Seq and CreatedAt assigned
func (s *RecordStorage) Append(ctx context.Context, rec *records.Record) (*records.Record, error) {
	if rec.SessionID == "" {
		return nil, errors.New("record has no session")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM records WHERE session_id = ?`,
		rec.SessionID,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("failed to assign sequence: %w", err)
	}

	stored := *rec
	stored.Seq = seq
	stored.AudioSize = len(rec.Audio)
	stored.CreatedAt = time.Now().UTC()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO records
		(session_id, seq, transcript, caller_name, phone, address, notes, audio, audio_name, audio_mime, model, language, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.SessionID,
		stored.Seq,
		stored.Transcript,
		stored.Metadata.Name,
		stored.Metadata.Phone,
		stored.Metadata.Address,
		stored.Metadata.Notes,
		stored.Audio,
		stored.AudioName,
		stored.AudioMIME,
		nullString(stored.Model),
		nullString(stored.Language),
		stored.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}

	stored.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit record: %w", err)
	}

	s.logger.Debug("Stored record",
		logger.Int64("id", stored.ID),
		logger.Int("seq", stored.Seq),
		logger.Int("audio_bytes", stored.AudioSize))

	return &stored, nil
}

// ListBySession returns a session's records in insertion order, without audio
func (s *RecordStorage) ListBySession(ctx context.Context, sessionID string) ([]*records.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, seq, transcript, caller_name, phone, address, notes,
			NULL, audio_name, audio_mime, LENGTH(audio), model, language, created_at
		FROM records
		WHERE session_id = ?
		ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	return s.scanRecordRows(rows)
}

// Get returns one record of the session including its audio
func (s *RecordStorage) Get(ctx context.Context, sessionID string, id int64) (*records.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, seq, transcript, caller_name, phone, address, notes,
			audio, audio_name, audio_mime, LENGTH(audio), model, language, created_at
		FROM records
		WHERE session_id = ? AND id = ?`,
		sessionID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query record: %w", err)
	}
	defer rows.Close()

	recs, err := s.scanRecordRows(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrRecordNotFound
	}
	return recs[0], nil
}

// DeleteSession removes every record of a session and returns how many were removed
func (s *RecordStorage) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete session records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted records: %w", err)
	}
	return n, nil
}

// scanRecordRows scans database rows into Record structs
func (s *RecordStorage) scanRecordRows(rows *sql.Rows) ([]*records.Record, error) {
	var recs []*records.Record
	for rows.Next() {
		var rec records.Record
		var createdAt string
		var audioSize sql.NullInt64
		var model, language sql.NullString

		if err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.Seq,
			&rec.Transcript,
			&rec.Metadata.Name,
			&rec.Metadata.Phone,
			&rec.Metadata.Address,
			&rec.Metadata.Notes,
			&rec.Audio,
			&rec.AudioName,
			&rec.AudioMIME,
			&audioSize,
			&model,
			&language,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		var err error
		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		rec.AudioSize = int(audioSize.Int64)
		rec.Model = model.String
		rec.Language = language.String

		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return recs, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
