package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/whisper-web/internal/transcript"
	"github.com/yegors/whisper-web/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Int64  = logger.Int64
	Error  = logger.Error
)

// ErrNotFound is returned when a transcript id does not exist
var ErrNotFound = errors.New("transcript not found")

// TranscriptRecord is a finished transcription
type TranscriptRecord struct {
	ID           int64                  `json:"id"`
	UUID         string                 `json:"uuid"`
	CreatedAt    time.Time              `json:"created_at"`
	Model        string                 `json:"model"`
	Subtask      string                 `json:"subtask"`
	Language     string                 `json:"language"`
	Source       string                 `json:"source,omitempty"`
	AudioSeconds float64                `json:"audio_seconds"`
	DurationMs   int64                  `json:"duration_ms"`
	Text         string                 `json:"text"`
	Chunks       []transcript.TextChunk `json:"chunks"`
}

// State returns the record as a finished transcript
func (r *TranscriptRecord) State() transcript.State {
	chunks := r.Chunks
	if chunks == nil {
		chunks = []transcript.TextChunk{}
	}
	return transcript.State{Text: r.Text, Chunks: chunks}
}

// TranscriptStorage handles storage of transcript records
type TranscriptStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewTranscriptStorage creates the storage and makes sure its schema exists
func NewTranscriptStorage(db *sql.DB, log *logger.Logger) (*TranscriptStorage, error) {
	s := &TranscriptStorage{
		db:     db,
		logger: log.Named("sqlite-tx"),
	}
	if err := s.initDB(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TranscriptStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL,
			model TEXT NOT NULL,
			subtask TEXT NOT NULL,
			language TEXT NOT NULL,
			source TEXT,
			audio_seconds REAL NOT NULL,
			duration_ms INTEGER NOT NULL,
			text TEXT NOT NULL,
			chunks TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create transcripts table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_transcripts_created_at ON transcripts(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}

	return nil
}

// StoreTranscript inserts a record and returns its id
func (s *TranscriptStorage) StoreTranscript(ctx context.Context, record *TranscriptRecord) (int64, error) {
	chunks := record.Chunks
	if chunks == nil {
		chunks = []transcript.TextChunk{}
	}
	encoded, err := json.Marshal(chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to encode chunks: %w", err)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts
		(uuid, created_at, model, subtask, language, source, audio_seconds, duration_ms, text, chunks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.UUID,
		record.CreatedAt.Format(time.RFC3339Nano),
		record.Model,
		record.Subtask,
		record.Language,
		record.Source,
		record.AudioSeconds,
		record.DurationMs,
		record.Text,
		string(encoded),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transcript: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	record.ID = id

	s.logger.Debug("Stored transcript", Int64("id", id), String("uuid", record.UUID))
	return id, nil
}

const selectColumns = `SELECT id, uuid, created_at, model, subtask, language, source, audio_seconds, duration_ms, text, chunks FROM transcripts`

// GetTranscripts returns transcripts newest first with pagination
func (s *TranscriptStorage) GetTranscripts(ctx context.Context, limit, offset int) ([]*TranscriptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer rows.Close()

	records := []*TranscriptRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcripts: %w", err)
	}

	return records, nil
}

// GetTranscript returns one transcript by id
func (s *TranscriptStorage) GetTranscript(ctx context.Context, id int64) (*TranscriptRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return record, err
}

// DeleteTranscript removes one transcript by id
func (s *TranscriptStorage) DeleteTranscript(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*TranscriptRecord, error) {
	var record TranscriptRecord
	var createdAt, chunks string
	var source sql.NullString

	if err := row.Scan(
		&record.ID,
		&record.UUID,
		&createdAt,
		&record.Model,
		&record.Subtask,
		&record.Language,
		&source,
		&record.AudioSeconds,
		&record.DurationMs,
		&record.Text,
		&chunks,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transcript: %w", err)
	}

	var err error
	record.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if source.Valid {
		record.Source = source.String
	}
	if err := json.Unmarshal([]byte(chunks), &record.Chunks); err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}

	return &record, nil
}
