package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linzo/caption-relay/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)

// CaptionRecord represents a stored final caption
type CaptionRecord struct {
	ID               int64     `json:"id"`
	CallSID          string    `json:"call_sid"`
	CreatedAt        time.Time `json:"created_at"`
	Content          string    `json:"content"`
	SequenceID       string    `json:"sequence_id,omitempty"`
	DetectedLanguage string    `json:"detected_language,omitempty"`
}

// CaptionStorage handles persistence of final captions
type CaptionStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewCaptionStorage opens (creating if needed) the caption database at dbPath
func NewCaptionStorage(dbPath string, log *logger.Logger) (*CaptionStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite caption storage",
		String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	storage := &CaptionStorage{
		db:     db,
		logger: storageLogger,
	}

	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize caption storage: %w", err)
	}

	return storage, nil
}

// Close closes the database
func (s *CaptionStorage) Close() error {
	return s.db.Close()
}

// initDB initializes the database tables
func (s *CaptionStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS captions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			call_sid TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			content TEXT NOT NULL,
			sequence_id TEXT,
			detected_language TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create captions table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_call_sid ON captions(call_sid)`)
	if err != nil {
		return fmt.Errorf("failed to create call_sid index: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_created_at ON captions(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}

	return nil
}

// StoreCaption stores a caption record and returns its id
func (s *CaptionStorage) StoreCaption(record *CaptionRecord) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO captions
		(call_sid, created_at, content, sequence_id, detected_language)
		VALUES (?, ?, ?, ?, ?)`,
		record.CallSID,
		record.CreatedAt.Format(time.RFC3339),
		record.Content,
		record.SequenceID,
		record.DetectedLanguage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert caption: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetCaptions returns all captions with pagination, newest first
func (s *CaptionStorage) GetCaptions(limit, offset int) ([]*CaptionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, call_sid, created_at, content, sequence_id, detected_language
		FROM captions
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query captions: %w", err)
	}
	defer rows.Close()

	return scanCaptions(rows)
}

// GetCaptionsByCall returns captions for a specific call, oldest first so the
// result reads as a transcript
func (s *CaptionStorage) GetCaptionsByCall(callSID string, limit, offset int) ([]*CaptionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, call_sid, created_at, content, sequence_id, detected_language
		FROM captions
		WHERE call_sid = ?
		ORDER BY created_at ASC
		LIMIT ? OFFSET ?`,
		callSID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query captions by call: %w", err)
	}
	defer rows.Close()

	return scanCaptions(rows)
}

// GetCaptionsByTimeRange returns captions within a time range
func (s *CaptionStorage) GetCaptionsByTimeRange(startTime, endTime time.Time, limit, offset int) ([]*CaptionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, call_sid, created_at, content, sequence_id, detected_language
		FROM captions
		WHERE created_at BETWEEN ? AND ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		startTime.Format(time.RFC3339), endTime.Format(time.RFC3339), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query captions by time range: %w", err)
	}
	defer rows.Close()

	return scanCaptions(rows)
}

// HasSequenceID reports whether a caption with the given sequence id has
// already been stored for the call
func (s *CaptionStorage) HasSequenceID(callSID, sequenceID string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM captions WHERE call_sid = ? AND sequence_id = ?`,
		callSID, sequenceID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check sequence id: %w", err)
	}
	return count > 0, nil
}

func scanCaptions(rows *sql.Rows) ([]*CaptionRecord, error) {
	var records []*CaptionRecord
	for rows.Next() {
		var record CaptionRecord
		var createdAt string
		var sequenceID, detectedLanguage sql.NullString

		if err := rows.Scan(
			&record.ID,
			&record.CallSID,
			&createdAt,
			&record.Content,
			&sequenceID,
			&detectedLanguage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan caption: %w", err)
		}

		parsed, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		record.CreatedAt = parsed

		if sequenceID.Valid {
			record.SequenceID = sequenceID.String
		}
		if detectedLanguage.Valid {
			record.DetectedLanguage = detectedLanguage.String
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}
