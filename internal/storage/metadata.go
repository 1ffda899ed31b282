package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

var (
	// ErrNotFound is returned when a recording or stored file does not exist
	ErrNotFound = errors.New("not found")
	// ErrInProgress is returned when a recording is already being transcribed
	ErrInProgress = errors.New("transcription already in progress")
)

// MetadataDB handles SQLite database operations for recordings and their segments
type MetadataDB struct {
	db *sql.DB
}

// NewMetadataDB opens (or creates) the database at dbPath
func NewMetadataDB(dbPath string) (*MetadataDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; workers and handlers share the handle
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS recordings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL,
		file_path TEXT NOT NULL,
		source_type TEXT NOT NULL,
		upload_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		transcript_text TEXT,
		duration REAL,
		language TEXT,
		average_sentiment REAL,
		error TEXT,
		archive_urls TEXT
	);

	CREATE TABLE IF NOT EXISTS transcript_segments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recording_id INTEGER NOT NULL REFERENCES recordings(id),
		speaker TEXT NOT NULL,
		text TEXT NOT NULL,
		start_time REAL NOT NULL,
		end_time REAL NOT NULL,
		sentiment_score REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_upload_date ON recordings(upload_date);
	CREATE INDEX IF NOT EXISTS idx_segments_recording ON transcript_segments(recording_id);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &MetadataDB{db: db}, nil
}

// CreateRecording inserts rec and sets its ID
func (mdb *MetadataDB) CreateRecording(ctx context.Context, rec *types.Recording) error {
	if rec.UploadDate.IsZero() {
		rec.UploadDate = time.Now()
	}
	if rec.Status == "" {
		rec.Status = types.StatusUploaded
	}
	if rec.SourceType == "" {
		rec.SourceType = types.SourceUpload
	}

	res, err := mdb.db.ExecContext(ctx, `
	INSERT INTO recordings (filename, file_path, source_type, upload_date, status)
	VALUES (?, ?, ?, ?, ?)
	`, rec.Filename, rec.Path, rec.SourceType, rec.UploadDate, rec.Status)
	if err != nil {
		return fmt.Errorf("failed to save recording: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read recording id: %w", err)
	}
	rec.ID = id
	return nil
}

const recordingColumns = `id, filename, file_path, source_type, upload_date, status,
	transcript_text, duration, language, average_sentiment, error, archive_urls`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (*types.Recording, error) {
	var (
		rec                 types.Recording
		text, lang, errMsg  sql.NullString
		archives            sql.NullString
		duration, sentiment sql.NullFloat64
	)
	err := row.Scan(&rec.ID, &rec.Filename, &rec.Path, &rec.SourceType, &rec.UploadDate, &rec.Status,
		&text, &duration, &lang, &sentiment, &errMsg, &archives)
	if err != nil {
		return nil, err
	}

	if text.Valid {
		rec.TranscriptText = &text.String
	}
	rec.Duration = duration.Float64
	rec.Language = lang.String
	rec.AverageSentiment = sentiment.Float64
	rec.Error = errMsg.String
	if archives.String != "" {
		rec.ArchiveURLs = strings.Split(archives.String, "\n")
	}
	return &rec, nil
}

// GetRecording retrieves a recording by ID
func (mdb *MetadataDB) GetRecording(ctx context.Context, id int64) (*types.Recording, error) {
	row := mdb.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recording %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return rec, nil
}

// ListRecordings returns recordings newest first
func (mdb *MetadataDB) ListRecordings(ctx context.Context, skip, limit int) ([]types.Recording, error) {
	rows, err := mdb.db.QueryContext(ctx, `
	SELECT `+recordingColumns+`
	FROM recordings ORDER BY upload_date DESC, id DESC LIMIT ? OFFSET ?
	`, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	recordings := make([]types.Recording, 0)
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		recordings = append(recordings, *rec)
	}
	return recordings, rows.Err()
}

// SetStatus updates the status; errMsg is stored as-is, empty clears it
func (mdb *MetadataDB) SetStatus(ctx context.Context, id int64, status, errMsg string) error {
	return mdb.update(ctx, id, `UPDATE recordings SET status = ?, error = ? WHERE id = ?`,
		status, nullString(errMsg), id)
}

// ClaimTranscription moves a recording to TRANSCRIBING unless it is already
// there. Only one caller can win the claim for a given recording.
func (mdb *MetadataDB) ClaimTranscription(ctx context.Context, id int64) error {
	res, err := mdb.db.ExecContext(ctx, `
	UPDATE recordings SET status = ?, error = NULL WHERE id = ? AND status <> ?
	`, types.StatusTranscribing, id, types.StatusTranscribing)
	if err != nil {
		return fmt.Errorf("failed to update recording %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := mdb.GetRecording(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("recording %d: %w", id, ErrInProgress)
}

// ResetInterrupted marks recordings left TRANSCRIBING by a previous process as
// FAILED and returns how many there were
func (mdb *MetadataDB) ResetInterrupted(ctx context.Context) (int64, error) {
	res, err := mdb.db.ExecContext(ctx, `
	UPDATE recordings SET status = ?, error = ? WHERE status = ?
	`, types.StatusFailed, "Interrupted by server restart", types.StatusTranscribing)
	if err != nil {
		return 0, fmt.Errorf("failed to reset interrupted recordings: %w", err)
	}
	return res.RowsAffected()
}

// SaveTranscription stores a transcription result and marks the recording TRANSCRIBED
func (mdb *MetadataDB) SaveTranscription(ctx context.Context, id int64, result *types.TranscriptResult) error {
	return mdb.update(ctx, id, `
	UPDATE recordings
	SET transcript_text = ?, duration = ?, language = ?, status = ?, error = NULL
	WHERE id = ?
	`, result.Text, result.Duration, result.Language, types.StatusTranscribed, id)
}

// SetArchiveURLs records where the transcript was archived
func (mdb *MetadataDB) SetArchiveURLs(ctx context.Context, id int64, urls []string) error {
	return mdb.update(ctx, id, `UPDATE recordings SET archive_urls = ? WHERE id = ?`,
		nullString(strings.Join(urls, "\n")), id)
}

// SaveAnalysis replaces any previous segments and marks the recording COMPLETED
func (mdb *MetadataDB) SaveAnalysis(ctx context.Context, id int64, result *types.AnalysisResult) error {
	tx, err := mdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
	UPDATE recordings SET average_sentiment = ?, status = ?, error = NULL WHERE id = ?
	`, result.AverageSentiment, types.StatusCompleted, id)
	if err != nil {
		return fmt.Errorf("failed to update recording: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recording %d: %w", id, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_segments WHERE recording_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete old segments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO transcript_segments (recording_id, speaker, text, start_time, end_time, sentiment_score)
	VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare segment insert: %w", err)
	}
	defer stmt.Close()

	for _, seg := range result.Segments {
		if _, err := stmt.ExecContext(ctx, id, seg.Speaker, seg.Text, seg.StartTime, seg.EndTime, seg.SentimentScore); err != nil {
			return fmt.Errorf("failed to save segment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit analysis: %w", err)
	}
	return nil
}

// Segments returns the analysed segments of a recording in stored order
func (mdb *MetadataDB) Segments(ctx context.Context, id int64) ([]types.AnnotatedSegment, error) {
	rows, err := mdb.db.QueryContext(ctx, `
	SELECT speaker, text, start_time, end_time, sentiment_score
	FROM transcript_segments WHERE recording_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	segments := make([]types.AnnotatedSegment, 0)
	for rows.Next() {
		var seg types.AnnotatedSegment
		if err := rows.Scan(&seg.Speaker, &seg.Text, &seg.StartTime, &seg.EndTime, &seg.SentimentScore); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// Close closes the database connection
func (mdb *MetadataDB) Close() error {
	return mdb.db.Close()
}

func (mdb *MetadataDB) update(ctx context.Context, id int64, query string, args ...any) error {
	res, err := mdb.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update recording %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recording %d: %w", id, ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
