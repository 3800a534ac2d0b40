package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/medscribe/pkg/soap"
)

// ErrNotFound is returned when no record has the requested ID.
var ErrNotFound = errors.New("postgres store: record not found")

// Record is one processed consultation.
type Record struct {
	ID        int64
	PatientID int64

	// AudioFileName names the recording the transcript came from, if any.
	AudioFileName string

	// Transcript is the diarization-corrected transcript.
	Transcript string

	// OriginalTranscript is the transcript as it was submitted.
	OriginalTranscript string

	Note soap.Note

	// CorrectionOutcome and ExtractionOutcome record how each pipeline
	// stage terminated (e.g. "accepted", "fallback_word_mismatch").
	CorrectionOutcome string
	ExtractionOutcome string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is a PostgreSQL-backed record store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping checks connectivity. It satisfies health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

const recordColumns = `id, patient_id, audio_file_name, transcript, original_transcript,
		       soap_sections, correction_outcome, extraction_outcome, created_at, updated_at`

// Save inserts rec and returns it with ID and timestamps assigned. rec.ID,
// rec.CreatedAt and rec.UpdatedAt are ignored.
func (s *Store) Save(ctx context.Context, rec Record) (*Record, error) {
	sections, err := json.Marshal(rec.Note)
	if err != nil {
		return nil, fmt.Errorf("postgres store: save: marshal note: %w", err)
	}

	q := `
		INSERT INTO soap_records
		    (patient_id, audio_file_name, transcript, original_transcript,
		     soap_sections, correction_outcome, extraction_outcome)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
		RETURNING ` + recordColumns

	rows, err := s.pool.Query(ctx, q,
		rec.PatientID,
		rec.AudioFileName,
		rec.Transcript,
		rec.OriginalTranscript,
		sections,
		rec.CorrectionOutcome,
		rec.ExtractionOutcome,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: save: %w", err)
	}
	saved, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("postgres store: save: %w", err)
	}
	return &saved, nil
}

// Get returns the record with the given ID, or [ErrNotFound].
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	q := `SELECT ` + recordColumns + `
		FROM   soap_records
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get: %w", err)
	}
	return &rec, nil
}

// ListByPatient returns every record of a patient, newest first. A patient
// without records yields an empty, non-nil slice.
func (s *Store) ListByPatient(ctx context.Context, patientID int64) ([]Record, error) {
	q := `SELECT ` + recordColumns + `
		FROM   soap_records
		WHERE  patient_id = $1
		ORDER  BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, q, patientID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list by patient: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list by patient: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// UpdateSections replaces the note of a record with sections after running
// them through [soap.ValidateAndRepair], and refreshes updated_at. It returns
// the note as stored.
func (s *Store) UpdateSections(ctx context.Context, id int64, sections map[string]any) (soap.Note, error) {
	note := soap.ValidateAndRepair(sections)
	data, err := json.Marshal(note)
	if err != nil {
		return soap.Note{}, fmt.Errorf("postgres store: update sections: marshal note: %w", err)
	}

	const q = `
		UPDATE soap_records
		SET    soap_sections = $2::jsonb,
		       updated_at    = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, data)
	if err != nil {
		return soap.Note{}, fmt.Errorf("postgres store: update sections: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return soap.Note{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return note, nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, id int64) error {
	const q = `DELETE FROM soap_records WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("postgres store: delete: %w", err)
	}
	return nil
}

// scanRecord scans one row selected with recordColumns.
func scanRecord(row pgx.CollectableRow) (Record, error) {
	var (
		rec      Record
		sections []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.PatientID,
		&rec.AudioFileName,
		&rec.Transcript,
		&rec.OriginalTranscript,
		&sections,
		&rec.CorrectionOutcome,
		&rec.ExtractionOutcome,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return Record{}, err
	}
	note, err := soap.ParseJSON(sections)
	if err != nil {
		return Record{}, fmt.Errorf("decode soap_sections of record %d: %w", rec.ID, err)
	}
	rec.Note = note
	return rec, nil
}
