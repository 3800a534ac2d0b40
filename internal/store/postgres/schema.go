// Package postgres persists processed consultations in PostgreSQL.
//
// Each [Record] holds the corrected and original transcript together with
// the extracted SOAP note, stored as a JSONB object keyed by section name.
// Notes read back from the database pass through [soap.ParseJSON], so a row
// edited by hand still yields a fully populated note.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	rec, _ := store.Save(ctx, postgres.Record{PatientID: 7, Note: note})
//	history, _ := store.ListByPatient(ctx, 7)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSOAPRecords = `
CREATE TABLE IF NOT EXISTS soap_records (
    id                  BIGSERIAL    PRIMARY KEY,
    patient_id          BIGINT       NOT NULL,
    audio_file_name     TEXT         NOT NULL DEFAULT '',
    transcript          TEXT         NOT NULL DEFAULT '',
    original_transcript TEXT         NOT NULL DEFAULT '',
    soap_sections       JSONB        NOT NULL DEFAULT '{}',
    correction_outcome  TEXT         NOT NULL DEFAULT '',
    extraction_outcome  TEXT         NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_soap_records_patient_created
    ON soap_records (patient_id, created_at DESC);
`

// Migrate creates the soap_records table and its indexes. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSOAPRecords); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
