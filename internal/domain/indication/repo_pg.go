package indication

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abxguard/abxguard/internal/platform/db"
)

type pgSource struct {
	pool *pgxpool.Pool
}

// NewPGSource reads indications from the patient_indication table, which the
// extraction pipeline (and the seed command) writes into.
func NewPGSource(pool *pgxpool.Pool) *pgSource {
	return &pgSource{pool: pool}
}

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (s *pgSource) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const indicationColumns = `id, patient_mrn, syndrome, confidence, source, recorded_at`

// Current returns the most recently recorded indication for the patient, or
// (nil, nil) when none is documented.
func (s *pgSource) Current(ctx context.Context, patientMRN string) (*Indication, error) {
	row := s.conn(ctx).QueryRow(ctx, `
		SELECT `+indicationColumns+`
		FROM patient_indication
		WHERE patient_mrn = $1
		ORDER BY recorded_at DESC
		LIMIT 1`, patientMRN)

	var ind Indication
	err := row.Scan(&ind.ID, &ind.PatientMRN, &ind.Syndrome, &ind.Confidence, &ind.Source, &ind.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ind, nil
}

// Save records an indication. Used by the seed command and fixture loads; the
// monitor path never writes indications.
func (s *pgSource) Save(ctx context.Context, ind *Indication) error {
	ind.ID = uuid.New()
	if ind.RecordedAt.IsZero() {
		ind.RecordedAt = time.Now()
	}
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO patient_indication (id, patient_mrn, syndrome, confidence, source, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ind.ID, ind.PatientMRN, ind.Syndrome, ind.Confidence, ind.Source, ind.RecordedAt,
	)
	return err
}
