package dosealert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abxguard/abxguard/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Alert Repository ===========

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewAlertRepoPG(pool *pgxpool.Pool) Repository { return &alertRepoPG{pool: pool} }

func (r *alertRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const alertCols = `id, assessment_id, patient_id, patient_mrn, patient_name, drug,
	indication, flag_type, severity, message, expected, actual, rule_source,
	patient_factors, assessment_detail, status, notes, resolution_reason,
	acknowledged_by, resolved_by, sent_at, acknowledged_at, resolved_at,
	created_at, updated_at`

func (r *alertRepoPG) scanAlert(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.AssessmentID, &rec.PatientID, &rec.PatientMRN, &rec.PatientName, &rec.Drug,
		&rec.Indication, &rec.FlagType, &rec.Severity, &rec.Message, &rec.Expected, &rec.Actual, &rec.RuleSource,
		&rec.PatientFactors, &rec.AssessmentDetail, &rec.Status, &rec.Notes, &rec.ResolutionReason,
		&rec.AcknowledgedBy, &rec.ResolvedBy, &rec.SentAt, &rec.AcknowledgedAt, &rec.ResolvedAt,
		&rec.CreatedAt, &rec.UpdatedAt)
	return &rec, err
}

func (r *alertRepoPG) Create(ctx context.Context, rec *Record) error {
	rec.ID = uuid.New()
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = rec.CreatedAt

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO dose_alert (id, assessment_id, patient_id, patient_mrn, patient_name, drug,
			indication, flag_type, severity, message, expected, actual, rule_source,
			patient_factors, assessment_detail, status, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		rec.ID, rec.AssessmentID, rec.PatientID, rec.PatientMRN, rec.PatientName, rec.Drug,
		rec.Indication, rec.FlagType, rec.Severity, rec.Message, rec.Expected, rec.Actual, rec.RuleSource,
		rec.PatientFactors, rec.AssessmentDetail, rec.Status, rec.Notes, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateAlert
		}
		return err
	}
	return nil
}

func (r *alertRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := r.scanAlert(r.conn(ctx).QueryRow(ctx,
		`SELECT `+alertCols+` FROM dose_alert WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update writes the lifecycle fields only. The finding itself is immutable
// after save.
func (r *alertRepoPG) Update(ctx context.Context, rec *Record) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE dose_alert SET status=$2, notes=$3, resolution_reason=$4,
			acknowledged_by=$5, resolved_by=$6, sent_at=$7, acknowledged_at=$8,
			resolved_at=$9, updated_at=NOW()
		WHERE id = $1`,
		rec.ID, rec.Status, rec.Notes, rec.ResolutionReason,
		rec.AcknowledgedBy, rec.ResolvedBy, rec.SentAt, rec.AcknowledgedAt, rec.ResolvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *alertRepoPG) FindActiveByKey(ctx context.Context, patientMRN, drug, flagType string) (*Record, error) {
	rec, err := r.scanAlert(r.conn(ctx).QueryRow(ctx, `
		SELECT `+alertCols+` FROM dose_alert
		WHERE patient_mrn = $1 AND drug = $2 AND flag_type = $3 AND status <> 'resolved'`,
		patientMRN, drug, flagType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// filterClauses appends conditions and args for the set filter fields,
// numbering placeholders after those already present.
func filterClauses(f Filter, conds []string, args []interface{}) ([]string, []interface{}) {
	if f.Severity != "" {
		args = append(args, f.Severity)
		conds = append(conds, fmt.Sprintf("severity = $%d", len(args)))
	}
	if f.FlagType != "" {
		args = append(args, f.FlagType)
		conds = append(conds, fmt.Sprintf("flag_type = $%d", len(args)))
	}
	if f.Drug != "" {
		args = append(args, f.Drug)
		conds = append(conds, fmt.Sprintf("drug = $%d", len(args)))
	}
	if f.PatientMRN != "" {
		args = append(args, f.PatientMRN)
		conds = append(conds, fmt.Sprintf("patient_mrn = $%d", len(args)))
	}
	return conds, args
}

func (r *alertRepoPG) list(ctx context.Context, statusCond string, f Filter, limit, offset int) ([]*Record, int, error) {
	conds := []string{statusCond}
	var args []interface{}
	conds, args = filterClauses(f, conds, args)
	where := strings.Join(conds, " AND ")

	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM dose_alert WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	q := `SELECT ` + alertCols + ` FROM dose_alert WHERE ` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := r.scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, rec)
	}
	return recs, total, rows.Err()
}

func (r *alertRepoPG) ListActive(ctx context.Context, f Filter, limit, offset int) ([]*Record, int, error) {
	return r.list(ctx, "status <> 'resolved'", f, limit, offset)
}

func (r *alertRepoPG) ListResolved(ctx context.Context, f Filter, limit, offset int) ([]*Record, int, error) {
	return r.list(ctx, "status = 'resolved'", f, limit, offset)
}

func (r *alertRepoPG) ListByPatient(ctx context.Context, patientMRN string) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+alertCols+` FROM dose_alert
		WHERE patient_mrn = $1 ORDER BY created_at DESC`, patientMRN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := r.scanAlert(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *alertRepoPG) ListPendingBySeverity(ctx context.Context, severities []string) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+alertCols+` FROM dose_alert
		WHERE status = 'pending' AND severity = ANY($1)
		ORDER BY created_at ASC`, severities)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := r.scanAlert(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *alertRepoPG) ListStale(ctx context.Context, statuses []Status, before time.Time) ([]*Record, error) {
	strs := make([]string, len(statuses))
	for i, s := range statuses {
		strs[i] = string(s)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+alertCols+` FROM dose_alert
		WHERE status = ANY($1) AND created_at < $2
		ORDER BY created_at ASC`, strs, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := r.scanAlert(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *alertRepoPG) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM dose_alert WHERE status <> 'resolved'`).Scan(&n)
	return n, err
}

// DeleteResolvedBefore removes resolved alerts older than the cutoff. Audit
// rows go with them through the foreign key cascade.
func (r *alertRepoPG) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM dose_alert WHERE status = 'resolved' AND resolved_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *alertRepoPG) Analytics(ctx context.Context, since time.Time) (*Analytics, error) {
	a := &Analytics{
		Since:      since,
		ByStatus:   make(map[string]int),
		BySeverity: make(map[string]int),
		ByFlagType: make(map[string]int),
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, severity, flag_type, COUNT(*)
		FROM dose_alert
		WHERE created_at >= $1
		GROUP BY status, severity, flag_type`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status, severity, flagType string
		var n int
		if err := rows.Scan(&status, &severity, &flagType, &n); err != nil {
			return nil, err
		}
		a.ByStatus[status] += n
		a.BySeverity[severity] += n
		a.ByFlagType[flagType] += n
		a.TotalCreated += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE resolution_reason = 'auto_accepted'),
			AVG(EXTRACT(EPOCH FROM (resolved_at - created_at)) / 3600.0),
			PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY EXTRACT(EPOCH FROM (resolved_at - created_at)) / 3600.0)
		FROM dose_alert
		WHERE status = 'resolved' AND resolved_at >= $1`, since).
		Scan(&a.Resolved, &a.AutoAccepted, &a.MeanResolutionHours, &a.MedianResolutionHours)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// =========== Audit Repository ===========

type auditRepoPG struct{ pool *pgxpool.Pool }

func NewAuditRepoPG(pool *pgxpool.Pool) AuditRepository { return &auditRepoPG{pool: pool} }

func (r *auditRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const auditCols = `id, alert_id, action, performer, details, created_at`

func (r *auditRepoPG) Append(ctx context.Context, e *AuditEntry) error {
	e.ID = uuid.New()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO dose_alert_audit (id, alert_id, action, performer, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.AlertID, e.Action, e.Performer, e.Details, e.CreatedAt)
	return err
}

func (r *auditRepoPG) ListByAlert(ctx context.Context, alertID uuid.UUID) ([]*AuditEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+auditCols+` FROM dose_alert_audit
		WHERE alert_id = $1 ORDER BY created_at ASC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.AlertID, &e.Action, &e.Performer, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
