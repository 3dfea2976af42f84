package reviewqueue

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const reviewCols = `id, module, alert_type, severity, patient_mrn, patient_name,
	title, summary, content, status, reviewed_by, reviewed_at, created_at`

func (r *repoPG) scanAlert(row pgx.Row) (*ReviewAlert, error) {
	var a ReviewAlert
	err := row.Scan(&a.ID, &a.Module, &a.AlertType, &a.Severity, &a.PatientMRN, &a.PatientName,
		&a.Title, &a.Summary, &a.Content, &a.Status, &a.ReviewedBy, &a.ReviewedAt, &a.CreatedAt)
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *ReviewAlert) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusNew
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO review_alert (id, module, alert_type, severity, patient_mrn, patient_name,
			title, summary, content, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.Module, a.AlertType, a.Severity, a.PatientMRN, a.PatientName,
		a.Title, a.Summary, a.Content, a.Status, a.CreatedAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*ReviewAlert, error) {
	a, err := r.scanAlert(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reviewCols+` FROM review_alert WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *repoPG) Update(ctx context.Context, a *ReviewAlert) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE review_alert SET status=$2, reviewed_by=$3, reviewed_at=$4
		WHERE id = $1`,
		a.ID, a.Status, a.ReviewedBy, a.ReviewedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*ReviewAlert, int, error) {
	conds := []string{"TRUE"}
	var args []interface{}
	if f.Module != "" {
		args = append(args, f.Module)
		conds = append(conds, fmt.Sprintf("module = $%d", len(args)))
	}
	if f.Severity != "" {
		args = append(args, f.Severity)
		conds = append(conds, fmt.Sprintf("severity = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := strings.Join(conds, " AND ")

	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM review_alert WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	q := `SELECT ` + reviewCols + ` FROM review_alert WHERE ` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var alerts []*ReviewAlert
	for rows.Next() {
		a, err := r.scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, a)
	}
	return alerts, total, rows.Err()
}
