package nudge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// HistoryStore is the append-only dispatch history. Lifecycle updates are
// monotonic: a timestamp already set is never overwritten and never cleared.
type HistoryStore interface {
	Insert(ctx context.Context, rec *DispatchRecord, cooldownDays int) error
	LastSentAt(ctx context.Context, tenantID, memberID string, t Type) (*time.Time, error)
	GetByToken(ctx context.Context, token string) (*DispatchRecord, error)
	MarkOpened(ctx context.Context, token string, at time.Time) error
	MarkClicked(ctx context.Context, token string, at time.Time) error
	MarkConverted(ctx context.Context, id string, at time.Time, orderID string, orderTotal float64) error
	LatestUnconverted(ctx context.Context, memberID string, since time.Time) (*DispatchRecord, error)
	ListSince(ctx context.Context, tenantID string, t Type, since time.Time) ([]DispatchRecord, error)
}

// HistoryRepository is the postgres-backed HistoryStore.
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// CooldownBucket derives the storage-level dedup key for a dispatch. Two
// inserts for the same (tenant, member, type) landing in the same bucket
// violate the unique index, so concurrent batch runs cannot double-send even
// when both passed the cooldown read check. A non-positive cooldown disables
// bucketing by using the unique record id.
func CooldownBucket(recordID string, sentAt time.Time, cooldownDays int) string {
	if cooldownDays <= 0 {
		return recordID
	}
	return fmt.Sprintf("%d", sentAt.Unix()/(int64(cooldownDays)*86400))
}

// Insert appends a new dispatch record. ErrDuplicateDispatch is returned when
// the cooldown-bucket uniqueness constraint rejects the row.
func (r *HistoryRepository) Insert(ctx context.Context, rec *DispatchRecord, cooldownDays int) error {
	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("encode dispatch context: %w", err)
	}
	bucket := CooldownBucket(rec.ID, rec.SentAt, cooldownDays)

	query := `
		INSERT INTO dispatch_records
			(id, tenant_id, member_id, nudge_type, context, sent_at, status, tracking_token, cooldown_bucket)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.TenantID, rec.MemberID, string(rec.Type), contextJSON,
		rec.SentAt, string(rec.Status), rec.TrackingToken, bucket,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateDispatch
		}
		return fmt.Errorf("insert dispatch record: %w", err)
	}
	return nil
}

// LastSentAt returns the most recent sent_at for exactly (tenant, member,
// type), or nil when that member was never nudged for the type.
func (r *HistoryRepository) LastSentAt(ctx context.Context, tenantID, memberID string, t Type) (*time.Time, error) {
	var sentAt time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT sent_at FROM dispatch_records
		WHERE tenant_id = $1 AND member_id = $2 AND nudge_type = $3
		ORDER BY sent_at DESC LIMIT 1
	`, tenantID, memberID, string(t)).Scan(&sentAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last sent: %w", err)
	}
	return &sentAt, nil
}

func (r *HistoryRepository) GetByToken(ctx context.Context, token string) (*DispatchRecord, error) {
	row := r.db.QueryRowContext(ctx, selectRecord+` WHERE tracking_token = $1`, token)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query dispatch by token: %w", err)
	}
	return rec, nil
}

// MarkOpened sets opened_at if unset. Unknown tokens report ErrNotFound so
// the gateway can absorb them; an already-opened record is a no-op.
func (r *HistoryRepository) MarkOpened(ctx context.Context, token string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE dispatch_records SET
			opened_at = COALESCE(opened_at, $2),
			status = CASE WHEN status IN ('sent','delivered') THEN 'opened' ELSE status END
		WHERE tracking_token = $1
	`, token, at)
	return checkUpdated(res, err, "mark opened")
}

// MarkClicked sets clicked_at if unset and backfills opened_at, since a click
// proves the message was opened even when the open pixel was blocked.
func (r *HistoryRepository) MarkClicked(ctx context.Context, token string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE dispatch_records SET
			clicked_at = COALESCE(clicked_at, $2),
			opened_at = COALESCE(opened_at, $2),
			status = CASE WHEN status IN ('sent','delivered','opened') THEN 'clicked' ELSE status END
		WHERE tracking_token = $1
	`, token, at)
	return checkUpdated(res, err, "mark clicked")
}

// MarkConverted stamps the conversion and backfills opened_at and clicked_at.
// A record already converted is left untouched.
func (r *HistoryRepository) MarkConverted(ctx context.Context, id string, at time.Time, orderID string, orderTotal float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE dispatch_records SET
			converted_at = $2,
			clicked_at = COALESCE(clicked_at, $2),
			opened_at = COALESCE(opened_at, $2),
			order_id = $3,
			order_total = $4,
			status = 'converted'
		WHERE id = $1 AND converted_at IS NULL
	`, id, at, orderID, orderTotal)
	return checkUpdated(res, err, "mark converted")
}

// LatestUnconverted finds the newest unconverted dispatch for the member with
// sent_at inside the attribution window starting at since.
func (r *HistoryRepository) LatestUnconverted(ctx context.Context, memberID string, since time.Time) (*DispatchRecord, error) {
	row := r.db.QueryRowContext(ctx, selectRecord+`
		WHERE member_id = $1 AND converted_at IS NULL AND sent_at >= $2
		ORDER BY sent_at DESC LIMIT 1
	`, memberID, since)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query attributable dispatch: %w", err)
	}
	return rec, nil
}

// ListSince returns the tenant's records with sent_at >= since, newest first.
// An empty type matches every type.
func (r *HistoryRepository) ListSince(ctx context.Context, tenantID string, t Type, since time.Time) ([]DispatchRecord, error) {
	query := selectRecord + ` WHERE tenant_id = $1 AND sent_at >= $2`
	args := []any{tenantID, since}
	if t != "" {
		query += ` AND nudge_type = $3`
		args = append(args, string(t))
	}
	query += ` ORDER BY sent_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dispatch records: %w", err)
	}
	defer rows.Close()

	var records []DispatchRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

const selectRecord = `
	SELECT id, tenant_id, member_id, nudge_type, context, sent_at, status,
	       opened_at, clicked_at, converted_at, order_id, order_total, tracking_token
	FROM dispatch_records`

func scanRecord(row rowScanner) (*DispatchRecord, error) {
	var rec DispatchRecord
	var typ, status string
	var contextJSON []byte
	var orderID sql.NullString
	var orderTotal sql.NullFloat64
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.MemberID, &typ, &contextJSON, &rec.SentAt, &status,
		&rec.OpenedAt, &rec.ClickedAt, &rec.ConvertedAt, &orderID, &orderTotal, &rec.TrackingToken)
	if err != nil {
		return nil, err
	}
	rec.Type = Type(typ)
	rec.Status = Status(status)
	rec.OrderID = orderID.String
	rec.OrderTotal = orderTotal.Float64
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &rec.Context); err != nil {
			return nil, fmt.Errorf("decode dispatch context: %w", err)
		}
	}
	return &rec, nil
}

func checkUpdated(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
