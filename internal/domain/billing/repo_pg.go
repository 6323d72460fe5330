package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentms/dentms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// translateErr maps driver-level failures onto the billing error taxonomy.
// Serialization failures and lock timeouts become retryable conflicts.
func translateErr(err error, notFoundMsg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound("%s", notFoundMsg)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "55P03":
			return &Error{Code: CodeConflict, Message: "concurrent update, retry", Err: err}
		case "23505":
			return &Error{Code: CodeConflict, Message: "duplicate key", Err: err}
		}
	}
	return err
}

// InvoiceRepositoryPG is the PostgreSQL-backed invoice repository.
type InvoiceRepositoryPG struct {
	pool *pgxpool.Pool
}

func NewInvoiceRepositoryPG(pool *pgxpool.Pool) *InvoiceRepositoryPG {
	return &InvoiceRepositoryPG{pool: pool}
}

func (r *InvoiceRepositoryPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const invoiceCols = `id, invoice_number, invoice_type, patient_id, patient_name,
	subtotal, tax, discount, total, paid_amount, balance, status, source_kind,
	due_date, notes, advance_payment_pct, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.InvoiceType, &inv.PatientID, &inv.PatientName,
		&inv.Subtotal, &inv.Tax, &inv.Discount, &inv.Total, &inv.PaidAmount,
		&inv.Balance, &inv.Status, &inv.Source.Kind,
		&inv.DueDate, &inv.Notes, &inv.AdvancePaymentPct, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *InvoiceRepositoryPG) Create(ctx context.Context, inv *Invoice) error {
	q := r.conn(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO invoices (id, invoice_number, invoice_type, patient_id, patient_name,
			subtotal, tax, discount, total, paid_amount, balance, status, source_kind,
			due_date, notes, advance_payment_pct, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		inv.ID, inv.InvoiceNumber, inv.InvoiceType, inv.PatientID, inv.PatientName,
		inv.Subtotal, inv.Tax, inv.Discount, inv.Total, inv.PaidAmount, inv.Balance,
		inv.Status, inv.Source.Kind, inv.DueDate, inv.Notes, inv.AdvancePaymentPct,
		inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return translateErr(err, "invoice not found")
	}
	if err := r.insertItems(ctx, q, inv); err != nil {
		return err
	}
	return r.insertSources(ctx, q, inv)
}

func (r *InvoiceRepositoryPG) insertItems(ctx context.Context, q queryable, inv *Invoice) error {
	for i, item := range inv.Items {
		_, err := q.Exec(ctx, `
			INSERT INTO invoice_items (invoice_id, position, description, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			inv.ID, i, item.Description, item.Quantity, item.UnitPrice, item.LineTotal,
		)
		if err != nil {
			return translateErr(err, "invoice not found")
		}
	}
	return nil
}

func (r *InvoiceRepositoryPG) insertSources(ctx context.Context, q queryable, inv *Invoice) error {
	for i, ref := range inv.Source.Refs {
		_, err := q.Exec(ctx, `
			INSERT INTO invoice_sources (invoice_id, position, source_kind, source_id, snapshot)
			VALUES ($1, $2, $3, $4, $5)`,
			inv.ID, i, inv.Source.Kind, ref.ID, ref.Snapshot,
		)
		if err != nil {
			return translateErr(err, "invoice not found")
		}
	}
	return nil
}

func (r *InvoiceRepositoryPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.get(ctx, id, false)
}

func (r *InvoiceRepositoryPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.get(ctx, id, true)
}

func (r *InvoiceRepositoryPG) get(ctx context.Context, id uuid.UUID, lock bool) (*Invoice, error) {
	q := r.conn(ctx)
	sql := fmt.Sprintf(`SELECT %s FROM invoices WHERE id = $1`, invoiceCols)
	if lock {
		sql += " FOR UPDATE"
	}
	inv, err := scanInvoice(q.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, translateErr(err, "invoice not found")
	}
	if err := r.loadItems(ctx, q, inv); err != nil {
		return nil, err
	}
	if err := r.loadSources(ctx, q, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *InvoiceRepositoryPG) loadItems(ctx context.Context, q queryable, inv *Invoice) error {
	rows, err := q.Query(ctx, `
		SELECT description, quantity, unit_price, line_total
		FROM invoice_items WHERE invoice_id = $1 ORDER BY position`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var item InvoiceItem
		if err := rows.Scan(&item.Description, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return err
		}
		inv.Items = append(inv.Items, item)
	}
	return rows.Err()
}

func (r *InvoiceRepositoryPG) loadSources(ctx context.Context, q queryable, inv *Invoice) error {
	rows, err := q.Query(ctx, `
		SELECT source_id, snapshot
		FROM invoice_sources WHERE invoice_id = $1 ORDER BY position`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var ref SourceRef
		if err := rows.Scan(&ref.ID, &ref.Snapshot); err != nil {
			return err
		}
		inv.Source.Refs = append(inv.Source.Refs, ref)
	}
	return rows.Err()
}

func (r *InvoiceRepositoryPG) Update(ctx context.Context, inv *Invoice) error {
	q := r.conn(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE invoices SET
			subtotal = $2, tax = $3, discount = $4, total = $5, paid_amount = $6,
			balance = $7, status = $8, due_date = $9, notes = $10, updated_at = NOW()
		WHERE id = $1`,
		inv.ID, inv.Subtotal, inv.Tax, inv.Discount, inv.Total, inv.PaidAmount,
		inv.Balance, inv.Status, inv.DueDate, inv.Notes,
	)
	if err != nil {
		return translateErr(err, "invoice not found")
	}
	if tag.RowsAffected() == 0 {
		return NewNotFound("invoice not found")
	}
	// Line items are replaced wholesale; they only change on a cost patch.
	if _, err := q.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, inv.ID); err != nil {
		return err
	}
	return r.insertItems(ctx, q, inv)
}

func (r *InvoiceRepositoryPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return translateErr(err, "invoice not found")
	}
	if tag.RowsAffected() == 0 {
		return NewNotFound("invoice not found")
	}
	return nil
}

func (r *InvoiceRepositoryPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Invoice, int, error) {
	where := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.InvoiceType != nil {
		where = append(where, "invoice_type = "+arg(*filter.InvoiceType))
	}
	if filter.Status != nil {
		where = append(where, "status = "+arg(*filter.Status))
	}
	if filter.PatientID != nil {
		where = append(where, "patient_id = "+arg(*filter.PatientID))
	}
	if filter.IDs != nil {
		if len(filter.IDs) == 0 {
			return []*Invoice{}, 0, nil
		}
		where = append(where, "id = ANY("+arg(filter.IDs)+")")
	}
	cond := strings.Join(where, " AND ")
	q := r.conn(ctx)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sql := fmt.Sprintf(`SELECT %s FROM invoices WHERE %s ORDER BY created_at DESC LIMIT %s OFFSET %s`,
		invoiceCols, cond, arg(limit), arg(offset))
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, inv := range invoices {
		if err := r.loadItems(ctx, q, inv); err != nil {
			return nil, 0, err
		}
		if err := r.loadSources(ctx, q, inv); err != nil {
			return nil, 0, err
		}
	}
	return invoices, total, nil
}

func (r *InvoiceRepositoryPG) IDsBySourceIDs(ctx context.Context, sourceIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT invoice_id FROM invoice_sources WHERE source_id = ANY($1)`, sourceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PaymentRepositoryPG is the PostgreSQL-backed payment repository.
type PaymentRepositoryPG struct {
	pool *pgxpool.Pool
}

func NewPaymentRepositoryPG(pool *pgxpool.Pool) *PaymentRepositoryPG {
	return &PaymentRepositoryPG{pool: pool}
}

func (r *PaymentRepositoryPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const paymentCols = `id, invoice_id, patient_id, amount, method, transaction_id,
	COALESCE(idempotency_key, ''), payment_date, status, notes, created_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.InvoiceID, &p.PatientID, &p.Amount, &p.Method, &p.TransactionID,
		&p.IdempotencyKey, &p.PaymentDate, &p.Status, &p.Notes, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepositoryPG) Create(ctx context.Context, p *Payment) error {
	var key any
	if p.IdempotencyKey != "" {
		key = p.IdempotencyKey
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payments (id, invoice_id, patient_id, amount, method, transaction_id,
			idempotency_key, payment_date, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.InvoiceID, p.PatientID, p.Amount, p.Method, p.TransactionID,
		key, p.PaymentDate, p.Status, p.Notes, p.CreatedAt,
	)
	if err != nil {
		return translateErr(err, "payment not found")
	}
	return nil
}

func (r *PaymentRepositoryPG) GetByIdempotencyKey(ctx context.Context, key string) (*Payment, error) {
	sql := fmt.Sprintf(`SELECT %s FROM payments WHERE idempotency_key = $1`, paymentCols)
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx, sql, key))
	if err != nil {
		return nil, translateErr(err, "payment not found")
	}
	return p, nil
}

func (r *PaymentRepositoryPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID, limit, offset int) ([]*Payment, int, error) {
	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE invoice_id = $1`, invoiceID).Scan(&total); err != nil {
		return nil, 0, err
	}
	sql := fmt.Sprintf(`SELECT %s FROM payments WHERE invoice_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, paymentCols)
	rows, err := q.Query(ctx, sql, invoiceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var payments []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, p)
	}
	return payments, total, rows.Err()
}

// TxRunnerPG runs fn inside a database transaction threaded through ctx.
type TxRunnerPG struct {
	pool *pgxpool.Pool
}

func NewTxRunnerPG(pool *pgxpool.Pool) *TxRunnerPG {
	return &TxRunnerPG{pool: pool}
}

func (t *TxRunnerPG) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := db.WithTx(ctx, t.pool, fn)
	if err != nil {
		return translateErr(err, "not found")
	}
	return nil
}
