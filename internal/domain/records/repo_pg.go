package records

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dentms/dentms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, patient_id, dentist_id, reason, scheduled_at, fee, invoice_id, created_at`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DentistID, &a.Reason, &a.ScheduledAt,
		&a.Fee, &a.InvoiceID, &a.CreatedAt)
	return &a, err
}

func (r *appointmentRepoPG) FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *appointmentRepoPG) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orderByIDs(items, ids, func(a *Appointment) uuid.UUID { return a.ID }), nil
}

func (r *appointmentRepoPG) ClaimForInvoice(ctx context.Context, id, invoiceID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointments SET invoice_id = $2 WHERE id = $1 AND invoice_id IS NULL`, id, invoiceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *appointmentRepoPG) ReleaseInvoice(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointments SET invoice_id = NULL WHERE id = $1`, id)
	return err
}

func (r *appointmentRepoPG) IDsByDentist(ctx context.Context, dentistID uuid.UUID) ([]uuid.UUID, error) {
	return scanIDs(r.conn(ctx).Query(ctx,
		`SELECT DISTINCT id FROM appointments WHERE dentist_id = $1`, dentistID))
}

// =========== Treatment Repository ===========

type treatmentRepoPG struct{ pool *pgxpool.Pool }

func NewTreatmentRepoPG(pool *pgxpool.Pool) TreatmentRepository {
	return &treatmentRepoPG{pool: pool}
}

func (r *treatmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const treatmentCols = `id, patient_id, dentist_id, name, cost, estimated_cost,
	invoice_id, paid_amount, payment_status, created_at`

func (r *treatmentRepoPG) scanTreatment(row pgx.Row) (*Treatment, error) {
	var t Treatment
	err := row.Scan(&t.ID, &t.PatientID, &t.DentistID, &t.Name, &t.Cost, &t.EstimatedCost,
		&t.InvoiceID, &t.PaidAmount, &t.PaymentStatus, &t.CreatedAt)
	return &t, err
}

func (r *treatmentRepoPG) FindByID(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	t, err := r.scanTreatment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+treatmentCols+` FROM treatments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *treatmentRepoPG) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Treatment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+treatmentCols+` FROM treatments WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Treatment
	for rows.Next() {
		t, err := r.scanTreatment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orderByIDs(items, ids, func(t *Treatment) uuid.UUID { return t.ID }), nil
}

func (r *treatmentRepoPG) ClaimForInvoice(ctx context.Context, id, invoiceID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE treatments SET invoice_id = $2 WHERE id = $1 AND invoice_id IS NULL`, id, invoiceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *treatmentRepoPG) ReleaseInvoice(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE treatments SET invoice_id = NULL WHERE id = $1`, id)
	return err
}

func (r *treatmentRepoPG) IDsByDentist(ctx context.Context, dentistID uuid.UUID) ([]uuid.UUID, error) {
	return scanIDs(r.conn(ctx).Query(ctx,
		`SELECT DISTINCT id FROM treatments WHERE dentist_id = $1`, dentistID))
}

func (r *treatmentRepoPG) ApplyPaymentShare(ctx context.Context, id uuid.UUID, share decimal.Decimal) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE treatments SET paid_amount = paid_amount + $2,
			payment_status = CASE WHEN paid_amount + $2 >= cost THEN 'paid' ELSE 'partial' END
		WHERE id = $1`, id, share)
	return err
}

// =========== LabOrder Repository ===========

type labOrderRepoPG struct{ pool *pgxpool.Pool }

func NewLabOrderRepoPG(pool *pgxpool.Pool) LabOrderRepository {
	return &labOrderRepoPG{pool: pool}
}

func (r *labOrderRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const labOrderCols = `id, patient_id, dentist_id, lab_name, work_type, cost, invoice_id, created_at`

func (r *labOrderRepoPG) scanLabOrder(row pgx.Row) (*LabOrder, error) {
	var o LabOrder
	err := row.Scan(&o.ID, &o.PatientID, &o.DentistID, &o.LabName, &o.WorkType,
		&o.Cost, &o.InvoiceID, &o.CreatedAt)
	return &o, err
}

func (r *labOrderRepoPG) FindByID(ctx context.Context, id uuid.UUID) (*LabOrder, error) {
	o, err := r.scanLabOrder(r.conn(ctx).QueryRow(ctx,
		`SELECT `+labOrderCols+` FROM lab_orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *labOrderRepoPG) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*LabOrder, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+labOrderCols+` FROM lab_orders WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LabOrder
	for rows.Next() {
		o, err := r.scanLabOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orderByIDs(items, ids, func(o *LabOrder) uuid.UUID { return o.ID }), nil
}

func (r *labOrderRepoPG) ClaimForInvoice(ctx context.Context, id, invoiceID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE lab_orders SET invoice_id = $2 WHERE id = $1 AND invoice_id IS NULL`, id, invoiceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *labOrderRepoPG) ReleaseInvoice(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE lab_orders SET invoice_id = NULL WHERE id = $1`, id)
	return err
}

func (r *labOrderRepoPG) IDsByDentist(ctx context.Context, dentistID uuid.UUID) ([]uuid.UUID, error) {
	return scanIDs(r.conn(ctx).Query(ctx,
		`SELECT DISTINCT id FROM lab_orders WHERE dentist_id = $1`, dentistID))
}

// =========== Prescription Repository ===========

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const prescriptionCols = `id, patient_id, dentist_id, medications, fee, invoice_id, created_at`

func (r *prescriptionRepoPG) scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.DentistID, &p.Medications,
		&p.Fee, &p.InvoiceID, &p.CreatedAt)
	return &p, err
}

func (r *prescriptionRepoPG) FindByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := r.scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescriptions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *prescriptionRepoPG) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+prescriptionCols+` FROM prescriptions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := r.scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orderByIDs(items, ids, func(p *Prescription) uuid.UUID { return p.ID }), nil
}

func (r *prescriptionRepoPG) ClaimForInvoice(ctx context.Context, id, invoiceID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE prescriptions SET invoice_id = $2 WHERE id = $1 AND invoice_id IS NULL`, id, invoiceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *prescriptionRepoPG) ReleaseInvoice(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE prescriptions SET invoice_id = NULL WHERE id = $1`, id)
	return err
}

func (r *prescriptionRepoPG) IDsByDentist(ctx context.Context, dentistID uuid.UUID) ([]uuid.UUID, error) {
	return scanIDs(r.conn(ctx).Query(ctx,
		`SELECT DISTINCT id FROM prescriptions WHERE dentist_id = $1`, dentistID))
}

// orderByIDs arranges fetched records in the order the ids were requested.
// ANY($1) reads return rows in arbitrary order; invoice line items are built
// positionally from these results, so the request order is the contract.
// Ids with no matching row are skipped.
func orderByIDs[T any](items []*T, ids []uuid.UUID, idOf func(*T) uuid.UUID) []*T {
	byID := make(map[uuid.UUID]*T, len(items))
	for _, it := range items {
		byID[idOf(it)] = it
	}
	out := make([]*T, 0, len(items))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

func scanIDs(rows pgx.Rows, err error) ([]uuid.UUID, error) {
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
