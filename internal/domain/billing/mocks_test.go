package billing

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dentms/dentms/internal/domain/records"
)

// mockTx serializes transactions with a single lock, standing in for the row
// lock the database takes on GetForUpdate.
type mockTx struct {
	mu sync.Mutex
}

func (t *mockTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(ctx)
}

// snapshotTx adds rollback semantics to the map-backed mocks: when the
// transaction function fails, every repo is restored to its state at the
// start of the transaction.
type snapshotTx struct {
	mu       sync.Mutex
	invoices *mockInvoiceRepo
	recs     *mockRecordRepo
}

func (t *snapshotTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	invSnap := t.invoices.snapshot()
	recSnap := t.recs.snapshot()
	if err := fn(ctx); err != nil {
		t.invoices.restore(invSnap)
		t.recs.restore(recSnap)
		return err
	}
	return nil
}

type mockInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*Invoice
}

func newMockInvoiceRepo() *mockInvoiceRepo {
	return &mockInvoiceRepo{invoices: make(map[uuid.UUID]*Invoice)}
}

func cloneInvoice(inv *Invoice) *Invoice {
	cp := *inv
	cp.Items = append([]InvoiceItem(nil), inv.Items...)
	cp.Source.Refs = append([]SourceRef(nil), inv.Source.Refs...)
	return &cp
}

func (r *mockInvoiceRepo) Create(ctx context.Context, inv *Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (r *mockInvoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, NewNotFound("invoice not found")
	}
	return cloneInvoice(inv), nil
}

func (r *mockInvoiceRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.GetByID(ctx, id)
}

func (r *mockInvoiceRepo) Update(ctx context.Context, inv *Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[inv.ID]; !ok {
		return NewNotFound("invoice not found")
	}
	r.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (r *mockInvoiceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[id]; !ok {
		return NewNotFound("invoice not found")
	}
	delete(r.invoices, id)
	return nil
}

func (r *mockInvoiceRepo) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Invoice, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	allowed := map[uuid.UUID]bool{}
	if filter.IDs != nil {
		for _, id := range filter.IDs {
			allowed[id] = true
		}
	}
	var out []*Invoice
	for _, inv := range r.invoices {
		if filter.IDs != nil && !allowed[inv.ID] {
			continue
		}
		if filter.InvoiceType != nil && inv.InvoiceType != *filter.InvoiceType {
			continue
		}
		if filter.Status != nil && inv.Status != *filter.Status {
			continue
		}
		if filter.PatientID != nil && inv.PatientID != *filter.PatientID {
			continue
		}
		out = append(out, cloneInvoice(inv))
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *mockInvoiceRepo) IDsBySourceIDs(ctx context.Context, sourceIDs []uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := map[uuid.UUID]bool{}
	for _, id := range sourceIDs {
		wanted[id] = true
	}
	var out []uuid.UUID
	for _, inv := range r.invoices {
		for _, ref := range inv.Source.Refs {
			if wanted[ref.ID] {
				out = append(out, inv.ID)
				break
			}
		}
	}
	return out, nil
}

func (r *mockInvoiceRepo) snapshot() map[uuid.UUID]*Invoice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]*Invoice, len(r.invoices))
	for id, inv := range r.invoices {
		out[id] = cloneInvoice(inv)
	}
	return out
}

func (r *mockInvoiceRepo) restore(s map[uuid.UUID]*Invoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices = s
}

type mockPaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*Payment
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{payments: make(map[uuid.UUID]*Payment)}
}

func (r *mockPaymentRepo) Create(ctx context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.IdempotencyKey != "" {
		for _, existing := range r.payments {
			if existing.IdempotencyKey == p.IdempotencyKey {
				return NewConflict("duplicate key")
			}
		}
	}
	cp := *p
	r.payments[p.ID] = &cp
	return nil
}

func (r *mockPaymentRepo) GetByIdempotencyKey(ctx context.Context, key string) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.IdempotencyKey == key {
			cp := *p
			return &cp, nil
		}
	}
	return nil, NewNotFound("payment not found")
}

func (r *mockPaymentRepo) ListByInvoice(ctx context.Context, invoiceID uuid.UUID, limit, offset int) ([]*Payment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Payment
	for _, p := range r.payments {
		if p.InvoiceID == invoiceID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

// mockRecordRepo backs all four source-record repositories.
type mockRecordRepo struct {
	mu            sync.Mutex
	appointments  map[uuid.UUID]*records.Appointment
	treatments    map[uuid.UUID]*records.Treatment
	labOrders     map[uuid.UUID]*records.LabOrder
	prescriptions map[uuid.UUID]*records.Prescription
}

func newMockRecords() (*mockRecordRepo, records.Repositories) {
	m := &mockRecordRepo{
		appointments:  make(map[uuid.UUID]*records.Appointment),
		treatments:    make(map[uuid.UUID]*records.Treatment),
		labOrders:     make(map[uuid.UUID]*records.LabOrder),
		prescriptions: make(map[uuid.UUID]*records.Prescription),
	}
	return m, records.Repositories{
		Appointments:  (*mockApptRepo)(m),
		Treatments:    (*mockTreatmentRepo)(m),
		LabOrders:     (*mockLabRepo)(m),
		Prescriptions: (*mockRxRepo)(m),
	}
}

type recordsSnapshot struct {
	appointments  map[uuid.UUID]*records.Appointment
	treatments    map[uuid.UUID]*records.Treatment
	labOrders     map[uuid.UUID]*records.LabOrder
	prescriptions map[uuid.UUID]*records.Prescription
}

func (m *mockRecordRepo) snapshot() recordsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := recordsSnapshot{
		appointments:  make(map[uuid.UUID]*records.Appointment, len(m.appointments)),
		treatments:    make(map[uuid.UUID]*records.Treatment, len(m.treatments)),
		labOrders:     make(map[uuid.UUID]*records.LabOrder, len(m.labOrders)),
		prescriptions: make(map[uuid.UUID]*records.Prescription, len(m.prescriptions)),
	}
	for id, a := range m.appointments {
		cp := *a
		s.appointments[id] = &cp
	}
	for id, t := range m.treatments {
		cp := *t
		s.treatments[id] = &cp
	}
	for id, o := range m.labOrders {
		cp := *o
		s.labOrders[id] = &cp
	}
	for id, p := range m.prescriptions {
		cp := *p
		s.prescriptions[id] = &cp
	}
	return s
}

func (m *mockRecordRepo) restore(s recordsSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments = s.appointments
	m.treatments = s.treatments
	m.labOrders = s.labOrders
	m.prescriptions = s.prescriptions
}

type mockApptRepo mockRecordRepo

func (r *mockApptRepo) FindByID(ctx context.Context, id uuid.UUID) (*records.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *mockApptRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*records.Appointment, error) {
	var out []*records.Appointment
	for _, id := range ids {
		a, _ := r.FindByID(ctx, id)
		if a != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *mockApptRepo) ClaimForInvoice(ctx context.Context, id, invoiceID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.InvoiceID != nil {
		return false, nil
	}
	a.InvoiceID = &invoiceID
	return true, nil
}

func (r *mockApptRepo) ReleaseInvoice(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.appointments[id]; ok {
		a.InvoiceID = nil
	}
	return nil
}

func (r *mockApptRepo) IDsByDentist(ctx context.Context, dentistID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for _, a := range r.appointments {
		if a.DentistID == dentistID {
			out = append(out, a.ID)
		}
	}
	return out, nil
}

type mockTreatmentRepo mockRecordRepo

func (r *mockTreatmentRepo) FindByID(ctx context.Context, id uuid.UUID) (*records.Treatment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.treatments[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *mockTreatmentRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*records.Treatment, error) {
	var out []*records.Treatment
	for _, id := range ids {
		t, _ := r.FindByID(ctx, id)
		if t != nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *mockTreatmentRepo) ClaimForInvoice(ctx context.Context, id, invoiceID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.treatments[id]
	if !ok || t.InvoiceID != nil {
		return false, nil
	}
	t.InvoiceID = &invoiceID
	return true, nil
}

func (r *mockTreatmentRepo) ReleaseInvoice(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.treatments[id]; ok {
		t.InvoiceID = nil
	}
	return nil
}

func (r *mockTreatmentRepo) IDsByDentist(ctx context.Context, dentistID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for _, t := range r.treatments {
		if t.DentistID == dentistID {
			out = append(out, t.ID)
		}
	}
	return out, nil
}

func (r *mockTreatmentRepo) ApplyPaymentShare(ctx context.Context, id uuid.UUID, share decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.treatments[id]
	if !ok {
		return NewNotFound("treatment not found")
	}
	t.PaidAmount = t.PaidAmount.Add(share)
	if t.PaidAmount.GreaterThanOrEqual(t.Cost) {
		t.PaymentStatus = records.PaymentPaid
	} else {
		t.PaymentStatus = records.PaymentPartial
	}
	return nil
}

type mockLabRepo mockRecordRepo

func (r *mockLabRepo) FindByID(ctx context.Context, id uuid.UUID) (*records.LabOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.labOrders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (r *mockLabRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*records.LabOrder, error) {
	var out []*records.LabOrder
	for _, id := range ids {
		o, _ := r.FindByID(ctx, id)
		if o != nil {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *mockLabRepo) ClaimForInvoice(ctx context.Context, id, invoiceID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.labOrders[id]
	if !ok || o.InvoiceID != nil {
		return false, nil
	}
	o.InvoiceID = &invoiceID
	return true, nil
}

func (r *mockLabRepo) ReleaseInvoice(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.labOrders[id]; ok {
		o.InvoiceID = nil
	}
	return nil
}

func (r *mockLabRepo) IDsByDentist(ctx context.Context, dentistID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for _, o := range r.labOrders {
		if o.DentistID == dentistID {
			out = append(out, o.ID)
		}
	}
	return out, nil
}

type mockRxRepo mockRecordRepo

func (r *mockRxRepo) FindByID(ctx context.Context, id uuid.UUID) (*records.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prescriptions[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *mockRxRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*records.Prescription, error) {
	var out []*records.Prescription
	for _, id := range ids {
		p, _ := r.FindByID(ctx, id)
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *mockRxRepo) ClaimForInvoice(ctx context.Context, id, invoiceID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prescriptions[id]
	if !ok || p.InvoiceID != nil {
		return false, nil
	}
	p.InvoiceID = &invoiceID
	return true, nil
}

func (r *mockRxRepo) ReleaseInvoice(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.prescriptions[id]; ok {
		p.InvoiceID = nil
	}
	return nil
}

func (r *mockRxRepo) IDsByDentist(ctx context.Context, dentistID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for _, p := range r.prescriptions {
		if p.DentistID == dentistID {
			out = append(out, p.ID)
		}
	}
	return out, nil
}
