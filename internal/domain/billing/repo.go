package billing

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows invoice listings. A nil IDs slice means no scope
// restriction; an empty non-nil slice matches nothing, which is how a
// dentist with no owned records sees an empty list rather than everything.
type ListFilter struct {
	InvoiceType *InvoiceType
	Status      *Status
	PatientID   *uuid.UUID
	IDs         []uuid.UUID
}

// InvoiceRepository persists invoices together with their line items and
// source refs. Create and Update expect to run inside a caller-managed
// transaction when they accompany source-record mutations.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetForUpdate locks the invoice row for the life of the surrounding
	// transaction so concurrent payment recordings serialize.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Invoice, int, error)
	// IDsBySourceIDs returns ids of invoices whose source context references
	// any of the given record ids.
	IDsBySourceIDs(ctx context.Context, sourceIDs []uuid.UUID) ([]uuid.UUID, error)
}

// PaymentRepository persists immutable payment records.
type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	// GetByIdempotencyKey returns the prior payment recorded under key, or a
	// not-found error when the key is unused.
	GetByIdempotencyKey(ctx context.Context, key string) (*Payment, error)
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID, limit, offset int) ([]*Payment, int, error)
}

// TxRunner runs fn atomically. The database implementation opens a
// transaction and threads it through ctx; test doubles just call fn.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
