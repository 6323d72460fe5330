package records

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// The billing core only ever touches source records through these
// interfaces. Patient/appointment/treatment CRUD lives upstream; what the
// billing side needs is lookup, the invoice back-reference, payment-share
// write-back, and dentist ownership queries.

type AppointmentRepository interface {
	// FindByID returns (nil, nil) when no such record exists.
	FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// FindByIDs returns records in the requested id order, skipping ids
	// with no matching record.
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Appointment, error)
	// ClaimForInvoice sets invoice_id on an unbilled record. It reports
	// false when the record is already attributed to an invoice.
	ClaimForInvoice(ctx context.Context, id, invoiceID uuid.UUID) (bool, error)
	ReleaseInvoice(ctx context.Context, id uuid.UUID) error
	IDsByDentist(ctx context.Context, dentistID uuid.UUID) ([]uuid.UUID, error)
}

type TreatmentRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Treatment, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Treatment, error)
	ClaimForInvoice(ctx context.Context, id, invoiceID uuid.UUID) (bool, error)
	ReleaseInvoice(ctx context.Context, id uuid.UUID) error
	IDsByDentist(ctx context.Context, dentistID uuid.UUID) ([]uuid.UUID, error)
	// ApplyPaymentShare adds share to the treatment's paid amount and
	// recomputes its payment status against the treatment cost.
	ApplyPaymentShare(ctx context.Context, id uuid.UUID, share decimal.Decimal) error
}

type LabOrderRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*LabOrder, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*LabOrder, error)
	ClaimForInvoice(ctx context.Context, id, invoiceID uuid.UUID) (bool, error)
	ReleaseInvoice(ctx context.Context, id uuid.UUID) error
	IDsByDentist(ctx context.Context, dentistID uuid.UUID) ([]uuid.UUID, error)
}

type PrescriptionRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Prescription, error)
	ClaimForInvoice(ctx context.Context, id, invoiceID uuid.UUID) (bool, error)
	ReleaseInvoice(ctx context.Context, id uuid.UUID) error
	IDsByDentist(ctx context.Context, dentistID uuid.UUID) ([]uuid.UUID, error)
}

// Repositories bundles the four source-record repositories the billing core
// depends on.
type Repositories struct {
	Appointments  AppointmentRepository
	Treatments    TreatmentRepository
	LabOrders     LabOrderRepository
	Prescriptions PrescriptionRepository
}
