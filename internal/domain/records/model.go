package records

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus tracks how much of a treatment's cost has been covered by
// payments distributed from its invoice.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// Appointment is a checkup visit. Fee is the consultation charge; InvoiceID
// is set once the visit has been billed.
type Appointment struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	PatientID   uuid.UUID       `db:"patient_id" json:"patient_id"`
	DentistID   uuid.UUID       `db:"dentist_id" json:"dentist_id"`
	Reason      string          `db:"reason" json:"reason"`
	ScheduledAt time.Time       `db:"scheduled_at" json:"scheduled_at"`
	Fee         decimal.Decimal `db:"fee" json:"fee"`
	InvoiceID   *uuid.UUID      `db:"invoice_id" json:"invoice_id,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Treatment is a clinical procedure. Cost is the final agreed price,
// EstimatedCost the pre-treatment quote. PaidAmount and PaymentStatus are
// written back by payment distribution, never by the treatment's own CRUD.
type Treatment struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	PatientID     uuid.UUID       `db:"patient_id" json:"patient_id"`
	DentistID     uuid.UUID       `db:"dentist_id" json:"dentist_id"`
	Name          string          `db:"name" json:"name"`
	Cost          decimal.Decimal `db:"cost" json:"cost"`
	EstimatedCost decimal.Decimal `db:"estimated_cost" json:"estimated_cost"`
	InvoiceID     *uuid.UUID      `db:"invoice_id" json:"invoice_id,omitempty"`
	PaidAmount    decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	PaymentStatus PaymentStatus   `db:"payment_status" json:"payment_status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// EffectiveCost returns the price a billing line should use: the final cost
// when set, otherwise the estimate. Zero when neither is known.
func (t *Treatment) EffectiveCost() decimal.Decimal {
	if t.Cost.IsPositive() {
		return t.Cost
	}
	return t.EstimatedCost
}

// LabOrder is an order placed with an external dental lab.
type LabOrder struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	PatientID uuid.UUID       `db:"patient_id" json:"patient_id"`
	DentistID uuid.UUID       `db:"dentist_id" json:"dentist_id"`
	LabName   string          `db:"lab_name" json:"lab_name"`
	WorkType  string          `db:"work_type" json:"work_type"`
	Cost      decimal.Decimal `db:"cost" json:"cost"`
	InvoiceID *uuid.UUID      `db:"invoice_id" json:"invoice_id,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Prescription lists the medications dispensed to a patient in one visit.
type Prescription struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	PatientID   uuid.UUID       `db:"patient_id" json:"patient_id"`
	DentistID   uuid.UUID       `db:"dentist_id" json:"dentist_id"`
	Medications []string        `db:"medications" json:"medications"`
	Fee         decimal.Decimal `db:"fee" json:"fee"`
	InvoiceID   *uuid.UUID      `db:"invoice_id" json:"invoice_id,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
