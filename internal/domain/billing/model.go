package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceType identifies which clinical workflow produced the invoice.
type InvoiceType string

const (
	TypeCheckup      InvoiceType = "checkup"
	TypeProcedure    InvoiceType = "procedure"
	TypeLab          InvoiceType = "lab"
	TypePrescription InvoiceType = "prescription"

	// TypeGeneric marks ad-hoc invoices with no source record linkage.
	// They are not synthesized by the factory.
	TypeGeneric InvoiceType = "generic"
)

// ValidInvoiceType reports whether t is a known invoice type.
func ValidInvoiceType(t InvoiceType) bool {
	switch t {
	case TypeCheckup, TypeProcedure, TypeLab, TypePrescription, TypeGeneric:
		return true
	}
	return false
}

// SourcedInvoiceType reports whether invoices of type t are synthesized
// from source records.
func SourcedInvoiceType(t InvoiceType) bool {
	switch t {
	case TypeCheckup, TypeProcedure, TypeLab, TypePrescription:
		return true
	}
	return false
}

// Status is the payment lifecycle state of an invoice. Overdue is derived at
// read time and never persisted.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPartiallyPaid Status = "partially-paid"
	StatusPaid          Status = "paid"
	StatusOverdue       Status = "overdue"
	StatusCancelled     Status = "cancelled"
)

// ValidStatusFilter reports whether s can be used as a list filter. Overdue
// is excluded because it is not a stored state.
func ValidStatusFilter(s Status) bool {
	switch s {
	case StatusPending, StatusPartiallyPaid, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// InvoiceItem is one line on an invoice.
type InvoiceItem struct {
	Description string          `db:"description" json:"description"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unitPrice"`
	LineTotal   decimal.Decimal `db:"line_total" json:"lineTotal"`
}

// SourceRef points back at one clinical record folded into the invoice. The
// snapshot is a human-readable capture of the record at billing time; it is
// never re-read from the live record.
type SourceRef struct {
	ID       uuid.UUID `db:"source_id" json:"id"`
	Snapshot string    `db:"snapshot" json:"snapshot"`
}

// SourceContext binds an invoice to the clinical records it bills.
type SourceContext struct {
	Kind InvoiceType `json:"kind"`
	Refs []SourceRef `json:"refs"`
}

// IDs returns the referenced record ids in ref order.
func (sc SourceContext) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(sc.Refs))
	for i, r := range sc.Refs {
		ids[i] = r.ID
	}
	return ids
}

// Invoice is the billing ledger entry synthesized from clinical records.
// Subtotal, Total and Balance are derived; callers mutate the inputs and run
// Recompute rather than writing derived fields directly.
type Invoice struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	InvoiceNumber string          `db:"invoice_number" json:"invoiceNumber"`
	InvoiceType   InvoiceType     `db:"invoice_type" json:"invoiceType"`
	PatientID     uuid.UUID       `db:"patient_id" json:"patientId"`
	PatientName   string          `db:"patient_name" json:"patientName"`
	Items         []InvoiceItem   `json:"items"`
	Subtotal      decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax           decimal.Decimal `db:"tax" json:"tax"`
	Discount      decimal.Decimal `db:"discount" json:"discount"`
	Total         decimal.Decimal `db:"total" json:"total"`
	PaidAmount    decimal.Decimal `db:"paid_amount" json:"paidAmount"`
	Balance       decimal.Decimal `db:"balance" json:"balance"`
	Status        Status          `db:"status" json:"status"`
	Source        SourceContext   `json:"sourceContext"`
	DueDate       time.Time       `db:"due_date" json:"dueDate"`
	Notes         string          `db:"notes" json:"notes,omitempty"`
	// AdvancePaymentPct is advisory guidance for the front desk on procedure
	// invoices. It never gates payment recording.
	AdvancePaymentPct int       `db:"advance_payment_pct" json:"advancePaymentPercentage,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `db:"updated_at" json:"updatedAt"`
}

// Recompute re-derives line totals, subtotal, total, balance and the stored
// status from the invoice's inputs. Total and balance clamp at zero, so an
// overpaid invoice reports balance 0 while paidAmount keeps the full sum.
// A cancelled invoice keeps its status; the financial fields still refresh.
func Recompute(inv *Invoice) {
	if len(inv.Items) > 0 {
		subtotal := decimal.Zero
		for i := range inv.Items {
			qty := decimal.NewFromInt(int64(inv.Items[i].Quantity))
			inv.Items[i].LineTotal = inv.Items[i].UnitPrice.Mul(qty)
			subtotal = subtotal.Add(inv.Items[i].LineTotal)
		}
		inv.Subtotal = subtotal
	}

	total := inv.Subtotal.Add(inv.Tax).Sub(inv.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	inv.Total = total

	balance := total.Sub(inv.PaidAmount)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	inv.Balance = balance

	if inv.Status == StatusCancelled {
		return
	}
	switch {
	case inv.PaidAmount.GreaterThanOrEqual(total):
		inv.Status = StatusPaid
	case inv.PaidAmount.IsPositive():
		inv.Status = StatusPartiallyPaid
	default:
		inv.Status = StatusPending
	}
}

// EffectiveStatus is the status presented to callers: a pending or
// partially-paid invoice with money still owed past its due date reads as
// overdue. The stored status is never rewritten.
func EffectiveStatus(inv *Invoice, now time.Time) Status {
	if inv.Status == StatusPending || inv.Status == StatusPartiallyPaid {
		if inv.Balance.IsPositive() && inv.DueDate.Before(now) {
			return StatusOverdue
		}
	}
	return inv.Status
}

// NewInvoiceNumber builds a display number like INV-202608-3fa8c1. The suffix
// comes from a fresh uuid, so collisions are as unlikely as uuid collisions;
// the unique index on invoice_number backstops them.
func NewInvoiceNumber(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("INV-%s-%s", now.Format("200601"), suffix)
}

// Payment is an immutable record of money received against an invoice.
type Payment struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	InvoiceID      uuid.UUID       `db:"invoice_id" json:"invoiceId"`
	PatientID      uuid.UUID       `db:"patient_id" json:"patientId"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Method         string          `db:"method" json:"method"`
	TransactionID  string          `db:"transaction_id" json:"transactionId,omitempty"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotencyKey,omitempty"`
	PaymentDate    time.Time       `db:"payment_date" json:"paymentDate"`
	Status         string          `db:"status" json:"status"`
	Notes          string          `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
}

// PaymentStatusCompleted is the only status this service records; failed or
// refunded states belong to the gateway integration, which sits outside the
// reconciliation core.
const PaymentStatusCompleted = "completed"
