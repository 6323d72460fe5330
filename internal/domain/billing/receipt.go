package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Receipt is a printable snapshot of an invoice. It is a pure projection:
// every figure is recomputed from the invoice inputs at projection time, so
// a stale stored total can never leak onto a receipt.
type Receipt struct {
	InvoiceID     uuid.UUID       `json:"invoiceId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	InvoiceType   InvoiceType     `json:"invoiceType"`
	PatientID     uuid.UUID       `json:"patientId"`
	PatientName   string          `json:"patientName"`
	Items         []InvoiceItem   `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	PaidAmount    decimal.Decimal `json:"paidAmount"`
	Balance       decimal.Decimal `json:"balance"`
	Status        Status          `json:"status"`
	Sources       []SourceRef     `json:"sources"`
	DueDate       time.Time       `json:"dueDate"`
	IssuedAt      time.Time       `json:"issuedAt"`
}

// ProjectReceipt builds a receipt from inv without mutating it.
func ProjectReceipt(inv *Invoice, now time.Time) *Receipt {
	cp := *inv
	cp.Items = make([]InvoiceItem, len(inv.Items))
	copy(cp.Items, inv.Items)
	Recompute(&cp)

	return &Receipt{
		InvoiceID:     cp.ID,
		InvoiceNumber: cp.InvoiceNumber,
		InvoiceType:   cp.InvoiceType,
		PatientID:     cp.PatientID,
		PatientName:   cp.PatientName,
		Items:         cp.Items,
		Subtotal:      cp.Subtotal,
		Tax:           cp.Tax,
		Discount:      cp.Discount,
		Total:         cp.Total,
		PaidAmount:    cp.PaidAmount,
		Balance:       cp.Balance,
		Status:        EffectiveStatus(&cp, now),
		Sources:       cp.Source.Refs,
		DueDate:       cp.DueDate,
		IssuedAt:      now,
	}
}
