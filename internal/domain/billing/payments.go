package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dentms/dentms/internal/domain/records"
)

// RecordInput is one payment to apply against an invoice.
type RecordInput struct {
	InvoiceID      uuid.UUID
	Amount         decimal.Decimal
	Method         string
	TransactionID  string
	IdempotencyKey string
	Notes          string
	PaymentDate    *time.Time
}

// Recorder applies payments to invoices. The payment insert, the invoice
// financial update and any treatment share write-backs commit in one
// transaction, with the invoice row locked so concurrent recordings against
// the same invoice serialize.
type Recorder struct {
	invoices InvoiceRepository
	payments PaymentRepository
	records  records.Repositories
	scope    *Scope
	tx       TxRunner
	now      func() time.Time
}

func NewRecorder(invoices InvoiceRepository, payments PaymentRepository, recs records.Repositories, scope *Scope, tx TxRunner) *Recorder {
	return &Recorder{
		invoices: invoices,
		payments: payments,
		records:  recs,
		scope:    scope,
		tx:       tx,
		now:      time.Now,
	}
}

// Record applies one payment. When in.IdempotencyKey matches a prior
// payment for the same invoice, amount and method, that payment and the
// current invoice state are returned and nothing is mutated; a reused key
// describing a different payment fails with a conflict. Overpayment is
// allowed: paidAmount may exceed total while balance clamps at zero.
func (r *Recorder) Record(ctx context.Context, access Access, in RecordInput) (*Payment, *Invoice, error) {
	if !in.Amount.IsPositive() {
		return nil, nil, NewValidation("payment amount must be positive")
	}
	if in.Method == "" {
		return nil, nil, NewValidation("payment method is required")
	}
	if access.Scoped {
		ok, err := r.scope.Allowed(ctx, access.DentistID, in.InvoiceID)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, NewNotFound("invoice not found")
		}
	}

	var (
		payment *Payment
		invoice *Invoice
	)
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		if in.IdempotencyKey != "" {
			prior, err := r.payments.GetByIdempotencyKey(ctx, in.IdempotencyKey)
			if err != nil && CodeOf(err) != CodeNotFound {
				return err
			}
			if prior != nil {
				// A replay must describe the same payment. A reused key
				// pointing at another invoice or amount is a caller bug,
				// not a retry.
				if prior.InvoiceID != in.InvoiceID || !prior.Amount.Equal(in.Amount) || prior.Method != in.Method {
					return NewConflict("idempotency key %s was used for a different payment", in.IdempotencyKey)
				}
				inv, err := r.invoices.GetByID(ctx, prior.InvoiceID)
				if err != nil {
					return err
				}
				payment, invoice = prior, inv
				return nil
			}
		}

		inv, err := r.invoices.GetForUpdate(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return NewValidation("cannot record a payment against a cancelled invoice")
		}

		now := r.now()
		paidAt := now
		if in.PaymentDate != nil {
			paidAt = *in.PaymentDate
		}
		p := &Payment{
			ID:             uuid.New(),
			InvoiceID:      inv.ID,
			PatientID:      inv.PatientID,
			Amount:         in.Amount,
			Method:         in.Method,
			TransactionID:  in.TransactionID,
			IdempotencyKey: in.IdempotencyKey,
			PaymentDate:    paidAt,
			Status:         PaymentStatusCompleted,
			Notes:          in.Notes,
			CreatedAt:      now,
		}
		if err := r.payments.Create(ctx, p); err != nil {
			return err
		}

		inv.PaidAmount = inv.PaidAmount.Add(in.Amount)
		Recompute(inv)
		if err := r.invoices.Update(ctx, inv); err != nil {
			return err
		}

		if inv.InvoiceType == TypeProcedure && len(inv.Source.Refs) > 1 {
			if err := r.distribute(ctx, inv, in.Amount); err != nil {
				return err
			}
		}

		payment, invoice = p, inv
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return payment, invoice, nil
}

// distribute splits the payment equally across the invoice's treatments.
// Rounding spill lands on the last share so the shares always sum to the
// payment amount.
func (r *Recorder) distribute(ctx context.Context, inv *Invoice, amount decimal.Decimal) error {
	shares := splitEqual(amount, len(inv.Source.Refs))
	for i, ref := range inv.Source.Refs {
		if err := r.records.Treatments.ApplyPaymentShare(ctx, ref.ID, shares[i]); err != nil {
			return err
		}
	}
	return nil
}

func splitEqual(amount decimal.Decimal, n int) []decimal.Decimal {
	share := amount.Div(decimal.NewFromInt(int64(n))).Round(2)
	shares := make([]decimal.Decimal, n)
	running := decimal.Zero
	for i := 0; i < n-1; i++ {
		shares[i] = share
		running = running.Add(share)
	}
	shares[n-1] = amount.Sub(running)
	return shares
}
