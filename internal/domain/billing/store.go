package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dentms/dentms/internal/domain/records"
)

// Access identifies how much of the ledger the caller may see. Admin and
// reception staff get an unscoped view; a dentist sees only invoices whose
// sources they own. A scoped caller denied access gets a not-found error, so
// invoice existence never leaks across dentists.
type Access struct {
	Scoped    bool
	DentistID uuid.UUID
}

// UpdatePatch is a partial invoice update. Nil fields are left untouched.
// Cost rewrites the unit price of the invoice's single line item.
type UpdatePatch struct {
	Cost       *decimal.Decimal
	Tax        *decimal.Decimal
	Discount   *decimal.Decimal
	PaidAmount *decimal.Decimal
	Notes      *string
	DueDate    *time.Time
}

// Store handles invoice reads and lifecycle mutations other than payment
// recording, which lives in Recorder.
type Store struct {
	invoices InvoiceRepository
	payments PaymentRepository
	records  records.Repositories
	scope    *Scope
	tx       TxRunner
}

func NewStore(invoices InvoiceRepository, payments PaymentRepository, recs records.Repositories, scope *Scope, tx TxRunner) *Store {
	return &Store{invoices: invoices, payments: payments, records: recs, scope: scope, tx: tx}
}

func (s *Store) checkAccess(ctx context.Context, access Access, id uuid.UUID) error {
	if !access.Scoped {
		return nil
	}
	ok, err := s.scope.Allowed(ctx, access.DentistID, id)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFound("invoice not found")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, access Access, id uuid.UUID) (*Invoice, error) {
	if err := s.checkAccess(ctx, access, id); err != nil {
		return nil, err
	}
	return s.invoices.GetByID(ctx, id)
}

func (s *Store) List(ctx context.Context, access Access, filter ListFilter, limit, offset int) ([]*Invoice, int, error) {
	if access.Scoped {
		visible, err := s.scope.DentistInvoiceIDs(ctx, access.DentistID)
		if err != nil {
			return nil, 0, err
		}
		ids := make([]uuid.UUID, 0, len(visible))
		for id := range visible {
			ids = append(ids, id)
		}
		filter.IDs = ids
	}
	return s.invoices.List(ctx, filter, limit, offset)
}

// Payments lists the payment history of one invoice.
func (s *Store) Payments(ctx context.Context, access Access, invoiceID uuid.UUID, limit, offset int) ([]*Payment, int, error) {
	if err := s.checkAccess(ctx, access, invoiceID); err != nil {
		return nil, 0, err
	}
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, 0, err
	}
	return s.payments.ListByInvoice(ctx, invoiceID, limit, offset)
}

// Receipt projects a printable receipt from the invoice's current state.
func (s *Store) Receipt(ctx context.Context, access Access, invoiceID uuid.UUID, now time.Time) (*Receipt, error) {
	inv, err := s.Get(ctx, access, invoiceID)
	if err != nil {
		return nil, err
	}
	return ProjectReceipt(inv, now), nil
}

// Update applies a partial patch and re-derives every financial field. The
// stored total and status are never trusted to be patched directly.
func (s *Store) Update(ctx context.Context, access Access, id uuid.UUID, patch UpdatePatch) (*Invoice, error) {
	if err := s.checkAccess(ctx, access, id); err != nil {
		return nil, err
	}
	if patch.Cost != nil && patch.Cost.IsNegative() {
		return nil, NewValidation("cost must not be negative")
	}
	if patch.PaidAmount != nil && patch.PaidAmount.IsNegative() {
		return nil, NewValidation("paid amount must not be negative")
	}

	var updated *Invoice
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if patch.Cost != nil {
			if len(inv.Items) != 1 {
				return NewValidation("cost override requires a single line item")
			}
			inv.Items[0].UnitPrice = *patch.Cost
		}
		if patch.Tax != nil {
			inv.Tax = *patch.Tax
		}
		if patch.Discount != nil {
			inv.Discount = *patch.Discount
		}
		if patch.PaidAmount != nil {
			inv.PaidAmount = *patch.PaidAmount
		}
		if patch.Notes != nil {
			inv.Notes = *patch.Notes
		}
		if patch.DueDate != nil {
			inv.DueDate = *patch.DueDate
		}
		Recompute(inv)
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Cancel freezes the invoice. Cancelled is sticky: later recomputes keep it
// until Uncancel clears it.
func (s *Store) Cancel(ctx context.Context, access Access, id uuid.UUID) (*Invoice, error) {
	return s.setCancelled(ctx, access, id, true)
}

// Uncancel re-derives the payment status from the invoice's amounts.
func (s *Store) Uncancel(ctx context.Context, access Access, id uuid.UUID) (*Invoice, error) {
	return s.setCancelled(ctx, access, id, false)
}

func (s *Store) setCancelled(ctx context.Context, access Access, id uuid.UUID, cancel bool) (*Invoice, error) {
	if err := s.checkAccess(ctx, access, id); err != nil {
		return nil, err
	}
	var updated *Invoice
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cancel {
			inv.Status = StatusCancelled
		} else if inv.Status == StatusCancelled {
			inv.Status = StatusPending
		}
		Recompute(inv)
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the invoice and releases every source record it claimed, so
// the records become billable again. Payment rows go with the invoice.
func (s *Store) Delete(ctx context.Context, access Access, id uuid.UUID) error {
	if err := s.checkAccess(ctx, access, id); err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		for _, ref := range inv.Source.Refs {
			if err := s.release(ctx, inv.Source.Kind, ref.ID); err != nil {
				return err
			}
		}
		return s.invoices.Delete(ctx, id)
	})
}

func (s *Store) release(ctx context.Context, kind InvoiceType, id uuid.UUID) error {
	switch kind {
	case TypeCheckup:
		return s.records.Appointments.ReleaseInvoice(ctx, id)
	case TypeProcedure:
		return s.records.Treatments.ReleaseInvoice(ctx, id)
	case TypeLab:
		return s.records.LabOrders.ReleaseInvoice(ctx, id)
	case TypePrescription:
		return s.records.Prescriptions.ReleaseInvoice(ctx, id)
	}
	return NewValidation("unknown invoice type %q", kind)
}
