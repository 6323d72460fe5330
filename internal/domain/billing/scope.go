package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/dentms/dentms/internal/domain/records"
)

// Scope computes which invoices a dentist may see. Visibility is transitive:
// a dentist sees an invoice when any of its source records belongs to them,
// even when the invoice also folds in another dentist's records.
type Scope struct {
	invoices InvoiceRepository
	records  records.Repositories
}

func NewScope(invoices InvoiceRepository, recs records.Repositories) *Scope {
	return &Scope{invoices: invoices, records: recs}
}

// DentistInvoiceIDs returns the set of invoice ids visible to dentistID. The
// set is recomputed per call; there is no cached materialization to go stale.
func (s *Scope) DentistInvoiceIDs(ctx context.Context, dentistID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	var owned []uuid.UUID
	for _, fetch := range []func(context.Context, uuid.UUID) ([]uuid.UUID, error){
		s.records.Appointments.IDsByDentist,
		s.records.Treatments.IDsByDentist,
		s.records.LabOrders.IDsByDentist,
		s.records.Prescriptions.IDsByDentist,
	} {
		ids, err := fetch(ctx, dentistID)
		if err != nil {
			return nil, err
		}
		owned = append(owned, ids...)
	}

	visible := make(map[uuid.UUID]struct{})
	if len(owned) == 0 {
		return visible, nil
	}
	invIDs, err := s.invoices.IDsBySourceIDs(ctx, owned)
	if err != nil {
		return nil, err
	}
	for _, id := range invIDs {
		visible[id] = struct{}{}
	}
	return visible, nil
}

// Allowed reports whether dentistID may see invoiceID.
func (s *Scope) Allowed(ctx context.Context, dentistID, invoiceID uuid.UUID) (bool, error) {
	visible, err := s.DentistInvoiceIDs(ctx, dentistID)
	if err != nil {
		return false, err
	}
	_, ok := visible[invoiceID]
	return ok, nil
}
