package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dentms/dentms/internal/domain/records"
)

// Policy carries the configurable billing knobs: default fees per invoice
// kind, due-date offsets in days, and the advisory advance-payment
// percentage shown on procedure invoices.
type Policy struct {
	DefaultFees       map[InvoiceType]decimal.Decimal
	DueDays           map[InvoiceType]int
	AdvancePaymentPct int
}

// CreateOverrides are the optional caller-supplied fields on invoice
// creation. Amount overrides the resolved cost and is honored only for
// single-source invoices.
type CreateOverrides struct {
	Amount     *decimal.Decimal
	Tax        *decimal.Decimal
	Discount   *decimal.Decimal
	PaidAmount *decimal.Decimal
	DueDate    *time.Time
	Notes      string
}

// Factory synthesizes invoices from clinical records. Creation is
// all-or-nothing: the invoice insert and every source-record claim commit
// together or not at all.
type Factory struct {
	invoices InvoiceRepository
	records  records.Repositories
	tx       TxRunner
	policy   Policy
	now      func() time.Time
}

func NewFactory(invoices InvoiceRepository, recs records.Repositories, tx TxRunner, policy Policy) *Factory {
	return &Factory{
		invoices: invoices,
		records:  recs,
		tx:       tx,
		policy:   policy,
		now:      time.Now,
	}
}

// draft is the kind-specific material a builder extracts from the source
// records before the common assembly steps run.
type draft struct {
	patientID uuid.UUID
	items     []InvoiceItem
	refs      []SourceRef
}

// Create synthesizes one invoice of the given kind from the source records
// and claims each record for it.
func (f *Factory) Create(ctx context.Context, kind InvoiceType, sourceIDs []uuid.UUID, patientName string, ov CreateOverrides) (*Invoice, error) {
	if !SourcedInvoiceType(kind) {
		return nil, NewValidation("invoice type %q cannot be billed from source records", kind)
	}
	if len(sourceIDs) == 0 {
		return nil, NewValidation("at least one source id is required")
	}
	seen := make(map[uuid.UUID]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		if _, dup := seen[id]; dup {
			return nil, NewValidation("duplicate source id %s", id)
		}
		seen[id] = struct{}{}
	}
	if (kind == TypeCheckup || kind == TypePrescription) && len(sourceIDs) != 1 {
		return nil, NewValidation("%s invoices bill exactly one record", kind)
	}
	if ov.Amount != nil {
		if len(sourceIDs) != 1 {
			return nil, NewValidation("cost override requires a single source record")
		}
		if ov.Amount.IsNegative() {
			return nil, NewValidation("cost override must not be negative")
		}
	}
	if ov.PaidAmount != nil && ov.PaidAmount.IsNegative() {
		return nil, NewValidation("paid amount must not be negative")
	}

	d, err := f.build(ctx, kind, sourceIDs, ov.Amount)
	if err != nil {
		return nil, err
	}

	now := f.now()
	inv := &Invoice{
		ID:            uuid.New(),
		InvoiceNumber: NewInvoiceNumber(now),
		InvoiceType:   kind,
		PatientID:     d.patientID,
		PatientName:   patientName,
		Items:         d.items,
		Source:        SourceContext{Kind: kind, Refs: d.refs},
		DueDate:       now.AddDate(0, 0, f.policy.DueDays[kind]),
		Notes:         ov.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if kind == TypeProcedure {
		inv.AdvancePaymentPct = f.policy.AdvancePaymentPct
	}
	if ov.Tax != nil {
		inv.Tax = *ov.Tax
	}
	if ov.Discount != nil {
		inv.Discount = *ov.Discount
	}
	if ov.PaidAmount != nil {
		inv.PaidAmount = *ov.PaidAmount
	}
	if ov.DueDate != nil {
		inv.DueDate = *ov.DueDate
	}
	Recompute(inv)

	err = f.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := f.invoices.Create(ctx, inv); err != nil {
			return err
		}
		return f.claimAll(ctx, kind, sourceIDs, inv.ID)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// claimAll marks every source record as billed by invoiceID. A record that
// already carries an invoice fails the whole transaction.
func (f *Factory) claimAll(ctx context.Context, kind InvoiceType, ids []uuid.UUID, invoiceID uuid.UUID) error {
	for _, id := range ids {
		var (
			ok  bool
			err error
		)
		switch kind {
		case TypeCheckup:
			ok, err = f.records.Appointments.ClaimForInvoice(ctx, id, invoiceID)
		case TypeProcedure:
			ok, err = f.records.Treatments.ClaimForInvoice(ctx, id, invoiceID)
		case TypeLab:
			ok, err = f.records.LabOrders.ClaimForInvoice(ctx, id, invoiceID)
		case TypePrescription:
			ok, err = f.records.Prescriptions.ClaimForInvoice(ctx, id, invoiceID)
		}
		if err != nil {
			return err
		}
		if !ok {
			return NewAlreadyBilled("%s record %s is already billed", kind, id)
		}
	}
	return nil
}

func (f *Factory) build(ctx context.Context, kind InvoiceType, ids []uuid.UUID, override *decimal.Decimal) (*draft, error) {
	switch kind {
	case TypeCheckup:
		return f.buildCheckup(ctx, ids[0], override)
	case TypeProcedure:
		return f.buildProcedure(ctx, ids, override)
	case TypeLab:
		return f.buildLab(ctx, ids, override)
	case TypePrescription:
		return f.buildPrescription(ctx, ids[0], override)
	}
	return nil, NewValidation("unknown invoice type %q", kind)
}

func (f *Factory) buildCheckup(ctx context.Context, id uuid.UUID, override *decimal.Decimal) (*draft, error) {
	appt, err := f.records.Appointments.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt == nil {
		return nil, NewNotFound("appointment %s not found", id)
	}
	if appt.InvoiceID != nil {
		return nil, NewAlreadyBilled("appointment %s is already billed", id)
	}
	cost, err := f.resolveCost(TypeCheckup, override, appt.Fee)
	if err != nil {
		return nil, err
	}
	desc := "Checkup consultation"
	if appt.Reason != "" {
		desc = fmt.Sprintf("Checkup consultation: %s", appt.Reason)
	}
	return &draft{
		patientID: appt.PatientID,
		items:     []InvoiceItem{{Description: desc, Quantity: 1, UnitPrice: cost}},
		refs:      []SourceRef{{ID: appt.ID, Snapshot: desc}},
	}, nil
}

func (f *Factory) buildProcedure(ctx context.Context, ids []uuid.UUID, override *decimal.Decimal) (*draft, error) {
	treatments, err := f.records.Treatments.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(treatments) != len(ids) {
		return nil, NewNotFound("one or more treatments not found")
	}
	d := &draft{patientID: treatments[0].PatientID}
	for _, t := range treatments {
		if t.PatientID != d.patientID {
			return nil, NewValidation("treatments belong to different patients")
		}
		if t.InvoiceID != nil {
			return nil, NewAlreadyBilled("treatment %s is already billed", t.ID)
		}
		cost, err := f.resolveCost(TypeProcedure, override, t.EffectiveCost())
		if err != nil {
			return nil, err
		}
		d.items = append(d.items, InvoiceItem{Description: t.Name, Quantity: 1, UnitPrice: cost})
		d.refs = append(d.refs, SourceRef{ID: t.ID, Snapshot: t.Name})
	}
	return d, nil
}

func (f *Factory) buildLab(ctx context.Context, ids []uuid.UUID, override *decimal.Decimal) (*draft, error) {
	orders, err := f.records.LabOrders.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(orders) != len(ids) {
		return nil, NewNotFound("one or more lab orders not found")
	}
	d := &draft{patientID: orders[0].PatientID}
	for _, o := range orders {
		if o.PatientID != d.patientID {
			return nil, NewValidation("lab orders belong to different patients")
		}
		if o.InvoiceID != nil {
			return nil, NewAlreadyBilled("lab order %s is already billed", o.ID)
		}
		cost, err := f.resolveCost(TypeLab, override, o.Cost)
		if err != nil {
			return nil, err
		}
		desc := fmt.Sprintf("Lab work: %s (%s)", o.WorkType, o.LabName)
		d.items = append(d.items, InvoiceItem{Description: desc, Quantity: 1, UnitPrice: cost})
		d.refs = append(d.refs, SourceRef{ID: o.ID, Snapshot: desc})
	}
	return d, nil
}

func (f *Factory) buildPrescription(ctx context.Context, id uuid.UUID, override *decimal.Decimal) (*draft, error) {
	rx, err := f.records.Prescriptions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rx == nil {
		return nil, NewNotFound("prescription %s not found", id)
	}
	if rx.InvoiceID != nil {
		return nil, NewAlreadyBilled("prescription %s is already billed", id)
	}
	cost, err := f.resolveCost(TypePrescription, override, rx.Fee)
	if err != nil {
		return nil, err
	}
	desc := fmt.Sprintf("Prescription (%d medications)", len(rx.Medications))
	return &draft{
		patientID: rx.PatientID,
		items:     []InvoiceItem{{Description: desc, Quantity: 1, UnitPrice: cost}},
		refs:      []SourceRef{{ID: rx.ID, Snapshot: strings.Join(rx.Medications, ", ")}},
	}, nil
}

// resolveCost picks the billable amount for one source record: caller
// override first, then the cost carried on the record (actual before
// estimate), then the configured default fee for the kind.
func (f *Factory) resolveCost(kind InvoiceType, override *decimal.Decimal, recorded decimal.Decimal) (decimal.Decimal, error) {
	if override != nil {
		return *override, nil
	}
	if recorded.IsPositive() {
		return recorded, nil
	}
	if fee, ok := f.policy.DefaultFees[kind]; ok && fee.IsPositive() {
		return fee, nil
	}
	return decimal.Zero, NewConfiguration("no default fee configured for %s invoices", kind)
}
