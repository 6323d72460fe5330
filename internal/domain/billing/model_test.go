package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRecomputeDerivesTotals(t *testing.T) {
	inv := &Invoice{
		Items: []InvoiceItem{
			{Description: "Filling", Quantity: 2, UnitPrice: dec("40")},
			{Description: "X-ray", Quantity: 1, UnitPrice: dec("20")},
		},
		Tax:      dec("10"),
		Discount: dec("5"),
	}
	Recompute(inv)

	if !inv.Subtotal.Equal(dec("100")) {
		t.Errorf("subtotal = %s, want 100", inv.Subtotal)
	}
	if !inv.Total.Equal(dec("105")) {
		t.Errorf("total = %s, want 105", inv.Total)
	}
	if !inv.Balance.Equal(dec("105")) {
		t.Errorf("balance = %s, want 105", inv.Balance)
	}
	if inv.Status != StatusPending {
		t.Errorf("status = %s, want pending", inv.Status)
	}
	if !inv.Items[0].LineTotal.Equal(dec("80")) {
		t.Errorf("line total = %s, want 80", inv.Items[0].LineTotal)
	}
}

func TestRecomputeClampsTotalAtZero(t *testing.T) {
	inv := &Invoice{
		Items:    []InvoiceItem{{Quantity: 1, UnitPrice: dec("30")}},
		Discount: dec("50"),
	}
	Recompute(inv)

	if !inv.Total.IsZero() {
		t.Errorf("total = %s, want 0", inv.Total)
	}
	if !inv.Balance.IsZero() {
		t.Errorf("balance = %s, want 0", inv.Balance)
	}
}

func TestRecomputeOverpaymentClampsBalance(t *testing.T) {
	inv := &Invoice{
		Items:      []InvoiceItem{{Quantity: 1, UnitPrice: dec("80")}},
		PaidAmount: dec("100"),
	}
	Recompute(inv)

	if !inv.PaidAmount.Equal(dec("100")) {
		t.Errorf("paidAmount = %s, want 100", inv.PaidAmount)
	}
	if !inv.Balance.IsZero() {
		t.Errorf("balance = %s, want 0", inv.Balance)
	}
	if inv.Status != StatusPaid {
		t.Errorf("status = %s, want paid", inv.Status)
	}
}

func TestRecomputeStatusTransitions(t *testing.T) {
	cases := []struct {
		name string
		paid string
		want Status
	}{
		{"no payment", "0", StatusPending},
		{"partial payment", "30", StatusPartiallyPaid},
		{"exact payment", "80", StatusPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := &Invoice{
				Items:      []InvoiceItem{{Quantity: 1, UnitPrice: dec("80")}},
				PaidAmount: dec(tc.paid),
			}
			Recompute(inv)
			if inv.Status != tc.want {
				t.Errorf("status = %s, want %s", inv.Status, tc.want)
			}
		})
	}
}

func TestRecomputeCancelledIsSticky(t *testing.T) {
	inv := &Invoice{
		Items:      []InvoiceItem{{Quantity: 1, UnitPrice: dec("80")}},
		PaidAmount: dec("80"),
		Status:     StatusCancelled,
	}
	Recompute(inv)

	if inv.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", inv.Status)
	}
	// Financial fields still refresh under cancellation.
	if !inv.Total.Equal(dec("80")) {
		t.Errorf("total = %s, want 80", inv.Total)
	}
}

func TestEffectiveStatusOverdue(t *testing.T) {
	now := time.Now()
	inv := &Invoice{
		Items:   []InvoiceItem{{Quantity: 1, UnitPrice: dec("80")}},
		DueDate: now.AddDate(0, 0, -1),
	}
	Recompute(inv)

	if got := EffectiveStatus(inv, now); got != StatusOverdue {
		t.Errorf("effective status = %s, want overdue", got)
	}
	if inv.Status != StatusPending {
		t.Errorf("stored status = %s, want pending", inv.Status)
	}
}

func TestEffectiveStatusNotOverdueWhenPaidOrCancelled(t *testing.T) {
	now := time.Now()
	past := now.AddDate(0, 0, -1)

	paid := &Invoice{Items: []InvoiceItem{{Quantity: 1, UnitPrice: dec("80")}}, PaidAmount: dec("80"), DueDate: past}
	Recompute(paid)
	if got := EffectiveStatus(paid, now); got != StatusPaid {
		t.Errorf("paid invoice effective status = %s, want paid", got)
	}

	cancelled := &Invoice{Items: []InvoiceItem{{Quantity: 1, UnitPrice: dec("80")}}, Status: StatusCancelled, DueDate: past}
	Recompute(cancelled)
	if got := EffectiveStatus(cancelled, now); got != StatusCancelled {
		t.Errorf("cancelled invoice effective status = %s, want cancelled", got)
	}
}

func TestNewInvoiceNumberFormat(t *testing.T) {
	now := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	n := NewInvoiceNumber(now)
	if len(n) != len("INV-202608-xxxxxx") {
		t.Fatalf("unexpected length: %q", n)
	}
	if n[:11] != "INV-202608-" {
		t.Errorf("prefix = %q, want INV-202608-", n[:11])
	}
	if n == NewInvoiceNumber(now) {
		t.Error("two generated numbers collided")
	}
}

func TestProjectReceiptIsPure(t *testing.T) {
	now := time.Now()
	inv := &Invoice{
		Items:      []InvoiceItem{{Description: "Filling", Quantity: 1, UnitPrice: dec("80")}},
		PaidAmount: dec("30"),
		// Stale derived fields; the projection must not trust them.
		Total:   dec("999"),
		Balance: dec("999"),
		Status:  StatusPending,
		DueDate: now.AddDate(0, 0, 7),
	}

	r := ProjectReceipt(inv, now)

	if !r.Total.Equal(dec("80")) {
		t.Errorf("receipt total = %s, want 80", r.Total)
	}
	if !r.Balance.Equal(dec("50")) {
		t.Errorf("receipt balance = %s, want 50", r.Balance)
	}
	if r.Status != StatusPartiallyPaid {
		t.Errorf("receipt status = %s, want partially-paid", r.Status)
	}
	// The source invoice keeps its stale fields untouched.
	if !inv.Total.Equal(dec("999")) {
		t.Errorf("invoice total mutated to %s", inv.Total)
	}
	if inv.Status != StatusPending {
		t.Errorf("invoice status mutated to %s", inv.Status)
	}
}
