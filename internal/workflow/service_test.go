package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/models"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/notify"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/store"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/testutil"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

// Notify builds inline so tests can assert on messages right after a call.
func (n *recordingNotifier) Notify(ctx context.Context, build notify.BuildFunc) {
	msg, err := build(ctx)
	if err != nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *recordingNotifier) messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.msgs...)
}

type panickingNotifier struct{}

func (panickingNotifier) Notify(ctx context.Context, build notify.BuildFunc) {
	panic("dispatcher unavailable")
}

// queuedNotifier keeps builders without running them.
type queuedNotifier struct {
	mu     sync.Mutex
	builds []notify.BuildFunc
}

func (n *queuedNotifier) Notify(ctx context.Context, build notify.BuildFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.builds = append(n.builds, build)
}

type failingChannel struct{}

func (failingChannel) Name() string { return "failing" }
func (failingChannel) Send(ctx context.Context, msg notify.Message) error {
	return errors.New("smtp: connection refused")
}

func setupService(t *testing.T, quantity int, unitPrice string) (*Service, *sql.DB, *testutil.Fixture, *recordingNotifier) {
	t.Helper()
	db := testutil.SetupDB(t)
	f := testutil.SeedFixture(t, db, quantity, unitPrice)
	n := &recordingNotifier{}
	return NewService(db, n, zap.NewNop()), db, f, n
}

func placeRequest(lotID int64, quantity int) PlaceOrderRequest {
	return PlaceOrderRequest{
		LotID:           lotID,
		Quantity:        quantity,
		DeliveryName:    "Jane Doe",
		DeliveryAddress: "12 Harbour Road",
		DeliveryContact: "+94 77 000 0000",
	}
}

func lotQuantity(t *testing.T, db *sql.DB, lotID int64) int {
	t.Helper()
	lot, err := store.GetLot(context.Background(), db, lotID)
	if err != nil {
		t.Fatalf("Get lot: %v", err)
	}
	return lot.Quantity
}

func mustPlace(t *testing.T, svc *Service, f *testutil.Fixture, quantity int) *models.Order {
	t.Helper()
	order, err := svc.PlaceOrder(context.Background(), testutil.Principal(f.Customer), placeRequest(f.Lot.ID, quantity))
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}
	return order
}

func TestOrderLifecycleScenario(t *testing.T) {
	svc, db, f, notifier := setupService(t, 10, "100.00")
	ctx := context.Background()
	pharmacist := testutil.Principal(f.Pharmacist)

	order := mustPlace(t, svc, f, 3)
	if order.Status != models.OrderStatusPending {
		t.Errorf("Expected pending, got %s", order.Status)
	}
	if got := lotQuantity(t, db, f.Lot.ID); got != 10 {
		t.Errorf("Placement must not move stock, got %d", got)
	}

	msgs := notifier.messages()
	if len(msgs) != 1 || msgs[0].RecipientID != f.Pharmacist.ID || msgs[0].TemplateKey != notify.TemplateOrderPlaced {
		t.Fatalf("Expected pharmacist to be notified of placement, got %+v", msgs)
	}

	result, err := svc.ApproveOrder(ctx, pharmacist, order.ID)
	if err != nil {
		t.Fatalf("Approve order: %v", err)
	}
	if result.Order.Status != models.OrderStatusApproved || result.RemainingStock != 7 {
		t.Errorf("Unexpected approval result: status %s, remaining %d", result.Order.Status, result.RemainingStock)
	}
	if got := lotQuantity(t, db, f.Lot.ID); got != 7 {
		t.Errorf("Expected stock 7 after approval, got %d", got)
	}

	msgs = notifier.messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected approval notification, got %d messages", len(msgs))
	}
	approved := msgs[1]
	if approved.RecipientID != f.Customer.ID || approved.TemplateKey != notify.TemplateOrderApproved {
		t.Errorf("Unexpected approval message %+v", approved)
	}
	if approved.Data["Total"] != "300.00" || approved.Data["PharmacistEmail"] != f.Pharmacist.Email {
		t.Errorf("Approval message missing total or contact: %v", approved.Data)
	}

	_, err = svc.ApproveOrder(ctx, pharmacist, order.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected invalid transition on re-approval, got: %v", err)
	}
	if got := lotQuantity(t, db, f.Lot.ID); got != 7 {
		t.Errorf("Re-approval must not move stock, got %d", got)
	}
	if len(notifier.messages()) != 2 {
		t.Error("Failed re-approval must not notify")
	}
}

func TestConcurrentApprovalsOnSharedLot(t *testing.T) {
	svc, db, f, _ := setupService(t, 5, "10.00")
	ctx := context.Background()
	pharmacist := testutil.Principal(f.Pharmacist)

	first := mustPlace(t, svc, f, 5)
	second := mustPlace(t, svc, f, 5)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = svc.ApproveOrder(ctx, pharmacist, id)
		}(i, id)
	}
	wg.Wait()

	successCount := 0
	loser := -1
	for i, err := range errs {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, ErrInsufficientStock):
			loser = i
			var stockErr *InsufficientStockError
			if !errors.As(err, &stockErr) || stockErr.Available != 0 {
				t.Errorf("Expected available 0, got: %v", err)
			}
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successCount != 1 || loser == -1 {
		t.Fatalf("Expected exactly one approval and one stock failure, got %d successes", successCount)
	}
	if got := lotQuantity(t, db, f.Lot.ID); got != 0 {
		t.Errorf("Expected stock 0, got %d", got)
	}

	loserID := []int64{first.ID, second.ID}[loser]
	order, err := store.GetOrder(ctx, db, loserID)
	if err != nil {
		t.Fatalf("Get losing order: %v", err)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("Losing order should stay pending, got %s", order.Status)
	}
}

func TestConcurrentDecisionsOnSameOrder(t *testing.T) {
	svc, db, f, _ := setupService(t, 20, "10.00")
	ctx := context.Background()
	pharmacist := testutil.Principal(f.Pharmacist)
	order := mustPlace(t, svc, f, 2)

	concurrency := 6
	var wg sync.WaitGroup
	results := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := svc.ApproveOrder(ctx, pharmacist, order.ID)
				results <- err
				return
			}
			_, err := svc.RejectOrder(ctx, pharmacist, order.ID, "duplicate request")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, ErrInvalidTransition):
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if successCount != 1 {
		t.Errorf("Expected exactly one decision, got %d", successCount)
	}

	final, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	expectedStock := 20
	if final.Status == models.OrderStatusApproved {
		expectedStock = 18
	}
	if got := lotQuantity(t, db, f.Lot.ID); got != expectedStock {
		t.Errorf("Expected stock %d for %s order, got %d", expectedStock, final.Status, got)
	}
}

func TestApproveInsufficientStockLeavesOrderPending(t *testing.T) {
	svc, db, f, notifier := setupService(t, 4, "10.00")
	ctx := context.Background()
	order := mustPlace(t, svc, f, 4)

	if _, err := svc.SetLotQuantity(ctx, testutil.Principal(f.Pharmacist), f.Lot.ID, 1); err != nil {
		t.Fatalf("Lower stock: %v", err)
	}

	_, err := svc.ApproveOrder(ctx, testutil.Principal(f.Pharmacist), order.ID)
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Available != 1 || stockErr.Requested != 4 {
		t.Fatalf("Expected insufficient stock with 1 available, got: %v", err)
	}

	got, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if got.Status != models.OrderStatusPending {
		t.Errorf("Order should stay pending, got %s", got.Status)
	}
	if q := lotQuantity(t, db, f.Lot.ID); q != 1 {
		t.Errorf("Stock should stay 1, got %d", q)
	}
	if len(notifier.messages()) != 1 {
		t.Error("Only the placement should have notified")
	}
}

func TestPlaceOrderChecks(t *testing.T) {
	svc, db, f, notifier := setupService(t, 2, "10.00")
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, testutil.Principal(f.Customer), placeRequest(f.Lot.ID, 3))
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Available != 2 {
		t.Errorf("Expected insufficient stock with 2 available, got: %v", err)
	}

	if _, err := svc.PlaceOrder(ctx, testutil.Principal(f.Customer), placeRequest(9999, 1)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected not found for unknown lot, got: %v", err)
	}

	if _, err := svc.PlaceOrder(ctx, testutil.Principal(f.Pharmacist), placeRequest(f.Lot.ID, 1)); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected forbidden for pharmacist, got: %v", err)
	}

	if _, err := svc.PlaceOrder(ctx, testutil.Principal(f.Customer), placeRequest(f.Lot.ID, 0)); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error, got: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&count); err != nil {
		t.Fatalf("Count orders: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no orders, got %d", count)
	}
	if len(notifier.messages()) != 0 {
		t.Error("Failed placements must not notify")
	}
}

func TestDecisionAuthorization(t *testing.T) {
	svc, db, f, _ := setupService(t, 10, "10.00")
	ctx := context.Background()
	order := mustPlace(t, svc, f, 1)

	pendingPharmacist := testutil.MustUser(t, db, "new@example.com", models.RolePharmacist, models.ApprovalStatusPending)

	principals := map[string]models.Principal{
		"customer":           testutil.Principal(f.Customer),
		"regulator":          testutil.Principal(f.Regulator),
		"other pharmacist":   testutil.Principal(f.Other),
		"pending pharmacist": testutil.Principal(pendingPharmacist),
	}
	for name, p := range principals {
		if _, err := svc.ApproveOrder(ctx, p, order.ID); !errors.Is(err, ErrForbidden) {
			t.Errorf("%s approve: expected forbidden, got: %v", name, err)
		}
		if _, err := svc.RejectOrder(ctx, p, order.ID, "no"); !errors.Is(err, ErrForbidden) {
			t.Errorf("%s reject: expected forbidden, got: %v", name, err)
		}
	}

	if _, err := svc.ApproveOrder(ctx, testutil.Principal(f.Pharmacist), 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected not found, got: %v", err)
	}

	if got := lotQuantity(t, db, f.Lot.ID); got != 10 {
		t.Errorf("Refused decisions must not move stock, got %d", got)
	}
}

func TestRejectOrder(t *testing.T) {
	svc, db, f, notifier := setupService(t, 10, "10.00")
	ctx := context.Background()
	pharmacist := testutil.Principal(f.Pharmacist)
	order := mustPlace(t, svc, f, 4)

	if _, err := svc.RejectOrder(ctx, pharmacist, order.ID, "  "); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error for blank reason, got: %v", err)
	}
	if _, err := svc.RejectOrder(ctx, pharmacist, order.ID, strings.Repeat("x", 501)); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error for long reason, got: %v", err)
	}

	rejected, err := svc.RejectOrder(ctx, pharmacist, order.ID, "  Prescription has expired ")
	if err != nil {
		t.Fatalf("Reject order: %v", err)
	}
	if rejected.Status != models.OrderStatusRejected || rejected.RejectionReason == nil || *rejected.RejectionReason != "Prescription has expired" {
		t.Errorf("Unexpected rejected order %+v", rejected)
	}
	if rejected.RejectedAt == nil {
		t.Error("Expected rejection timestamp")
	}

	if _, err := svc.ApproveOrder(ctx, pharmacist, order.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected invalid transition after rejection, got: %v", err)
	}
	if got := lotQuantity(t, db, f.Lot.ID); got != 10 {
		t.Errorf("Rejection must not move stock, got %d", got)
	}

	msgs := notifier.messages()
	last := msgs[len(msgs)-1]
	if last.RecipientID != f.Customer.ID || last.Data["Reason"] != "Prescription has expired" {
		t.Errorf("Unexpected rejection notification %+v", last)
	}
}

func TestRejectOrderLeavesRecipientLookupToNotifier(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.SeedFixture(t, db, 10, "10.00")
	ctx := context.Background()
	queued := &queuedNotifier{}
	svc := NewService(db, queued, zap.NewNop())
	order := mustPlace(t, svc, f, 2)

	if _, err := svc.RejectOrder(ctx, testutil.Principal(f.Pharmacist), order.ID, "Out of cold storage"); err != nil {
		t.Fatalf("Reject order: %v", err)
	}
	if len(queued.builds) != 2 {
		t.Fatalf("Expected placement and rejection builders, got %d", len(queued.builds))
	}
	build := queued.builds[1]

	// Hold the users table so the recipient lookup cannot finish.
	blocker, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin blocker: %v", err)
	}
	if _, err := blocker.ExecContext(ctx, "LOCK TABLE users IN ACCESS EXCLUSIVE MODE"); err != nil {
		t.Fatalf("Lock users: %v", err)
	}

	slowCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	_, err = build(slowCtx)
	cancel()
	if err == nil || !strings.Contains(err.Error(), fmt.Sprintf("order %d", order.ID)) {
		t.Errorf("Expected bounded lookup to fail for order %d, got: %v", order.ID, err)
	}

	if err := blocker.Rollback(); err != nil {
		t.Fatalf("Release users: %v", err)
	}

	msg, err := build(ctx)
	if err != nil {
		t.Fatalf("Build after release: %v", err)
	}
	if msg.RecipientID != f.Customer.ID || msg.Data["Reason"] != "Out of cold storage" {
		t.Errorf("Unexpected rejection notification %+v", msg)
	}
}

func TestNotificationFailureDoesNotAffectOutcome(t *testing.T) {
	db := testutil.SetupDB(t)
	f := testutil.SeedFixture(t, db, 10, "10.00")
	ctx := context.Background()

	svc := NewService(db, panickingNotifier{}, zap.NewNop())
	order, err := svc.PlaceOrder(ctx, testutil.Principal(f.Customer), placeRequest(f.Lot.ID, 2))
	if err != nil {
		t.Fatalf("Place order with panicking notifier: %v", err)
	}

	fanout := notify.NewFanout(zap.NewNop(),
		notify.Options{Timeout: time.Second, MaxRetries: 1, InitialBackoff: time.Millisecond},
		failingChannel{}, notify.NewInAppChannel(db))
	svc = NewService(db, fanout, zap.NewNop())

	result, err := svc.ApproveOrder(ctx, testutil.Principal(f.Pharmacist), order.ID)
	if err != nil {
		t.Fatalf("Approve with failing channel: %v", err)
	}
	if result.RemainingStock != 8 {
		t.Errorf("Expected remaining stock 8, got %d", result.RemainingStock)
	}
	if err := fanout.Wait(ctx); err != nil {
		t.Fatalf("Wait for notifications: %v", err)
	}

	got, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if got.Status != models.OrderStatusApproved {
		t.Errorf("Expected approved, got %s", got.Status)
	}

	page, err := svc.ListNotifications(ctx, testutil.Principal(f.Customer), false, 1, 10)
	if err != nil {
		t.Fatalf("List notifications: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("In-app channel should still deliver, got %d notifications", page.Total)
	}
}

func TestGetOrderVisibility(t *testing.T) {
	svc, db, f, _ := setupService(t, 10, "12.50")
	ctx := context.Background()
	order := mustPlace(t, svc, f, 2)

	stranger := testutil.MustUser(t, db, "stranger@example.com", models.RoleCustomer, models.ApprovalStatusApproved)

	for _, p := range []models.Principal{
		testutil.Principal(f.Customer),
		testutil.Principal(f.Pharmacist),
		testutil.Principal(f.Regulator),
	} {
		got, err := svc.GetOrder(ctx, p, order.ID)
		if err != nil {
			t.Fatalf("Get order as %s: %v", p.Role, err)
		}
		if !got.Total.Equal(testutil.MustDecimal(t, "25")) {
			t.Errorf("Expected total 25, got %s", got.Total)
		}
	}

	for _, p := range []models.Principal{testutil.Principal(stranger), testutil.Principal(f.Other)} {
		if _, err := svc.GetOrder(ctx, p, order.ID); !errors.Is(err, ErrForbidden) {
			t.Errorf("Expected forbidden for user %d, got: %v", p.ID, err)
		}
	}

	if _, err := svc.GetOrder(ctx, testutil.Principal(f.Regulator), 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected not found, got: %v", err)
	}

	first, err := svc.GetOrder(ctx, testutil.Principal(f.Customer), order.ID)
	if err != nil {
		t.Fatalf("First read: %v", err)
	}
	second, err := svc.GetOrder(ctx, testutil.Principal(f.Customer), order.ID)
	if err != nil {
		t.Fatalf("Second read: %v", err)
	}
	if first.Status != second.Status || first.Version != second.Version || !first.UpdatedAt.Equal(second.UpdatedAt) {
		t.Error("Reads must not change the order")
	}
}

func TestListOrdersByRole(t *testing.T) {
	svc, _, f, _ := setupService(t, 10, "1.00")
	ctx := context.Background()
	mustPlace(t, svc, f, 1)
	mustPlace(t, svc, f, 1)

	tests := []struct {
		name string
		p    models.Principal
		want int
	}{
		{"customer", testutil.Principal(f.Customer), 2},
		{"owning pharmacist", testutil.Principal(f.Pharmacist), 2},
		{"other pharmacist", testutil.Principal(f.Other), 0},
		{"regulator", testutil.Principal(f.Regulator), 2},
	}
	for _, tt := range tests {
		page, err := svc.ListOrders(ctx, tt.p, ListOrdersRequest{Status: models.OrderStatusPending})
		if err != nil {
			t.Fatalf("%s: list orders: %v", tt.name, err)
		}
		if n := len(page.Items.([]models.Order)); n != tt.want {
			t.Errorf("%s: expected %d orders, got %d", tt.name, tt.want, n)
		}
	}

	if _, err := svc.ListOrders(ctx, testutil.Principal(f.Customer), ListOrdersRequest{Cursor: "%%%"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error for bad cursor, got: %v", err)
	}
}

func TestLotManagement(t *testing.T) {
	svc, _, f, _ := setupService(t, 10, "1.00")
	ctx := context.Background()
	owner := testutil.Principal(f.Pharmacist)
	other := testutil.Principal(f.Other)

	lot, err := svc.CreateLot(ctx, owner, CreateLotRequest{
		MedicineName: "Zolgensma",
		UnitPrice:    testutil.MustDecimal(t, "2125000.00"),
		Quantity:     2,
	})
	if err != nil {
		t.Fatalf("Create lot: %v", err)
	}

	if _, err := svc.CreateLot(ctx, testutil.Principal(f.Customer), CreateLotRequest{MedicineName: "x"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected forbidden for customer, got: %v", err)
	}
	if _, err := svc.SetLotQuantity(ctx, other, lot.ID, 100); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected forbidden for another pharmacist, got: %v", err)
	}
	if _, err := svc.SetLotQuantity(ctx, owner, lot.ID, -1); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error, got: %v", err)
	}

	updated, err := svc.UpdateLot(ctx, owner, lot.ID, UpdateLotRequest{
		MedicineName: "Zolgensma",
		Strength:     "2e13 vg/kg",
		UnitPrice:    testutil.MustDecimal(t, "2000000.00"),
	})
	if err != nil {
		t.Fatalf("Update lot: %v", err)
	}
	if updated.Strength != "2e13 vg/kg" || updated.Quantity != 2 {
		t.Errorf("Unexpected updated lot %+v", updated)
	}

	mustPlace(t, svc, f, 1)
	if err := svc.DeleteLot(ctx, owner, f.Lot.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected conflict deleting referenced lot, got: %v", err)
	}
	if err := svc.DeleteLot(ctx, owner, lot.ID); err != nil {
		t.Fatalf("Delete unused lot: %v", err)
	}
	if err := svc.DeleteLot(ctx, owner, lot.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected not found after delete, got: %v", err)
	}

	mine, err := svc.ListLots(ctx, other, 1, 10)
	if err != nil {
		t.Fatalf("List lots: %v", err)
	}
	if mine.Total != 0 {
		t.Errorf("Other pharmacist owns no lots, got %d", mine.Total)
	}
	catalogue, err := svc.ListLots(ctx, testutil.Principal(f.Customer), 1, 10)
	if err != nil {
		t.Fatalf("List catalogue: %v", err)
	}
	if catalogue.Total != 1 {
		t.Errorf("Expected 1 lot in catalogue, got %d", catalogue.Total)
	}
}
