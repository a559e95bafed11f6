package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"ticketing-service/internal/gateway"
	"ticketing-service/internal/models"
	"ticketing-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	status        string
	paymentMethod string
	err           error
	queries       int
}

func (f *fakeGateway) QueryStatus(ctx context.Context, trackingID string) (string, string, error) {
	f.queries++
	if f.err != nil {
		return "", "", f.err
	}
	return f.status, f.paymentMethod, nil
}

type fakePurchaseStore struct {
	purchases  map[string]*models.Purchase
	ambiguous  map[string]bool
	staleReads bool
	applyCalls int
}

func newFakePurchaseStore(purchases ...*models.Purchase) *fakePurchaseStore {
	f := &fakePurchaseStore{
		purchases: make(map[string]*models.Purchase),
		ambiguous: make(map[string]bool),
	}
	for _, p := range purchases {
		f.purchases[p.ReferenceNumber] = p
	}
	return f
}

func (f *fakePurchaseStore) GetPurchaseByReference(ctx context.Context, referenceNumber string) (*models.Purchase, error) {
	if f.ambiguous[referenceNumber] {
		return nil, fmt.Errorf("%w: %s", store.ErrAmbiguousReference, referenceNumber)
	}
	p, ok := f.purchases[referenceNumber]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, referenceNumber)
	}
	copied := *p
	if f.staleReads {
		copied.PaymentStatus = models.PaymentStatusPending
	}
	return &copied, nil
}

func (f *fakePurchaseStore) ApplyPaymentOutcome(ctx context.Context, purchaseID int64, status, paymentMethod, transactionID string) (bool, error) {
	f.applyCalls++
	for _, p := range f.purchases {
		if p.ID != purchaseID {
			continue
		}
		if p.PaymentStatus != models.PaymentStatusPending {
			return false, nil
		}
		p.PaymentStatus = status
		if paymentMethod != "" {
			p.PaymentMethod = paymentMethod
		}
		if transactionID != "" {
			p.TransactionID = transactionID
		}
		return true, nil
	}
	return false, nil
}

type fakeNotifier struct {
	events []*models.TicketIssuanceRequestedEvent
	err    error
}

func (f *fakeNotifier) PublishTicketIssuanceRequested(ctx context.Context, event *models.TicketIssuanceRequestedEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type fakeLocker struct {
	acquired int
	released int
	held     bool
}

func (f *fakeLocker) AcquireReconcileLock(ctx context.Context, ref string, ttl time.Duration) (bool, error) {
	f.acquired++
	return !f.held, nil
}

func (f *fakeLocker) ReleaseReconcileLock(ctx context.Context, ref string) error {
	f.released++
	return nil
}

func pendingPurchase(reference string) *models.Purchase {
	return &models.Purchase{
		ID:              1,
		ReferenceNumber: reference,
		EventName:       "Untamed Festival",
		Quantity:        2,
		UnitPrice:       150000,
		Currency:        "KES",
		BuyerEmail:      "buyer@example.com",
		PaymentStatus:   models.PaymentStatusPending,
	}
}

func newReconciler(gw *fakeGateway, purchases *fakePurchaseStore, notifier *fakeNotifier) *StatusReconciler {
	return NewStatusReconciler(gw, NewReferenceResolver(purchases), purchases, notifier, nil)
}

func TestReconcileCompletedPayment(t *testing.T) {
	purchases := newFakePurchaseStore(pendingPurchase("UNT-100"))
	gw := &fakeGateway{status: "COMPLETED", paymentMethod: "Visa"}
	notifier := &fakeNotifier{}
	sr := newReconciler(gw, purchases, notifier)

	err := sr.Reconcile(context.Background(), "trk-42", "UNT-100")
	require.NoError(t, err)

	p := purchases.purchases["UNT-100"]
	assert.Equal(t, models.PaymentStatusPaid, p.PaymentStatus)
	assert.Equal(t, "Visa", p.PaymentMethod)
	assert.Equal(t, "trk-42", p.TransactionID)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "UNT-100", notifier.events[0].ReferenceNumber)
	assert.Equal(t, "trk-42", notifier.events[0].TransactionID)
}

func TestReconcileDuplicateNotification(t *testing.T) {
	purchases := newFakePurchaseStore(pendingPurchase("UNT-100"))
	gw := &fakeGateway{status: "COMPLETED", paymentMethod: "Visa"}
	notifier := &fakeNotifier{}
	sr := newReconciler(gw, purchases, notifier)

	require.NoError(t, sr.Reconcile(context.Background(), "trk-42", "UNT-100"))
	require.NoError(t, sr.Reconcile(context.Background(), "trk-42", "UNT-100"))

	assert.Equal(t, models.PaymentStatusPaid, purchases.purchases["UNT-100"].PaymentStatus)
	assert.Len(t, notifier.events, 1, "duplicate notification must not emit a second issuance event")
	assert.Equal(t, 1, purchases.applyCalls, "terminal purchase must skip the update entirely")
}

func TestReconcileFailedPayment(t *testing.T) {
	purchases := newFakePurchaseStore(pendingPurchase("UNT-100"))
	gw := &fakeGateway{status: "FAILED"}
	notifier := &fakeNotifier{}
	sr := newReconciler(gw, purchases, notifier)

	require.NoError(t, sr.Reconcile(context.Background(), "trk-42", "UNT-100"))

	assert.Equal(t, models.PaymentStatusFailed, purchases.purchases["UNT-100"].PaymentStatus)
	assert.Empty(t, notifier.events, "failed payment must not request ticket issuance")
}

func TestReconcileCancelledPayment(t *testing.T) {
	purchases := newFakePurchaseStore(pendingPurchase("UNT-100"))
	gw := &fakeGateway{status: "CANCELLED"}
	notifier := &fakeNotifier{}
	sr := newReconciler(gw, purchases, notifier)

	require.NoError(t, sr.Reconcile(context.Background(), "trk-42", "UNT-100"))

	assert.Equal(t, models.PaymentStatusCancelled, purchases.purchases["UNT-100"].PaymentStatus)
	assert.Empty(t, notifier.events)
}

func TestReconcileUnknownStatusIsNoOp(t *testing.T) {
	purchases := newFakePurchaseStore(pendingPurchase("UNT-100"))
	gw := &fakeGateway{status: "PROCESSING"}
	notifier := &fakeNotifier{}
	sr := newReconciler(gw, purchases, notifier)

	require.NoError(t, sr.Reconcile(context.Background(), "trk-42", "UNT-100"))

	assert.Equal(t, models.PaymentStatusPending, purchases.purchases["UNT-100"].PaymentStatus)
	assert.Zero(t, purchases.applyCalls)
	assert.Empty(t, notifier.events)
}

func TestReconcileGatewayUnreachable(t *testing.T) {
	purchases := newFakePurchaseStore(pendingPurchase("UNT-100"))
	gw := &fakeGateway{err: fmt.Errorf("%w: connection refused", gateway.ErrUnreachable)}
	notifier := &fakeNotifier{}
	sr := newReconciler(gw, purchases, notifier)

	err := sr.Reconcile(context.Background(), "trk-42", "UNT-100")
	assert.ErrorIs(t, err, gateway.ErrUnreachable)

	assert.Equal(t, models.PaymentStatusPending, purchases.purchases["UNT-100"].PaymentStatus,
		"purchase must stay untouched when the status query fails")
	assert.Zero(t, purchases.applyCalls)
	assert.Empty(t, notifier.events)
}

func TestReconcileAmbiguousReference(t *testing.T) {
	purchases := newFakePurchaseStore(pendingPurchase("UNT-100"))
	purchases.ambiguous["UNT-100"] = true
	gw := &fakeGateway{status: "COMPLETED"}
	notifier := &fakeNotifier{}
	sr := newReconciler(gw, purchases, notifier)

	err := sr.Reconcile(context.Background(), "trk-42", "UNT-100")
	assert.ErrorIs(t, err, store.ErrAmbiguousReference)
	assert.Zero(t, purchases.applyCalls, "ambiguous reference must not be updated")
	assert.Empty(t, notifier.events)
}

func TestReconcileUnknownReference(t *testing.T) {
	purchases := newFakePurchaseStore()
	gw := &fakeGateway{status: "COMPLETED"}
	notifier := &fakeNotifier{}
	sr := newReconciler(gw, purchases, notifier)

	err := sr.Reconcile(context.Background(), "trk-42", "UNT-999")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, notifier.events)
}

func TestReconcileLostRaceEmitsNoEvent(t *testing.T) {
	// The resolver sees a stale pending snapshot while a concurrent
	// reconcile wins the conditional update between the read and the
	// write. The loser must not emit the issuance event.
	purchases := newFakePurchaseStore(pendingPurchase("UNT-100"))
	purchases.staleReads = true
	purchases.purchases["UNT-100"].PaymentStatus = models.PaymentStatusPaid
	gw := &fakeGateway{status: "COMPLETED"}
	notifier := &fakeNotifier{}
	sr := newReconciler(gw, purchases, notifier)

	err := sr.Reconcile(context.Background(), "trk-42", "UNT-100")
	require.NoError(t, err)
	assert.Equal(t, 1, purchases.applyCalls, "write attempted against the guard")
	assert.Empty(t, notifier.events, "losing the write race must not emit the event")
}

func TestReconcilePublishFailureDoesNotFailReconcile(t *testing.T) {
	purchases := newFakePurchaseStore(pendingPurchase("UNT-100"))
	gw := &fakeGateway{status: "COMPLETED"}
	notifier := &fakeNotifier{err: errors.New("broker down")}
	sr := newReconciler(gw, purchases, notifier)

	err := sr.Reconcile(context.Background(), "trk-42", "UNT-100")
	assert.NoError(t, err, "the paid status is durable; publish failure is logged only")
	assert.Equal(t, models.PaymentStatusPaid, purchases.purchases["UNT-100"].PaymentStatus)
}

func TestReconcileReleasesLock(t *testing.T) {
	purchases := newFakePurchaseStore(pendingPurchase("UNT-100"))
	gw := &fakeGateway{status: "COMPLETED"}
	notifier := &fakeNotifier{}
	locker := &fakeLocker{}
	sr := NewStatusReconciler(gw, NewReferenceResolver(purchases), purchases, notifier, locker)

	require.NoError(t, sr.Reconcile(context.Background(), "trk-42", "UNT-100"))
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)
}
