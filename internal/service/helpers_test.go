package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/notify"
	"checkout-service/internal/payment"
	"checkout-service/internal/pricing"
	"checkout-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const buyer = int64(7)

var t0 = time.Date(2024, 7, 25, 14, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu      sync.Mutex
	created []*models.OrderCreatedEvent
	paid    []*models.OrderPaidEvent
	changed []*models.OrderStatusChangedEvent
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishOrderPaid(_ context.Context, e *models.OrderPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, e)
	return nil
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return nil
}

func (p *recordingPublisher) counts() (created, paid, changed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.created), len(p.paid), len(p.changed)
}

type fixture struct {
	store    *store.MemoryStore
	bus      *notify.MemoryBus
	events   *recordingPublisher
	notifier *Notifier
	orders   *OrderService
	recon    *Reconciler
	admin    *AdminService
	expiry   *ExpiryService
}

var testBank = payment.BankAccount{
	BankCode:      "MB",
	AccountNumber: "0123499999",
	AccountName:   "CHECKOUT",
	Currency:      "VND",
	QRBaseURL:     "https://img.vietqr.io/image",
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	st.PutProduct(models.Product{ID: 1, SKU: "TEA-1", Name: "Green tea", Price: decimal.NewFromInt(100000), Active: true})
	st.PutProduct(models.Product{ID: 2, SKU: "CUP-1", Name: "Cup", Price: decimal.NewFromInt(50000), Active: true})
	st.PutProduct(models.Product{ID: 3, SKU: "OLD-1", Name: "Retired", Price: decimal.NewFromInt(10000), Active: false})
	st.PutProduct(models.Product{ID: 9, SKU: "PEN-1", Name: "Pen", Price: decimal.NewFromInt(5000), Active: true})
	st.PutCart(buyer,
		models.CartLine{CartID: 1, ProductID: 1, Quantity: 2},
		models.CartLine{CartID: 1, ProductID: 2, Quantity: 1},
		models.CartLine{CartID: 1, ProductID: 9, Quantity: 4},
	)

	bus := notify.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	events := &recordingPublisher{}
	notifier := NewNotifier(bus, events)
	codec := payment.MustCodec("DH", "PAY")

	orders := NewOrderService(st, pricing.NewEngine(), codec, testBank, notifier, 15*time.Minute)
	orders.now = func() time.Time { return t0 }

	recon := NewReconciler(st, codec, notifier, nil)
	recon.now = func() time.Time { return t0.Add(5 * time.Minute) }

	admin := NewAdminService(st, notifier)
	admin.now = func() time.Time { return t0.Add(10 * time.Minute) }

	return &fixture{
		store:    st,
		bus:      bus,
		events:   events,
		notifier: notifier,
		orders:   orders,
		recon:    recon,
		admin:    admin,
		expiry:   NewExpiryService(st, notifier),
	}
}

func validRequest(method models.PaymentMethod) *CreateOrderRequest {
	return &CreateOrderRequest{
		Items: []pricing.Item{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 1},
		},
		Shipping: ShippingDetails{
			Name:    "Nguyen Van A",
			Phone:   "0900000000",
			Address: "1 Le Loi, District 1",
		},
		PaymentMethod: method,
	}
}

func (f *fixture) createTransferOrder(t *testing.T) *OrderView {
	t.Helper()
	view, err := f.orders.CreateOrder(context.Background(), buyer, validRequest(models.PaymentMethodBankTransfer))
	require.NoError(t, err)
	return view
}

func transfer(narration string, amount int64, ref string) payment.Notification {
	return payment.Notification{
		Provider:    "sepay",
		ProviderRef: ref,
		Narration:   narration,
		Amount:      decimal.NewFromInt(amount),
		Direction:   payment.DirectionIn,
		Raw:         json.RawMessage(fmt.Sprintf(`{"id":%q,"content":%q}`, ref, narration)),
	}
}

func (f *fixture) subscribe(t *testing.T, topic string) *notify.Subscription {
	t.Helper()
	sub, err := f.bus.Subscribe(context.Background(), topic)
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	return sub
}

func nextEvent(t *testing.T, sub *notify.Subscription) notify.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for order event")
	}
	return notify.Event{}
}
