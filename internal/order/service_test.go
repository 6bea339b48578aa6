package order

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"commerce-service/internal/apperr"
	"commerce-service/internal/model"
	"commerce-service/internal/store"
	"commerce-service/internal/store/badgerstore"
	metrics "commerce-service/prometheus"
)

type fixture struct {
	svc     *Service
	store   store.Store
	metrics *metrics.Metrics
	client  uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := badgerstore.Open(badgerstore.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := metrics.New("test", prometheus.NewRegistry())
	f := &fixture{svc: NewService(s, m, zap.NewNop()), store: s, metrics: m}
	f.client = f.addClient(t, "alice")
	return f
}

func (f *fixture) addClient(t *testing.T, username string) uint {
	t.Helper()
	c := &model.Client{Username: username, Password: "x", Enabled: true}
	require.NoError(t, f.store.Update(context.Background(), func(r store.Repository) error {
		return r.CreateClient(c)
	}))
	return c.ID
}

func (f *fixture) addProduct(t *testing.T, name string, price float64, stock int) uint {
	t.Helper()
	p := &model.Product{Name: name, Price: price, Stock: stock}
	require.NoError(t, f.store.Update(context.Background(), func(r store.Repository) error {
		return r.CreateProduct(p)
	}))
	return p.ID
}

func (f *fixture) product(t *testing.T, id uint) *model.Product {
	t.Helper()
	var p *model.Product
	require.NoError(t, f.store.View(context.Background(), func(r store.Repository) error {
		var err error
		p, err = r.FindProduct(id)
		return err
	}))
	return p
}

func (f *fixture) clientRecord(t *testing.T) *model.Client {
	t.Helper()
	var c *model.Client
	require.NoError(t, f.store.View(context.Background(), func(r store.Repository) error {
		var err error
		c, err = r.FindClient(f.client)
		return err
	}))
	return c
}

func (f *fixture) setPrice(t *testing.T, id uint, price float64) {
	t.Helper()
	require.NoError(t, f.store.Update(context.Background(), func(r store.Repository) error {
		p, err := r.FindProduct(id)
		if err != nil {
			return err
		}
		p.Price = price
		return r.SaveProduct(p)
	}))
}

func TestAddToCartMergesLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 10, 5)

	first, err := f.svc.AddToCart(ctx, f.client, p1, 3)
	require.NoError(t, err)

	// A later catalog price change does not touch the snapshot
	f.setPrice(t, p1, 99)

	snap, err := f.svc.AddToCart(ctx, f.client, p1, 2)
	require.NoError(t, err)

	h := snap.Header
	assert.Equal(t, first.Header.ID, h.ID)
	assert.Equal(t, model.StatusCart, h.Status)
	require.Len(t, h.Items, 1)
	assert.Equal(t, 5, h.Items[0].Quantity)
	assert.Equal(t, 10.0, h.Items[0].Price)
	assert.Equal(t, 50.0, h.TotalPrice)
	assert.Equal(t, 99.0, snap.Products[p1].Price)
}

func TestAddToCartValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 10, 5)

	_, err := f.svc.AddToCart(ctx, f.client, p1, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.svc.AddToCart(ctx, f.client, 999, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.AddToCart(ctx, 999, p1, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	cart, err := f.svc.Cart(ctx, f.client)
	require.NoError(t, err)
	assert.Nil(t, cart)
}

func TestCheckoutExactStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 10, 5)

	cart, err := f.svc.AddToCart(ctx, f.client, p1, 5)
	require.NoError(t, err)

	paid, err := f.svc.Checkout(ctx, cart.Header.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, paid.Header.Status)
	assert.Equal(t, 50.0, paid.Header.TotalPrice)

	p := f.product(t, p1)
	assert.Equal(t, 0, p.Stock)
	assert.Equal(t, 5, p.Sales)
	assert.Equal(t, 1, f.clientRecord(t).PurchaseCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrderTransitions.WithLabelValues("PAID")))

	// The paid header is no longer the cart
	current, err := f.svc.Cart(ctx, f.client)
	require.NoError(t, err)
	assert.Nil(t, current)

	_, err = f.svc.Checkout(ctx, cart.Header.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestCheckoutInsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 10, 5)

	cart, err := f.svc.AddToCart(ctx, f.client, p1, 6)
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, cart.Header.ID)
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)
	id, ok := apperr.ProductOf(err)
	assert.True(t, ok)
	assert.Equal(t, p1, id)

	assert.Equal(t, 5, f.product(t, p1).Stock)
	current, err := f.svc.Cart(ctx, f.client)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, model.StatusCart, current.Header.Status)
}

func TestCheckoutIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inStock := f.addProduct(t, "in stock", 10, 10)
	short := f.addProduct(t, "short", 20, 1)

	_, err := f.svc.AddToCart(ctx, f.client, inStock, 2)
	require.NoError(t, err)
	cart, err := f.svc.AddToCart(ctx, f.client, short, 2)
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, cart.Header.ID)
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)

	assert.Equal(t, 10, f.product(t, inStock).Stock)
	assert.Equal(t, 0, f.product(t, inStock).Sales)
	assert.Equal(t, 1, f.product(t, short).Stock)
	assert.Equal(t, 0, f.clientRecord(t).PurchaseCount)
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 10, 5)

	cart, err := f.svc.AddToCart(ctx, f.client, p1, 1)
	require.NoError(t, err)
	_, err = f.svc.RemoveItem(ctx, cart.Header.ID, cart.Header.Items[0].ID)
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, cart.Header.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.svc.Checkout(ctx, 12345)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRefundRestoresCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 10, 7)
	p2 := f.addProduct(t, "P2", 4, 3)

	_, err := f.svc.AddToCart(ctx, f.client, p1, 4)
	require.NoError(t, err)
	cart, err := f.svc.AddToCart(ctx, f.client, p2, 3)
	require.NoError(t, err)

	before1, before2 := f.product(t, p1), f.product(t, p2)

	_, err = f.svc.Checkout(ctx, cart.Header.ID)
	require.NoError(t, err)
	refunded, err := f.svc.Refund(ctx, cart.Header.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRefunded, refunded.Header.Status)

	after1, after2 := f.product(t, p1), f.product(t, p2)
	assert.Equal(t, before1.Stock, after1.Stock)
	assert.Equal(t, before1.Sales, after1.Sales)
	assert.Equal(t, before2.Stock, after2.Stock)
	assert.Equal(t, before2.Sales, after2.Sales)
	assert.Equal(t, 0, f.clientRecord(t).PurchaseCount)
	assert.Equal(t, 7.0, testutil.ToFloat64(f.metrics.RefundedUnits))

	_, err = f.svc.Refund(ctx, cart.Header.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestRefundFloorsSales(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 10, 5)

	cart, err := f.svc.AddToCart(ctx, f.client, p1, 2)
	require.NoError(t, err)
	_, err = f.svc.Checkout(ctx, cart.Header.ID)
	require.NoError(t, err)

	// Sales counters edited by hand below the refunded amount
	require.NoError(t, f.store.Update(ctx, func(r store.Repository) error {
		p, err := r.FindProduct(p1)
		if err != nil {
			return err
		}
		p.Sales = 1
		return r.SaveProduct(p)
	}))

	_, err = f.svc.Refund(ctx, cart.Header.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.product(t, p1).Sales)
	assert.Equal(t, 5, f.product(t, p1).Stock)
}

func TestPartialCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 10, 10)
	p2 := f.addProduct(t, "P2", 5, 10)
	p3 := f.addProduct(t, "P3", 1, 10)

	_, err := f.svc.AddToCart(ctx, f.client, p1, 3)
	require.NoError(t, err)
	cart, err := f.svc.AddToCart(ctx, f.client, p2, 2)
	require.NoError(t, err)

	order, rest, err := f.svc.CreateOrderForItems(ctx, f.client, []Selection{
		{ProductID: p1, Quantity: 1},
		{ProductID: p1, Quantity: 1},
		{ProductID: p2, Quantity: 9}, // clamped to 2
		{ProductID: p3, Quantity: 1}, // not in the cart
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusPaid, order.Header.Status)
	assert.NotEqual(t, cart.Header.ID, order.Header.ID)
	require.Len(t, order.Header.Items, 2)
	assert.Equal(t, 2, order.Header.Items[0].Quantity)
	assert.Equal(t, 2, order.Header.Items[1].Quantity)
	assert.Equal(t, 30.0, order.Header.TotalPrice)

	assert.Equal(t, cart.Header.ID, rest.Header.ID)
	require.Len(t, rest.Header.Items, 1)
	assert.Equal(t, p1, rest.Header.Items[0].ProductID)
	assert.Equal(t, 1, rest.Header.Items[0].Quantity)
	assert.Equal(t, 10.0, rest.Header.TotalPrice)

	assert.Equal(t, 8, f.product(t, p1).Stock)
	assert.Equal(t, 8, f.product(t, p2).Stock)
	assert.Equal(t, 10, f.product(t, p3).Stock)
}

func TestPartialCheckoutKeepsEmptiedCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 10, 10)

	cart, err := f.svc.AddToCart(ctx, f.client, p1, 2)
	require.NoError(t, err)

	_, rest, err := f.svc.CreateOrderForItems(ctx, f.client, []Selection{{ProductID: p1, Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, cart.Header.ID, rest.Header.ID)
	assert.Empty(t, rest.Header.Items)
	assert.Equal(t, model.StatusCart, rest.Header.Status)
}

func TestPartialCheckoutFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 10, 1)
	p2 := f.addProduct(t, "P2", 10, 10)

	_, _, err := f.svc.CreateOrderForItems(ctx, f.client, []Selection{{ProductID: p1, Quantity: 1}})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument, "no cart yet")

	_, err = f.svc.AddToCart(ctx, f.client, p1, 3)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, f.client, p2, 1)
	require.NoError(t, err)

	_, _, err = f.svc.CreateOrderForItems(ctx, f.client, []Selection{{ProductID: p1, Quantity: -1}})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, _, err = f.svc.CreateOrderForItems(ctx, f.client, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, _, err = f.svc.CreateOrderForItems(ctx, f.client, []Selection{
		{ProductID: p2, Quantity: 1},
		{ProductID: p1, Quantity: 2},
	})
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Equal(t, 1, f.product(t, p1).Stock)
	assert.Equal(t, 10, f.product(t, p2).Stock)

	cart, err := f.svc.Cart(ctx, f.client)
	require.NoError(t, err)
	assert.Len(t, cart.Header.Items, 2)
}

func TestRemoveItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 10, 10)
	p2 := f.addProduct(t, "P2", 2.5, 10)

	_, err := f.svc.AddToCart(ctx, f.client, p1, 1)
	require.NoError(t, err)
	cart, err := f.svc.AddToCart(ctx, f.client, p2, 2)
	require.NoError(t, err)

	snap, err := f.svc.RemoveItem(ctx, cart.Header.ID, cart.Header.Items[0].ID)
	require.NoError(t, err)
	require.Len(t, snap.Header.Items, 1)
	assert.Equal(t, 5.0, snap.Header.TotalPrice)

	// Unknown item ids are ignored
	snap, err = f.svc.RemoveItem(ctx, cart.Header.ID, 4242)
	require.NoError(t, err)
	assert.Len(t, snap.Header.Items, 1)

	_, err = f.svc.Checkout(ctx, cart.Header.ID)
	require.NoError(t, err)
	_, err = f.svc.RemoveItem(ctx, cart.Header.ID, snap.Header.Items[0].ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestLogicalDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 10, 10)

	cart, err := f.svc.AddToCart(ctx, f.client, p1, 1)
	require.NoError(t, err)
	_, err = f.svc.Checkout(ctx, cart.Header.ID)
	require.NoError(t, err)

	_, err = f.svc.LogicalDelete(ctx, cart.Header.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "PAID is terminal")

	_, err = f.svc.Refund(ctx, cart.Header.ID)
	require.NoError(t, err)
	snap, err := f.svc.LogicalDelete(ctx, cart.Header.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeletedByClient, snap.Header.Status)
	require.Len(t, snap.Header.Items, 1)
	assert.Equal(t, 10, f.product(t, p1).Stock)

	_, err = f.svc.LogicalDelete(ctx, cart.Header.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrderTransitions.WithLabelValues("DELETED_BY_CLIENT")))

	history, err := f.svc.Orders(ctx, f.client)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCancelAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 10, 10)

	cart, err := f.svc.AddToCart(ctx, f.client, p1, 1)
	require.NoError(t, err)
	cancelled, err := f.svc.Cancel(ctx, cart.Header.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Header.Status)

	_, err = f.svc.Cancel(ctx, cart.Header.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	// A fresh cart can be opened after cancelling
	next, err := f.svc.AddToCart(ctx, f.client, p1, 2)
	require.NoError(t, err)
	assert.NotEqual(t, cart.Header.ID, next.Header.ID)
	_, err = f.svc.Checkout(ctx, next.Header.ID)
	require.NoError(t, err)

	history, err := f.svc.Orders(ctx, f.client)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, next.Header.ID, history[0].Header.ID)
	assert.Equal(t, model.StatusCancelled, history[1].Header.Status)
	assert.Contains(t, history[0].Products, p1)

	one, err := f.svc.Order(ctx, next.Header.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, one.Header.Status)
}

func TestConcurrentAddToCartKeepsSingleCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 1, 100)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddToCart(ctx, f.client, p1, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var carts []model.OrderHeader
	require.NoError(t, f.store.View(ctx, func(r store.Repository) error {
		var err error
		carts, err = r.ListOrders(store.OrderQuery{ClientID: f.client, Statuses: []model.OrderStatus{model.StatusCart}})
		return err
	}))
	require.Len(t, carts, 1)
	require.Len(t, carts[0].Items, 1)
	assert.Equal(t, 20, carts[0].Items[0].Quantity)
	assert.Zero(t, f.svc.locks.size())
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "P1", 1, 3)

	var carts []uint
	for _, name := range []string{"u1", "u2", "u3", "u4", "u5"} {
		id := f.addClient(t, name)
		snap, err := f.svc.AddToCart(ctx, id, p1, 1)
		require.NoError(t, err)
		carts = append(carts, snap.Header.ID)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, id := range carts {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			if _, err := f.svc.Checkout(ctx, id); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	p := f.product(t, p1)
	assert.Equal(t, 3-ok, p.Stock)
	assert.Equal(t, ok, p.Sales)
	assert.GreaterOrEqual(t, p.Stock, 0)
}
