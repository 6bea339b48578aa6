// Package order implements the cart and order lifecycle.
//
// A client owns at most one header in CART status. Checkout turns it into a PAID order,
// a partial checkout carves a new PAID order out of it. PAID orders can only be refunded.
// Every operation runs in a single store transaction.
package order

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"commerce-service/internal/apperr"
	"commerce-service/internal/model"
	"commerce-service/internal/store"
	metrics "commerce-service/prometheus"
)

// Snapshot is a header together with the current state of the products it references
type Snapshot struct {
	Header   *model.OrderHeader
	Products map[uint]*model.Product
}

// Selection asks for quantity units of a product in a partial checkout
type Selection struct {
	ProductID uint `json:"product_id"`
	Quantity  int  `json:"quantity"`
}

type restoredLine struct {
	ProductID uint `json:"product_id"`
	Quantity  int  `json:"quantity"`
}

// historyStatuses are the statuses listed in a client's order history
var historyStatuses = []model.OrderStatus{model.StatusPaid, model.StatusCancelled, model.StatusRefunded}

// Service runs the cart and order operations
type Service struct {
	store   store.Store
	locks   *keyedMutex
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewService creates the order service
func NewService(s store.Store, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{
		store:   s,
		locks:   newKeyedMutex(),
		metrics: m,
		log:     log,
	}
}

// AddToCart puts quantity units of productID into the client's cart, creating the cart if needed.
// A product already in the cart has its line incremented; a new line snapshots the product price.
func (s *Service) AddToCart(ctx context.Context, clientID, productID uint, quantity int) (*Snapshot, error) {
	if quantity <= 0 {
		return nil, apperr.InvalidArgument("quantity must be positive, got %d", quantity)
	}

	unlock := s.locks.Lock(clientID)
	defer unlock()

	var snap *Snapshot
	err := s.store.Update(ctx, func(r store.Repository) error {
		if _, err := findClient(r, clientID); err != nil {
			return err
		}
		product, err := findProduct(r, productID)
		if err != nil {
			return err
		}

		cart, err := r.FindCart(clientID)
		if errors.Is(err, store.ErrNotFound) {
			cart = &model.OrderHeader{ClientID: clientID, Status: model.StatusCart}
		} else if err != nil {
			return err
		}

		if i := cart.ItemByProduct(productID); i >= 0 {
			cart.Items[i].Quantity += quantity
		} else {
			cart.Items = append(cart.Items, model.OrderItem{
				ProductID: productID,
				Quantity:  quantity,
				Price:     product.Price,
			})
		}
		cart.TotalPrice = cart.CalcTotal()
		if err := r.SaveOrder(cart); err != nil {
			return err
		}

		snap, err = loadSnapshot(r, cart)
		return err
	})
	if err != nil {
		return nil, fail("add to cart", err)
	}
	return snap, nil
}

// Checkout pays for every line of a CART header. Stock is checked for all lines before any is
// decremented, so a shortage leaves everything untouched.
func (s *Service) Checkout(ctx context.Context, headerID uint) (*Snapshot, error) {
	unlock, err := s.lockOrder(ctx, headerID)
	if err != nil {
		return nil, fail("checkout", err)
	}
	defer unlock()

	var snap *Snapshot
	err = s.store.Update(ctx, func(r store.Repository) error {
		h, err := findOrder(r, headerID)
		if err != nil {
			return err
		}
		if h.Status != model.StatusCart {
			return apperr.InvalidState("order %d is %s, only a CART can be checked out", h.ID, h.Status)
		}
		if len(h.Items) == 0 {
			return apperr.InvalidState("cart %d is empty", h.ID)
		}

		products, err := reserve(r, h.Items)
		if err != nil {
			return err
		}
		if err := bumpPurchaseCount(r, h.ClientID, 1); err != nil {
			return err
		}

		h.Status = model.StatusPaid
		h.TotalPrice = h.CalcTotal()
		if err := r.SaveOrder(h); err != nil {
			return err
		}
		snap = &Snapshot{Header: h, Products: products}
		return nil
	})
	if err != nil {
		return nil, fail("checkout", err)
	}

	s.metrics.RecordOrderTransition(string(model.StatusPaid))
	s.log.Info("Order checked out",
		zap.Uint("order_id", snap.Header.ID),
		zap.Uint("client_id", snap.Header.ClientID),
		zap.Float64("total", snap.Header.TotalPrice))
	return snap, nil
}

// CreateOrderForItems checks out part of the client's cart as a new PAID order. Duplicate
// products in the selection are merged, products missing from the cart are ignored and
// quantities are clamped to what the cart holds. The selected units are removed from the cart,
// which is kept even when it ends up empty. It returns the new order and the remaining cart.
func (s *Service) CreateOrderForItems(ctx context.Context, clientID uint, selection []Selection) (*Snapshot, *Snapshot, error) {
	wanted, err := mergeSelection(selection)
	if err != nil {
		return nil, nil, err
	}

	unlock := s.locks.Lock(clientID)
	defer unlock()

	var order, cart *Snapshot
	err = s.store.Update(ctx, func(r store.Repository) error {
		if _, err := findClient(r, clientID); err != nil {
			return err
		}
		h, err := r.FindCart(clientID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.InvalidArgument("client %d has no cart", clientID)
		} else if err != nil {
			return err
		}

		var lines []model.OrderItem
		for _, sel := range wanted {
			i := h.ItemByProduct(sel.ProductID)
			if i < 0 {
				continue
			}
			qty := min(sel.Quantity, h.Items[i].Quantity)
			lines = append(lines, model.OrderItem{
				ProductID: sel.ProductID,
				Quantity:  qty,
				Price:     h.Items[i].Price,
			})
		}
		if len(lines) == 0 {
			return apperr.InvalidArgument("none of the selected products is in the cart")
		}

		products, err := reserve(r, lines)
		if err != nil {
			return err
		}

		remaining := h.Items[:0]
		for _, it := range h.Items {
			for _, line := range lines {
				if line.ProductID == it.ProductID {
					it.Quantity -= line.Quantity
				}
			}
			if it.Quantity > 0 {
				remaining = append(remaining, it)
			}
		}
		h.Items = remaining
		h.TotalPrice = h.CalcTotal()
		if err := r.SaveOrder(h); err != nil {
			return err
		}

		paid := &model.OrderHeader{ClientID: clientID, Status: model.StatusPaid, Items: lines}
		paid.TotalPrice = paid.CalcTotal()
		if err := r.SaveOrder(paid); err != nil {
			return err
		}
		if err := bumpPurchaseCount(r, clientID, 1); err != nil {
			return err
		}

		order = &Snapshot{Header: paid, Products: products}
		cart, err = loadSnapshot(r, h)
		return err
	})
	if err != nil {
		return nil, nil, fail("partial checkout", err)
	}

	s.metrics.RecordOrderTransition(string(model.StatusPaid))
	s.log.Info("Partial order created",
		zap.Uint("order_id", order.Header.ID),
		zap.Uint("cart_id", cart.Header.ID),
		zap.Uint("client_id", clientID),
		zap.Float64("total", order.Header.TotalPrice))
	return order, cart, nil
}

// RemoveItem deletes one line of a CART header; an unknown item is a no-op
func (s *Service) RemoveItem(ctx context.Context, headerID, itemID uint) (*Snapshot, error) {
	unlock, err := s.lockOrder(ctx, headerID)
	if err != nil {
		return nil, fail("remove item", err)
	}
	defer unlock()

	var snap *Snapshot
	err = s.store.Update(ctx, func(r store.Repository) error {
		h, err := findOrder(r, headerID)
		if err != nil {
			return err
		}
		if h.Status != model.StatusCart {
			return apperr.InvalidState("order %d is %s, items can only be removed from a CART", h.ID, h.Status)
		}
		if i := h.ItemByID(itemID); i >= 0 {
			h.Items = append(h.Items[:i], h.Items[i+1:]...)
			h.TotalPrice = h.CalcTotal()
			if err := r.SaveOrder(h); err != nil {
				return err
			}
		}
		snap, err = loadSnapshot(r, h)
		return err
	})
	if err != nil {
		return nil, fail("remove item", err)
	}
	return snap, nil
}

// LogicalDelete hides a header from the client's history without touching items or stock.
// PAID orders cannot be deleted.
func (s *Service) LogicalDelete(ctx context.Context, headerID uint) (*Snapshot, error) {
	return s.transition(ctx, "delete order", headerID, model.StatusDeletedByClient, func(h *model.OrderHeader) (bool, error) {
		switch h.Status {
		case model.StatusDeletedByClient:
			return false, nil
		case model.StatusPaid:
			return false, apperr.InvalidState("order %d is PAID and cannot be deleted", h.ID)
		}
		return true, nil
	})
}

// Cancel abandons a cart
func (s *Service) Cancel(ctx context.Context, headerID uint) (*Snapshot, error) {
	return s.transition(ctx, "cancel cart", headerID, model.StatusCancelled, func(h *model.OrderHeader) (bool, error) {
		if h.Status != model.StatusCart {
			return false, apperr.InvalidState("order %d is %s, only a CART can be cancelled", h.ID, h.Status)
		}
		return true, nil
	})
}

// transition moves a header to status when allow says so; allow returning false is a no-op
func (s *Service) transition(ctx context.Context, op string, headerID uint, status model.OrderStatus, allow func(h *model.OrderHeader) (bool, error)) (*Snapshot, error) {
	unlock, err := s.lockOrder(ctx, headerID)
	if err != nil {
		return nil, fail(op, err)
	}
	defer unlock()

	var (
		snap    *Snapshot
		changed bool
	)
	err = s.store.Update(ctx, func(r store.Repository) error {
		h, err := findOrder(r, headerID)
		if err != nil {
			return err
		}
		changed, err = allow(h)
		if err != nil {
			return err
		}
		if changed {
			h.Status = status
			if err := r.SaveOrder(h); err != nil {
				return err
			}
		}
		snap, err = loadSnapshot(r, h)
		return err
	})
	if err != nil {
		return nil, fail(op, err)
	}
	if changed {
		s.metrics.RecordOrderTransition(string(status))
	}
	return snap, nil
}

// Refund returns a PAID order's units to stock and takes them off the sales counters
func (s *Service) Refund(ctx context.Context, headerID uint) (*Snapshot, error) {
	var snap *Snapshot
	err := s.store.Update(ctx, func(r store.Repository) error {
		h, err := findOrder(r, headerID)
		if err != nil {
			return err
		}
		if h.Status != model.StatusPaid {
			return apperr.InvalidState("order %d is %s, only a PAID order can be refunded", h.ID, h.Status)
		}

		products, err := r.FindProducts(h.ProductIDs())
		if err != nil {
			return err
		}
		for _, it := range h.Items {
			p, ok := products[it.ProductID]
			if !ok {
				return apperr.NotFound("product %d of order %d no longer exists", it.ProductID, h.ID)
			}
			p.Stock += it.Quantity
			p.Sales = max(0, p.Sales-it.Quantity)
		}
		for _, id := range h.ProductIDs() {
			if err := r.SaveProduct(products[id]); err != nil {
				return err
			}
		}
		if err := bumpPurchaseCount(r, h.ClientID, -1); err != nil {
			return err
		}

		h.Status = model.StatusRefunded
		if err := r.SaveOrder(h); err != nil {
			return err
		}
		snap = &Snapshot{Header: h, Products: products}
		return nil
	})
	if err != nil {
		return nil, fail("refund", err)
	}

	units := 0
	restored := make([]restoredLine, 0, len(snap.Header.Items))
	for _, it := range snap.Header.Items {
		units += it.Quantity
		restored = append(restored, restoredLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	s.log.Info("Order refunded, stock restored",
		zap.Uint("order_id", snap.Header.ID),
		zap.Uint("client_id", snap.Header.ClientID),
		zap.Float64("total", snap.Header.TotalPrice),
		zap.Any("restored", restored))
	s.metrics.RecordOrderTransition(string(model.StatusRefunded))
	s.metrics.RefundedUnits.Add(float64(units))
	return snap, nil
}

// Cart returns the client's cart, nil when there is none
func (s *Service) Cart(ctx context.Context, clientID uint) (*Snapshot, error) {
	var snap *Snapshot
	err := s.store.View(ctx, func(r store.Repository) error {
		h, err := r.FindCart(clientID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		snap, err = loadSnapshot(r, h)
		return err
	})
	if err != nil {
		return nil, fail("load cart", err)
	}
	return snap, nil
}

// Orders lists the client's order history, newest first
func (s *Service) Orders(ctx context.Context, clientID uint) ([]Snapshot, error) {
	var snaps []Snapshot
	err := s.store.View(ctx, func(r store.Repository) error {
		headers, err := r.ListOrders(store.OrderQuery{ClientID: clientID, Statuses: historyStatuses})
		if err != nil {
			return err
		}
		var ids []uint
		for i := range headers {
			ids = append(ids, headers[i].ProductIDs()...)
		}
		products, err := r.FindProducts(ids)
		if err != nil {
			return err
		}
		snaps = make([]Snapshot, len(headers))
		for i := range headers {
			snaps[i] = Snapshot{Header: &headers[i], Products: products}
		}
		return nil
	})
	if err != nil {
		return nil, fail("list orders", err)
	}
	return snaps, nil
}

// Order loads one header
func (s *Service) Order(ctx context.Context, headerID uint) (*Snapshot, error) {
	var snap *Snapshot
	err := s.store.View(ctx, func(r store.Repository) error {
		h, err := findOrder(r, headerID)
		if err != nil {
			return err
		}
		snap, err = loadSnapshot(r, h)
		return err
	})
	if err != nil {
		return nil, fail("load order", err)
	}
	return snap, nil
}

// lockOrder takes the cart lock of the header's owner
func (s *Service) lockOrder(ctx context.Context, headerID uint) (func(), error) {
	var clientID uint
	err := s.store.View(ctx, func(r store.Repository) error {
		h, err := findOrder(r, headerID)
		if err != nil {
			return err
		}
		clientID = h.ClientID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.locks.Lock(clientID), nil
}

// reserve checks stock for every line before taking any, then moves the units from stock to sales
func reserve(r store.Repository, lines []model.OrderItem) (map[uint]*model.Product, error) {
	demand := make(map[uint]int, len(lines))
	ids := make([]uint, 0, len(lines))
	for _, it := range lines {
		if _, ok := demand[it.ProductID]; !ok {
			ids = append(ids, it.ProductID)
		}
		demand[it.ProductID] += it.Quantity
	}
	products, err := r.FindProducts(ids)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return nil, apperr.NotFound("product %d not found", id)
		}
		if p.Stock < demand[id] {
			return nil, apperr.InsufficientStock(p.ID, p.Name, p.Stock, demand[id])
		}
	}
	for _, id := range ids {
		p := products[id]
		p.Stock -= demand[id]
		p.Sales += demand[id]
		if err := r.SaveProduct(p); err != nil {
			return nil, err
		}
	}
	return products, nil
}

func mergeSelection(selection []Selection) ([]Selection, error) {
	merged := make(map[uint]int, len(selection))
	for _, sel := range selection {
		if sel.Quantity <= 0 {
			return nil, apperr.InvalidArgument("quantity for product %d must be positive, got %d", sel.ProductID, sel.Quantity)
		}
		merged[sel.ProductID] += sel.Quantity
	}
	if len(merged) == 0 {
		return nil, apperr.InvalidArgument("no items selected")
	}
	out := make([]Selection, 0, len(merged))
	for id, qty := range merged {
		out = append(out, Selection{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func bumpPurchaseCount(r store.Repository, clientID uint, delta int) error {
	c, err := findClient(r, clientID)
	if err != nil {
		return err
	}
	c.PurchaseCount = max(0, c.PurchaseCount+delta)
	return r.SaveClient(c)
}

func loadSnapshot(r store.Repository, h *model.OrderHeader) (*Snapshot, error) {
	products, err := r.FindProducts(h.ProductIDs())
	if err != nil {
		return nil, err
	}
	return &Snapshot{Header: h, Products: products}, nil
}

func findClient(r store.Repository, id uint) (*model.Client, error) {
	c, err := r.FindClient(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("client %d not found", id)
	}
	return c, err
}

func findProduct(r store.Repository, id uint) (*model.Product, error) {
	p, err := r.FindProduct(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("product %d not found", id)
	}
	return p, err
}

func findOrder(r store.Repository, id uint) (*model.OrderHeader, error) {
	h, err := r.FindOrder(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("order %d not found", id)
	}
	return h, err
}

// fail keeps classified errors and turns gateway failures into internal ones
func fail(op string, err error) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, store.ErrDuplicate):
		return apperr.Conflict("%s: cart was modified concurrently, retry", op)
	}
	return apperr.Internal(op, err)
}
