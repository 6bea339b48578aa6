package handler

import (
	"context"

	"go.uber.org/zap"

	"commerce-service/internal/apperr"
	"commerce-service/internal/model"
	"commerce-service/internal/order"
	"commerce-service/internal/protocol"
	"commerce-service/internal/store"
	"commerce-service/pkg/logger"
)

func (s *Session) carousel(ctx context.Context) ([]any, error) {
	banners, err := s.h.Catalog.Carousel(ctx)
	if err != nil {
		return nil, err
	}
	images := make([]protocol.CarouselImage, 0, len(banners))
	for _, b := range banners {
		images = append(images, protocol.CarouselImage{Title: b.Title, URL: b.ImageURL, ProductID: b.ProductID})
	}
	return one(protocol.CarouselData{
		Result: protocol.OK(protocol.TypeCarouselData, ""),
		Images: images,
	}), nil
}

func (s *Session) recommendations(ctx context.Context) ([]any, error) {
	products, err := s.h.Catalog.Recommendations(ctx)
	if err != nil {
		return nil, err
	}
	return one(productList(protocol.TypeRecommendations, products)), nil
}

func (s *Session) promotions(ctx context.Context) ([]any, error) {
	products, err := s.h.Catalog.Promotions(ctx)
	if err != nil {
		return nil, err
	}
	return one(productList(protocol.TypePromotions, products)), nil
}

func (s *Session) search(ctx context.Context, r *protocol.Search) ([]any, error) {
	products, err := s.h.Catalog.Search(ctx, r.Keyword)
	if err != nil {
		return nil, err
	}
	return one(protocol.SearchResults{
		Result:  protocol.OK(protocol.TypeSearchResults, ""),
		Keyword: r.Keyword,
		Results: protocol.NewProductViews(products),
	}), nil
}

func (s *Session) productDetail(ctx context.Context, r *protocol.GetProductDetail) ([]any, error) {
	p, err := s.h.Catalog.Product(ctx, uint(r.ProductID))
	if err != nil {
		return nil, err
	}
	return one(productResponse(protocol.TypeProductDetail, "", p)), nil
}

func (s *Session) listProducts(ctx context.Context, r *protocol.ListProducts) ([]any, error) {
	products, err := s.h.Catalog.List(ctx, store.ProductQuery{
		Keyword:    r.Keyword,
		OnSaleOnly: r.OnSale,
		Sort:       store.ProductSort(r.Sort),
		Limit:      r.Limit,
		Offset:     r.Offset,
	})
	if err != nil {
		return nil, err
	}
	return one(productList(protocol.TypeProductList, products)), nil
}

func (s *Session) setDiscount(ctx context.Context, r *protocol.SetDiscount) ([]any, error) {
	if _, err := s.requireAdmin(); err != nil {
		return nil, err
	}
	p, err := s.h.Catalog.SetDiscount(ctx, uint(r.ProductID), r.DiscountPrice)
	if err != nil {
		return nil, err
	}
	return one(productResponse(protocol.TypeSetDiscountResponse, "discount set", p)), nil
}

func (s *Session) removeDiscount(ctx context.Context, r *protocol.RemoveDiscount) ([]any, error) {
	if _, err := s.requireAdmin(); err != nil {
		return nil, err
	}
	p, err := s.h.Catalog.RemoveDiscount(ctx, uint(r.ProductID))
	if err != nil {
		return nil, err
	}
	return one(productResponse(protocol.TypeRemoveDiscountResponse, "discount removed", p)), nil
}

func (s *Session) getCart(ctx context.Context, r *protocol.GetCart) ([]any, error) {
	c, err := s.actor(ctx, r.Identity)
	if err != nil {
		return nil, err
	}
	cart, err := s.h.Orders.Cart(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return one(cartItems(cart)), nil
}

func (s *Session) addToCart(ctx context.Context, r *protocol.AddToCart) ([]any, error) {
	c, err := s.actor(ctx, r.Identity)
	if err != nil {
		return nil, err
	}
	if r.ProductID == 0 {
		return nil, apperr.InvalidArgument("product_id is required")
	}
	cart, err := s.h.Orders.AddToCart(ctx, c.ID, uint(r.ProductID), r.Quantity)
	if err != nil {
		return nil, err
	}
	return []any{
		protocol.OK(protocol.TypeAddToCartResponse, "added to cart"),
		cartItems(cart),
	}, nil
}

func (s *Session) removeFromCart(ctx context.Context, r *protocol.RemoveFromCart) ([]any, error) {
	c, err := s.actor(ctx, r.Identity)
	if err != nil {
		return nil, err
	}
	if r.ItemID == 0 && r.ProductID == 0 {
		return nil, apperr.InvalidArgument("item_id or product_id is required")
	}
	cart, err := s.h.Orders.Cart(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if cart != nil {
		itemID := uint(r.ItemID)
		if itemID == 0 {
			if i := cart.Header.ItemByProduct(uint(r.ProductID)); i >= 0 {
				itemID = cart.Header.Items[i].ID
			}
		}
		if itemID != 0 {
			if cart, err = s.h.Orders.RemoveItem(ctx, cart.Header.ID, itemID); err != nil {
				return nil, err
			}
		}
	}
	return []any{
		protocol.OK(protocol.TypeRemoveFromCartResponse, "removed from cart"),
		cartItems(cart),
	}, nil
}

func (s *Session) checkout(ctx context.Context, r *protocol.Checkout) ([]any, error) {
	c, err := s.actor(ctx, r.Identity)
	if err != nil {
		return nil, err
	}
	cart, err := s.h.Orders.Cart(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, apperr.InvalidState("cart is empty")
	}
	paid, err := s.h.Orders.Checkout(ctx, cart.Header.ID)
	if err != nil {
		return nil, err
	}
	return []any{
		protocol.OK(protocol.TypeCheckoutResponse, "checkout successful"),
		orderResponse(protocol.TypeOrderResponse, "", paid),
	}, nil
}

func (s *Session) checkoutSelected(ctx context.Context, r *protocol.CheckoutSelected) ([]any, error) {
	c, err := s.actor(ctx, r.Identity)
	if err != nil {
		return nil, err
	}
	selection := make([]order.Selection, 0, len(r.Items))
	for _, it := range r.Items {
		selection = append(selection, order.Selection{ProductID: uint(it.ProductID), Quantity: it.Quantity})
	}
	paid, cart, err := s.h.Orders.CreateOrderForItems(ctx, c.ID, selection)
	if err != nil {
		return nil, err
	}
	return []any{
		protocol.OK(protocol.TypeCheckoutResponse, "checkout successful"),
		orderResponse(protocol.TypeOrderResponse, "", paid),
		cartItems(cart),
	}, nil
}

func (s *Session) cancelCart(ctx context.Context, r *protocol.CancelCart) ([]any, error) {
	c, err := s.actor(ctx, r.Identity)
	if err != nil {
		return nil, err
	}
	cart, err := s.h.Orders.Cart(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, apperr.InvalidState("there is no cart to cancel")
	}
	cancelled, err := s.h.Orders.Cancel(ctx, cart.Header.ID)
	if err != nil {
		return nil, err
	}
	return one(orderResponse(protocol.TypeCancelCartResponse, "cart cancelled", cancelled)), nil
}

func (s *Session) getOrders(ctx context.Context, r *protocol.GetOrders) ([]any, error) {
	c, err := s.actor(ctx, r.Identity)
	if err != nil {
		return nil, err
	}
	snaps, err := s.h.Orders.Orders(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	views := make([]protocol.OrderView, 0, len(snaps))
	for i := range snaps {
		views = append(views, protocol.NewOrderView(snaps[i].Header, snaps[i].Products))
	}
	return one(protocol.Orders{
		Result: protocol.OK(protocol.TypeOrders, ""),
		Orders: views,
	}), nil
}

func (s *Session) deleteOrder(ctx context.Context, r *protocol.DeleteOrder) ([]any, error) {
	c, err := s.actor(ctx, r.Identity)
	if err != nil {
		return nil, err
	}
	if err := s.ownOrder(ctx, c, uint(r.OrderID)); err != nil {
		return nil, err
	}
	deleted, err := s.h.Orders.LogicalDelete(ctx, uint(r.OrderID))
	if err != nil {
		return nil, err
	}
	return one(orderResponse(protocol.TypeDeleteOrderResponse, "order deleted", deleted)), nil
}

func (s *Session) refundOrder(ctx context.Context, r *protocol.RefundOrder) ([]any, error) {
	admin, err := s.requireAdmin()
	if err != nil {
		return nil, err
	}
	refunded, err := s.h.Orders.Refund(ctx, uint(r.OrderID))
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("Order refunded by administrator",
		zap.String("admin", admin),
		zap.Uint("order_id", refunded.Header.ID))
	return []any{
		protocol.OK(protocol.TypeRefundOrderResponse, "order refunded"),
		orderResponse(protocol.TypeOrderResponse, "", refunded),
	}, nil
}

// ownOrder fails unless the order belongs to c; the privileged account may touch any order
func (s *Session) ownOrder(ctx context.Context, c *model.Client, orderID uint) error {
	snap, err := s.h.Orders.Order(ctx, orderID)
	if err != nil {
		return err
	}
	if snap.Header.ClientID != c.ID && !s.h.Accounts.IsAdmin(c.Username) {
		return apperr.Forbidden("order %d does not belong to %s", orderID, c.Username)
	}
	return nil
}

func productList(msgType string, products []model.Product) protocol.ProductList {
	return protocol.ProductList{
		Result:   protocol.OK(msgType, ""),
		Products: protocol.NewProductViews(products),
	}
}

func productResponse(msgType, message string, p *model.Product) protocol.ProductResponse {
	view := protocol.NewProductView(p)
	return protocol.ProductResponse{
		Result:  protocol.OK(msgType, message),
		Product: &view,
	}
}

func cartItems(cart *order.Snapshot) protocol.OrderResponse {
	return orderResponse(protocol.TypeCartItems, "", cart)
}

func orderResponse(msgType, message string, snap *order.Snapshot) protocol.OrderResponse {
	var view protocol.OrderView
	if snap == nil {
		view = protocol.NewOrderView(nil, nil)
	} else {
		view = protocol.NewOrderView(snap.Header, snap.Products)
	}
	return protocol.OrderResponse{
		Result:    protocol.OK(msgType, message),
		OrderView: view,
	}
}
