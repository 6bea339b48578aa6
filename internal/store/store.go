// Package store defines the persistence gateway used by the shop services.
//
// A Store hands out a Repository bound to a transaction: Update runs its callback
// atomically (all writes commit or none do), View runs it against a consistent read.
// Callbacks may be retried on write conflicts, so they must not leak side effects
// outside the repository before returning.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"commerce-service/internal/model"
)

var (
	// ErrNotFound is returned (wrapped) when a lookup matches nothing
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned (wrapped) when a unique key is already taken
	ErrDuplicate = errors.New("duplicate key")
)

// ProductSort selects the ordering of ListProducts
type ProductSort string

const (
	SortByID            ProductSort = ""
	SortBySales         ProductSort = "sales"
	SortByPriceAsc      ProductSort = "price_asc"
	SortByPriceDesc     ProductSort = "price_desc"
	SortByDiscountFirst ProductSort = "discount_first"
	SortByDiscountRatio ProductSort = "discount_ratio"
	SortByNewest        ProductSort = "newest"
)

// ValidSort reports whether s is a known ordering
func ValidSort(s ProductSort) bool {
	switch s {
	case SortByID, SortBySales, SortByPriceAsc, SortByPriceDesc, SortByDiscountFirst, SortByDiscountRatio, SortByNewest:
		return true
	}
	return false
}

// ProductQuery filters and orders the catalog
type ProductQuery struct {
	// Keyword matches name or description, case-insensitively
	Keyword    string
	OnSaleOnly bool
	Sort       ProductSort
	Limit      int
	Offset     int
}

// OrderQuery filters order headers. Zero values mean "any".
type OrderQuery struct {
	ClientID uint
	Statuses []model.OrderStatus
	From     time.Time
	To       time.Time
}

// Repository is the transaction-scoped view of the gateway
type Repository interface {
	CreateClient(c *model.Client) error
	SaveClient(c *model.Client) error
	FindClient(id uint) (*model.Client, error)
	FindClientByUsername(username string) (*model.Client, error)
	ListClients() ([]model.Client, error)

	CreateProduct(p *model.Product) error
	SaveProduct(p *model.Product) error
	FindProduct(id uint) (*model.Product, error)
	// FindProducts loads the given products; unknown ids are absent from the map
	FindProducts(ids []uint) (map[uint]*model.Product, error)
	ListProducts(q ProductQuery) ([]model.Product, error)

	// FindOrder loads a header together with its items
	FindOrder(id uint) (*model.OrderHeader, error)
	// FindCart loads the client's CART header with its items
	FindCart(clientID uint) (*model.OrderHeader, error)
	// SaveOrder creates or updates a header and replaces its item set; new rows get ids
	SaveOrder(h *model.OrderHeader) error
	// ListOrders returns matching headers with items, newest first
	ListOrders(q OrderQuery) ([]model.OrderHeader, error)

	CreateChatMessage(m *model.ChatMessage) error
	// ListGlobalChat returns the newest broadcast messages first
	ListGlobalChat(limit int) ([]model.ChatMessage, error)
	// ListConversation returns the newest messages exchanged between a and b first
	ListConversation(a, b string, limit int) ([]model.ChatMessage, error)
	DeleteGlobalChat() (int64, error)
	DeleteConversation(a, b string) (int64, error)
}

// Store is the persistence gateway
type Store interface {
	View(ctx context.Context, fn func(r Repository) error) error
	Update(ctx context.Context, fn func(r Repository) error) error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// MatchProduct applies the non-ordering parts of q to p
func MatchProduct(p *model.Product, q ProductQuery) bool {
	if q.OnSaleOnly && !p.HasValidDiscount() {
		return false
	}
	if kw := strings.ToLower(strings.TrimSpace(q.Keyword)); kw != "" {
		return strings.Contains(strings.ToLower(p.Name), kw) || strings.Contains(strings.ToLower(p.Description), kw)
	}
	return true
}

// SortProducts orders products in place the way ListProducts does
func SortProducts(products []model.Product, s ProductSort) {
	less := func(i, j int) bool { return products[i].ID < products[j].ID }
	switch s {
	case SortBySales:
		less = func(i, j int) bool {
			a, b := products[i], products[j]
			if a.Sales != b.Sales {
				return a.Sales > b.Sales
			}
			return a.Price < b.Price
		}
	case SortByPriceAsc, SortByPriceDesc:
		desc := s == SortByPriceDesc
		less = func(i, j int) bool {
			a, b := products[i].EffectivePrice(), products[j].EffectivePrice()
			if a != b {
				return (a < b) != desc
			}
			return products[i].Sales > products[j].Sales
		}
	case SortByDiscountFirst:
		less = func(i, j int) bool {
			a, b := products[i], products[j]
			if a.HasValidDiscount() != b.HasValidDiscount() {
				return a.HasValidDiscount()
			}
			if a.EffectivePrice() != b.EffectivePrice() {
				return a.EffectivePrice() < b.EffectivePrice()
			}
			return a.Sales > b.Sales
		}
	case SortByDiscountRatio:
		less = func(i, j int) bool {
			a, b := products[i].DiscountRatio(), products[j].DiscountRatio()
			if a != b {
				return a > b
			}
			return products[i].ID < products[j].ID
		}
	case SortByNewest:
		less = func(i, j int) bool { return products[i].ID > products[j].ID }
	}
	sort.SliceStable(products, less)
}

// Page applies offset and limit; a non-positive limit keeps everything after offset
func Page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// MatchOrder applies q to h
func MatchOrder(h *model.OrderHeader, q OrderQuery) bool {
	if q.ClientID != 0 && h.ClientID != q.ClientID {
		return false
	}
	if len(q.Statuses) > 0 {
		ok := false
		for _, s := range q.Statuses {
			if h.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !q.From.IsZero() && h.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && h.CreatedAt.After(q.To) {
		return false
	}
	return true
}
