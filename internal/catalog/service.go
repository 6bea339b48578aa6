// Package catalog serves product browsing and discount administration.
package catalog

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"commerce-service/internal/apperr"
	"commerce-service/internal/model"
	"commerce-service/internal/store"
)

const (
	carouselSize        = 3
	recommendationLimit = 8
	maxPageSize         = 100
)

// Banner is one carousel entry
type Banner struct {
	Title     string
	ImageURL  string
	ProductID uint
}

// Service reads and administers the catalog
type Service struct {
	store store.Store
	log   *zap.Logger
}

// NewService creates the catalog service
func NewService(s store.Store, log *zap.Logger) *Service {
	return &Service{store: s, log: log}
}

// Carousel picks the banners of the home page: the deepest discounts, then the best sellers
func (s *Service) Carousel(ctx context.Context) ([]Banner, error) {
	promoted, err := s.list(ctx, store.ProductQuery{OnSaleOnly: true, Sort: store.SortByDiscountRatio, Limit: carouselSize})
	if err != nil {
		return nil, err
	}
	if len(promoted) < carouselSize {
		best, err := s.list(ctx, store.ProductQuery{Sort: store.SortBySales, Limit: carouselSize * 2})
		if err != nil {
			return nil, err
		}
		for _, p := range best {
			if len(promoted) == carouselSize {
				break
			}
			if !containsProduct(promoted, p.ID) {
				promoted = append(promoted, p)
			}
		}
	}

	banners := make([]Banner, 0, len(promoted))
	for _, p := range promoted {
		banners = append(banners, Banner{Title: p.Name, ImageURL: p.ImageURL, ProductID: p.ID})
	}
	return banners, nil
}

// Recommendations lists the best sellers
func (s *Service) Recommendations(ctx context.Context) ([]model.Product, error) {
	return s.list(ctx, store.ProductQuery{Sort: store.SortBySales, Limit: recommendationLimit})
}

// Promotions lists the products on sale, deepest discount first
func (s *Service) Promotions(ctx context.Context) ([]model.Product, error) {
	return s.list(ctx, store.ProductQuery{OnSaleOnly: true, Sort: store.SortByDiscountRatio})
}

// Search matches keyword against names and descriptions; an empty keyword lists everything
func (s *Service) Search(ctx context.Context, keyword string) ([]model.Product, error) {
	return s.list(ctx, store.ProductQuery{Keyword: keyword, Sort: store.SortBySales})
}

// List pages through the catalog
func (s *Service) List(ctx context.Context, q store.ProductQuery) ([]model.Product, error) {
	if !store.ValidSort(q.Sort) {
		return nil, apperr.InvalidArgument("unknown sort %q", q.Sort)
	}
	if q.Offset < 0 || q.Limit < 0 {
		return nil, apperr.InvalidArgument("limit and offset must not be negative")
	}
	if q.Limit == 0 || q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	return s.list(ctx, q)
}

// Product loads one product
func (s *Service) Product(ctx context.Context, id uint) (*model.Product, error) {
	var p *model.Product
	err := s.store.View(ctx, func(r store.Repository) error {
		var err error
		p, err = findProduct(r, id)
		return err
	})
	if err != nil {
		return nil, fail("load product", err)
	}
	return p, nil
}

// SetDiscount puts a product on sale at price; it must lie strictly between zero and the list price
func (s *Service) SetDiscount(ctx context.Context, id uint, price float64) (*model.Product, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return nil, apperr.InvalidArgument("discount price must be positive")
	}
	price = model.RoundMoney(price)

	var p *model.Product
	err := s.store.Update(ctx, func(r store.Repository) error {
		var err error
		p, err = findProduct(r, id)
		if err != nil {
			return err
		}
		if price <= 0 || price >= p.Price {
			return apperr.InvalidArgument("discount price %.2f must be below the list price %.2f", price, p.Price)
		}
		p.DiscountPrice = &price
		p.OnSale = true
		return r.SaveProduct(p)
	})
	if err != nil {
		return nil, fail("set discount", err)
	}

	s.log.Info("Discount set",
		zap.Uint("product_id", p.ID),
		zap.Float64("price", p.Price),
		zap.Float64("discount_price", price))
	return p, nil
}

// RemoveDiscount takes a product off sale
func (s *Service) RemoveDiscount(ctx context.Context, id uint) (*model.Product, error) {
	var p *model.Product
	err := s.store.Update(ctx, func(r store.Repository) error {
		var err error
		p, err = findProduct(r, id)
		if err != nil {
			return err
		}
		p.OnSale = false
		p.DiscountPrice = nil
		return r.SaveProduct(p)
	})
	if err != nil {
		return nil, fail("remove discount", err)
	}

	s.log.Info("Discount removed", zap.Uint("product_id", p.ID))
	return p, nil
}

// Seed creates products when the catalog is empty and reports how many were added
func (s *Service) Seed(ctx context.Context, products []model.Product) (int, error) {
	added := 0
	err := s.store.Update(ctx, func(r store.Repository) error {
		added = 0
		existing, err := r.ListProducts(store.ProductQuery{Limit: 1})
		if err != nil || len(existing) > 0 {
			return err
		}
		for i := range products {
			p := products[i]
			if p.OnSale && !p.HasValidDiscount() {
				return apperr.InvalidArgument("seed product %q has an invalid discount", p.Name)
			}
			if err := r.CreateProduct(&p); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fail("seed catalog", err)
	}
	return added, nil
}

func (s *Service) list(ctx context.Context, q store.ProductQuery) ([]model.Product, error) {
	var products []model.Product
	err := s.store.View(ctx, func(r store.Repository) error {
		var err error
		products, err = r.ListProducts(q)
		return err
	})
	if err != nil {
		return nil, fail("list products", err)
	}
	return products, nil
}

func findProduct(r store.Repository, id uint) (*model.Product, error) {
	p, err := r.FindProduct(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("product %d not found", id)
	}
	return p, err
}

func fail(op string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Internal(op, err)
}

func containsProduct(products []model.Product, id uint) bool {
	for _, p := range products {
		if p.ID == id {
			return true
		}
	}
	return false
}
