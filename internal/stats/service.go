// Package stats aggregates sales of paid orders.
package stats

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"commerce-service/internal/apperr"
	"commerce-service/internal/model"
	"commerce-service/internal/store"
)

// DateLayout is the format of range bounds
const DateLayout = "2006-01-02"

// MonthlyRow is the revenue of one calendar month
type MonthlyRow struct {
	Year   int     `json:"year"`
	Month  int     `json:"month"`
	Orders int     `json:"orders"`
	Total  float64 `json:"total"`
}

// ProductRow is the units sold and revenue of one product
type ProductRow struct {
	ProductID uint    `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Amount    float64 `json:"amount"`
}

// Range is an inclusive day range; zero bounds are open
type Range struct {
	From time.Time
	To   time.Time
}

// ParseRange reads YYYY-MM-DD bounds. An empty bound is open; To covers its whole day.
func ParseRange(from, to string) (Range, error) {
	var r Range
	var err error
	if from = strings.TrimSpace(from); from != "" {
		if r.From, err = time.ParseInLocation(DateLayout, from, time.Local); err != nil {
			return Range{}, apperr.InvalidArgument("invalid from date %q, expected YYYY-MM-DD", from)
		}
	}
	if to = strings.TrimSpace(to); to != "" {
		day, err := time.ParseInLocation(DateLayout, to, time.Local)
		if err != nil {
			return Range{}, apperr.InvalidArgument("invalid to date %q, expected YYYY-MM-DD", to)
		}
		r.To = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return Range{}, apperr.InvalidArgument("from date %s is after to date %s", from, to)
	}
	return r, nil
}

// Service computes sales statistics
type Service struct {
	store store.Store
	log   *zap.Logger
}

// NewService creates the statistics service
func NewService(s store.Store, log *zap.Logger) *Service {
	return &Service{store: s, log: log}
}

// Monthly sums paid orders per month, oldest month first. clientID 0 covers every client.
func (s *Service) Monthly(ctx context.Context, clientID uint, r Range) ([]MonthlyRow, error) {
	orders, _, err := s.paidOrders(ctx, clientID, r, false)
	if err != nil {
		return nil, err
	}

	type month struct{ year, month int }
	byMonth := make(map[month]*MonthlyRow)
	for _, h := range orders {
		key := month{h.CreatedAt.Year(), int(h.CreatedAt.Month())}
		row, ok := byMonth[key]
		if !ok {
			row = &MonthlyRow{Year: key.year, Month: key.month}
			byMonth[key] = row
		}
		row.Orders++
		row.Total += h.TotalPrice
	}

	rows := make([]MonthlyRow, 0, len(byMonth))
	for _, row := range byMonth {
		row.Total = model.RoundMoney(row.Total)
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Year != rows[j].Year {
			return rows[i].Year < rows[j].Year
		}
		return rows[i].Month < rows[j].Month
	})
	return rows, nil
}

// Products sums units and revenue of paid orders per product, best seller first
func (s *Service) Products(ctx context.Context, clientID uint, r Range) ([]ProductRow, error) {
	orders, products, err := s.paidOrders(ctx, clientID, r, true)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[uint]*ProductRow)
	for _, h := range orders {
		for _, it := range h.Items {
			row, ok := byProduct[it.ProductID]
			if !ok {
				row = &ProductRow{ProductID: it.ProductID}
				if p, found := products[it.ProductID]; found {
					row.Name = p.Name
				}
				byProduct[it.ProductID] = row
			}
			row.Quantity += it.Quantity
			row.Amount += it.Price * float64(it.Quantity)
		}
	}

	rows := make([]ProductRow, 0, len(byProduct))
	for _, row := range byProduct {
		row.Amount = model.RoundMoney(row.Amount)
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Quantity != rows[j].Quantity {
			return rows[i].Quantity > rows[j].Quantity
		}
		return rows[i].ProductID < rows[j].ProductID
	})
	return rows, nil
}

func (s *Service) paidOrders(ctx context.Context, clientID uint, r Range, withProducts bool) ([]model.OrderHeader, map[uint]*model.Product, error) {
	var (
		orders   []model.OrderHeader
		products map[uint]*model.Product
	)
	err := s.store.View(ctx, func(repo store.Repository) error {
		var err error
		orders, err = repo.ListOrders(store.OrderQuery{
			ClientID: clientID,
			Statuses: []model.OrderStatus{model.StatusPaid},
			From:     r.From,
			To:       r.To,
		})
		if err != nil || !withProducts {
			return err
		}
		var ids []uint
		seen := make(map[uint]struct{})
		for i := range orders {
			for _, id := range orders[i].ProductIDs() {
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
		products, err = repo.FindProducts(ids)
		return err
	})
	if err != nil {
		return nil, nil, apperr.Internal("load paid orders", err)
	}

	s.log.Debug("Loaded paid orders",
		zap.Uint("client_id", clientID),
		zap.Time("from", r.From),
		zap.Time("to", r.To),
		zap.Int("orders", len(orders)))
	return orders, products, nil
}
