// Package gormstore implements the persistence gateway on postgres through gorm.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"commerce-service/internal/model"
	"commerce-service/internal/store"
)

const (
	validDiscount  = "on_sale AND discount_price IS NOT NULL AND discount_price > 0 AND discount_price < price"
	effectivePrice = "CASE WHEN " + validDiscount + " THEN discount_price ELSE price END"
	discountRatio  = "CASE WHEN " + validDiscount + " AND price > 0 THEN (price - discount_price) / price ELSE 0 END"
	broadcastChat  = "to_user IS NULL OR to_user = ''"
	conversation   = "(from_user = ? AND to_user = ?) OR (from_user = ? AND to_user = ?)"
)

var productOrder = map[store.ProductSort]string{
	store.SortByID:            "id",
	store.SortBySales:         "sales DESC, price ASC, id",
	store.SortByPriceAsc:      effectivePrice + " ASC, sales DESC, id",
	store.SortByPriceDesc:     effectivePrice + " DESC, sales DESC, id",
	store.SortByDiscountFirst: "CASE WHEN " + validDiscount + " THEN 0 ELSE 1 END, " + effectivePrice + " ASC, sales DESC, id",
	store.SortByDiscountRatio: discountRatio + " DESC, id",
	store.SortByNewest:        "id DESC",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Store is a gorm backed store.Store
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an open connection pool
func New(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

// View runs fn in a read-only transaction
func (s *Store) View(ctx context.Context, fn func(r store.Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&repo{tx: tx})
	}, &sql.TxOptions{ReadOnly: true})
}

// Update runs fn in a read-write transaction; rows read for modification are locked
func (s *Store) Update(ctx context.Context, fn func(r store.Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&repo{tx: tx, lock: true})
	})
}

// Migrate creates or updates the schema
func (s *Store) Migrate(ctx context.Context) error {
	start := time.Now()
	s.log.Info("Starting database migration...")

	if err := s.db.WithContext(ctx).AutoMigrate(
		&model.Client{},
		&model.Product{},
		&model.OrderHeader{},
		&model.OrderItem{},
		&model.ChatMessage{},
	); err != nil {
		s.log.Error("Database migration failed", zap.Error(err))
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}

	s.log.Info("Database migration completed successfully",
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Ping checks the connection pool
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type repo struct {
	tx   *gorm.DB
	lock bool
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	}
	return err
}

// forUpdate locks the selected rows when running inside Update
func (r *repo) forUpdate() *gorm.DB {
	if r.lock {
		return r.tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.tx
}

func withItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	})
}

func (r *repo) CreateClient(c *model.Client) error {
	return translate(r.tx.Create(c).Error)
}

func (r *repo) SaveClient(c *model.Client) error {
	return translate(r.tx.Omit("username").Save(c).Error)
}

func (r *repo) FindClient(id uint) (*model.Client, error) {
	var c model.Client
	if err := r.tx.First(&c, id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (r *repo) FindClientByUsername(username string) (*model.Client, error) {
	var c model.Client
	if err := r.tx.Where("username = ?", username).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (r *repo) ListClients() ([]model.Client, error) {
	var clients []model.Client
	err := r.tx.Order("id").Find(&clients).Error
	return clients, translate(err)
}

func (r *repo) CreateProduct(p *model.Product) error {
	return translate(r.tx.Create(p).Error)
}

func (r *repo) SaveProduct(p *model.Product) error {
	return translate(r.tx.Save(p).Error)
}

func (r *repo) FindProduct(id uint) (*model.Product, error) {
	var p model.Product
	if err := r.forUpdate().First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *repo) FindProducts(ids []uint) (map[uint]*model.Product, error) {
	found := make(map[uint]*model.Product, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var products []model.Product
	// Ordered by id so concurrent transactions lock rows in the same order
	if err := r.forUpdate().Where("id IN ?", ids).Order("id").Find(&products).Error; err != nil {
		return nil, translate(err)
	}
	for i := range products {
		found[products[i].ID] = &products[i]
	}
	return found, nil
}

func (r *repo) ListProducts(q store.ProductQuery) ([]model.Product, error) {
	db := r.tx.Model(&model.Product{})
	if q.OnSaleOnly {
		db = db.Where(validDiscount)
	}
	if kw := strings.ToLower(strings.TrimSpace(q.Keyword)); kw != "" {
		pattern := "%" + likeEscaper.Replace(kw) + "%"
		db = db.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	}
	order, ok := productOrder[q.Sort]
	if !ok {
		order = productOrder[store.SortByID]
	}
	db = db.Order(order)
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	if q.Offset > 0 {
		db = db.Offset(q.Offset)
	}

	products := []model.Product{}
	err := db.Find(&products).Error
	return products, translate(err)
}

func (r *repo) FindOrder(id uint) (*model.OrderHeader, error) {
	var h model.OrderHeader
	if err := withItems(r.forUpdate()).First(&h, id).Error; err != nil {
		return nil, translate(err)
	}
	return &h, nil
}

func (r *repo) FindCart(clientID uint) (*model.OrderHeader, error) {
	var h model.OrderHeader
	err := withItems(r.forUpdate()).
		Where("client_id = ? AND status = ?", clientID, model.StatusCart).
		First(&h).Error
	if err != nil {
		return nil, translate(err)
	}
	return &h, nil
}

func (r *repo) SaveOrder(h *model.OrderHeader) error {
	if err := r.tx.Omit(clause.Associations).Save(h).Error; err != nil {
		return translate(err)
	}

	keep := make([]uint, 0, len(h.Items))
	for i := range h.Items {
		h.Items[i].OrderID = h.ID
		if err := r.tx.Save(&h.Items[i]).Error; err != nil {
			return translate(err)
		}
		keep = append(keep, h.Items[i].ID)
	}

	orphans := r.tx.Where("order_id = ?", h.ID)
	if len(keep) > 0 {
		orphans = orphans.Where("id NOT IN ?", keep)
	}
	return translate(orphans.Delete(&model.OrderItem{}).Error)
}

func (r *repo) ListOrders(q store.OrderQuery) ([]model.OrderHeader, error) {
	db := withItems(r.tx.Model(&model.OrderHeader{}))
	if q.ClientID != 0 {
		db = db.Where("client_id = ?", q.ClientID)
	}
	if len(q.Statuses) > 0 {
		db = db.Where("status IN ?", q.Statuses)
	}
	if !q.From.IsZero() {
		db = db.Where("created_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		db = db.Where("created_at <= ?", q.To)
	}

	orders := []model.OrderHeader{}
	err := db.Order("created_at DESC, id DESC").Find(&orders).Error
	return orders, translate(err)
}

func (r *repo) CreateChatMessage(m *model.ChatMessage) error {
	return translate(r.tx.Create(m).Error)
}

func (r *repo) ListGlobalChat(limit int) ([]model.ChatMessage, error) {
	return r.listChat(r.tx.Where(broadcastChat), limit)
}

func (r *repo) ListConversation(a, b string, limit int) ([]model.ChatMessage, error) {
	return r.listChat(r.tx.Where(conversation, a, b, b, a), limit)
}

func (r *repo) listChat(db *gorm.DB, limit int) ([]model.ChatMessage, error) {
	db = db.Order("created_at DESC, id DESC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	msgs := []model.ChatMessage{}
	err := db.Find(&msgs).Error
	return msgs, translate(err)
}

func (r *repo) DeleteGlobalChat() (int64, error) {
	res := r.tx.Where(broadcastChat).Delete(&model.ChatMessage{})
	return res.RowsAffected, translate(res.Error)
}

func (r *repo) DeleteConversation(a, b string) (int64, error) {
	res := r.tx.Where(conversation, a, b, b, a).Delete(&model.ChatMessage{})
	return res.RowsAffected, translate(res.Error)
}
