package gormstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"commerce-service/internal/model"
	"commerce-service/internal/store"
)

// openTestStore connects to the database named by COMMERCE_TEST_DSN and resets the schema
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("COMMERCE_TEST_DSN")
	if dsn == "" {
		t.Skip("COMMERCE_TEST_DSN not set")
	}

	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrator().DropTable(&model.OrderItem{}, &model.OrderHeader{}, &model.ChatMessage{}, &model.Product{}, &model.Client{}))

	s := New(db, zap.NewNop())
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOrderItemsReplaced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var cartID uint
	require.NoError(t, s.Update(ctx, func(r store.Repository) error {
		h := &model.OrderHeader{ClientID: 1, Status: model.StatusCart, Items: []model.OrderItem{
			{ProductID: 1, Quantity: 1, Price: 5},
			{ProductID: 2, Quantity: 3, Price: 2},
		}}
		if err := r.SaveOrder(h); err != nil {
			return err
		}
		cartID = h.ID
		return nil
	}))

	require.NoError(t, s.Update(ctx, func(r store.Repository) error {
		h, err := r.FindCart(1)
		require.NoError(t, err)
		require.Len(t, h.Items, 2)
		h.Items = h.Items[1:]
		return r.SaveOrder(h)
	}))

	require.NoError(t, s.View(ctx, func(r store.Repository) error {
		h, err := r.FindOrder(cartID)
		require.NoError(t, err)
		require.Len(t, h.Items, 1)
		assert.Equal(t, uint(2), h.Items[0].ProductID)
		return nil
	}))
}

func TestSingleCartPerClient(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(r store.Repository) error {
		return r.SaveOrder(&model.OrderHeader{ClientID: 1, Status: model.StatusCart})
	}))
	err := s.Update(ctx, func(r store.Repository) error {
		return r.SaveOrder(&model.OrderHeader{ClientID: 1, Status: model.StatusCart})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestDuplicateUsername(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(r store.Repository) error {
		return r.CreateClient(&model.Client{Username: "alice", Password: "x"})
	}))
	err := s.Update(ctx, func(r store.Repository) error {
		return r.CreateClient(&model.Client{Username: "alice", Password: "y"})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	err = s.View(ctx, func(r store.Repository) error {
		_, err := r.FindClientByUsername("nobody")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
