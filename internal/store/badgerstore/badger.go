// Package badgerstore implements the persistence gateway on an embedded badger database.
//
// Records are stored as JSON values under prefixed keys:
//
//	client/<id>            model.Client
//	client-name/<username> client id
//	product/<id>           model.Product
//	order/<id>             model.OrderHeader with its items embedded
//	cart/<client id>       id of the client's CART header
//	chat/<id>              model.ChatMessage
//
// Numeric ids are zero padded so key order matches id order.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"commerce-service/internal/model"
	"commerce-service/internal/store"
)

const (
	prefixClient     = "client/"
	prefixClientName = "client-name/"
	prefixProduct    = "product/"
	prefixOrder      = "order/"
	prefixCart       = "cart/"
	prefixChat       = "chat/"

	sequenceBandwidth = 100
	maxConflictRetry  = 5
)

var sequenceNames = []string{"client", "product", "order", "item", "chat"}

// Options configures the database
type Options struct {
	Dir      string
	InMemory bool
}

// Store is a badger backed store.Store
type Store struct {
	db *badger.DB

	mu   sync.Mutex
	seqs map[string]*badger.Sequence
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	s := &Store{db: db, seqs: make(map[string]*badger.Sequence), now: time.Now}
	for _, name := range sequenceNames {
		seq, err := db.GetSequence([]byte("seq/"+name), sequenceBandwidth)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open %s sequence: %w", name, err)
		}
		s.seqs[name] = seq
	}
	return s, nil
}

// View runs fn against a read-only snapshot
func (s *Store) View(ctx context.Context, fn func(r store.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&repo{txn: txn, s: s})
	})
}

// Update runs fn in a read-write transaction, retrying on write conflicts
func (s *Store) Update(ctx context.Context, fn func(r store.Repository) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetry; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			return fn(&repo{txn: txn, s: s})
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// Migrate is a no-op; badger is schemaless
func (s *Store) Migrate(ctx context.Context) error {
	return ctx.Err()
}

// Ping reports whether the database is still open
func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return ctx.Err()
}

// Close releases the sequences and closes the database
func (s *Store) Close() error {
	s.mu.Lock()
	for name, seq := range s.seqs {
		_ = seq.Release()
		delete(s.seqs, name)
	}
	s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) nextID(name string) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.seqs[name]
	if !ok {
		return 0, fmt.Errorf("unknown sequence %q", name)
	}
	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("sequence %s: %w", name, err)
	}
	// Sequences start at zero; ids start at one
	return uint(n + 1), nil
}

func idKey(prefix string, id uint) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, id))
}

// clientRecord is the stored form of a client; model.Client hides the hash from JSON
type clientRecord struct {
	model.Client
	PasswordHash string `json:"passwordHash"`
}

func newClientRecord(c *model.Client) clientRecord {
	return clientRecord{Client: *c, PasswordHash: c.Password}
}

func (rec *clientRecord) client() *model.Client {
	c := rec.Client
	c.Password = rec.PasswordHash
	return &c
}

type repo struct {
	txn *badger.Txn
	s   *Store
}

func (r *repo) get(key []byte, v any) error {
	item, err := r.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func (r *repo) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.txn.Set(key, data)
}

func (r *repo) getID(key []byte) (uint, error) {
	item, err := r.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	var id uint64
	err = item.Value(func(val []byte) error {
		id, err = strconv.ParseUint(string(val), 10, 64)
		return err
	})
	return uint(id), err
}

func (r *repo) putID(key []byte, id uint) error {
	return r.txn.Set(key, []byte(strconv.FormatUint(uint64(id), 10)))
}

// scan decodes every value under prefix; visit returning false stops the scan
func scan[T any](r *repo, prefix string, reverse bool, visit func(v *T) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.Reverse = reverse
	it := r.txn.NewIterator(opts)
	defer it.Close()

	start := []byte(prefix)
	if reverse {
		start = append([]byte(prefix), 0xFF)
	}
	for it.Seek(start); it.ValidForPrefix([]byte(prefix)); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return err
		}
		more, err := visit(&v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (r *repo) CreateClient(c *model.Client) error {
	nameKey := []byte(prefixClientName + c.Username)
	if _, err := r.txn.Get(nameKey); err == nil {
		return fmt.Errorf("username %q: %w", c.Username, store.ErrDuplicate)
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	id, err := r.s.nextID("client")
	if err != nil {
		return err
	}
	now := r.s.now()
	c.ID = id
	c.CreatedAt, c.UpdatedAt = now, now
	if err := r.putID(nameKey, id); err != nil {
		return err
	}
	return r.put(idKey(prefixClient, id), newClientRecord(c))
}

func (r *repo) SaveClient(c *model.Client) error {
	if c.ID == 0 {
		return r.CreateClient(c)
	}
	var prev clientRecord
	if err := r.get(idKey(prefixClient, c.ID), &prev); err != nil {
		return err
	}
	if prev.Username != c.Username {
		return fmt.Errorf("username of client %d is immutable", c.ID)
	}
	c.UpdatedAt = r.s.now()
	return r.put(idKey(prefixClient, c.ID), newClientRecord(c))
}

func (r *repo) FindClient(id uint) (*model.Client, error) {
	var rec clientRecord
	if err := r.get(idKey(prefixClient, id), &rec); err != nil {
		return nil, err
	}
	return rec.client(), nil
}

func (r *repo) FindClientByUsername(username string) (*model.Client, error) {
	id, err := r.getID([]byte(prefixClientName + username))
	if err != nil {
		return nil, err
	}
	return r.FindClient(id)
}

func (r *repo) ListClients() ([]model.Client, error) {
	clients := []model.Client{}
	err := scan(r, prefixClient, false, func(rec *clientRecord) (bool, error) {
		clients = append(clients, *rec.client())
		return true, nil
	})
	return clients, err
}

func (r *repo) CreateProduct(p *model.Product) error {
	id, err := r.s.nextID("product")
	if err != nil {
		return err
	}
	now := r.s.now()
	p.ID = id
	p.CreatedAt, p.UpdatedAt = now, now
	return r.put(idKey(prefixProduct, id), p)
}

func (r *repo) SaveProduct(p *model.Product) error {
	if p.ID == 0 {
		return r.CreateProduct(p)
	}
	if _, err := r.txn.Get(idKey(prefixProduct, p.ID)); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("product %d: %w", p.ID, store.ErrNotFound)
		}
		return err
	}
	p.UpdatedAt = r.s.now()
	return r.put(idKey(prefixProduct, p.ID), p)
}

func (r *repo) FindProduct(id uint) (*model.Product, error) {
	var p model.Product
	if err := r.get(idKey(prefixProduct, id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) FindProducts(ids []uint) (map[uint]*model.Product, error) {
	found := make(map[uint]*model.Product, len(ids))
	for _, id := range ids {
		if _, ok := found[id]; ok {
			continue
		}
		p, err := r.FindProduct(id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found[id] = p
	}
	return found, nil
}

func (r *repo) ListProducts(q store.ProductQuery) ([]model.Product, error) {
	products := []model.Product{}
	err := scan(r, prefixProduct, false, func(p *model.Product) (bool, error) {
		if store.MatchProduct(p, q) {
			products = append(products, *p)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	store.SortProducts(products, q.Sort)
	return store.Page(products, q.Offset, q.Limit), nil
}

func (r *repo) FindOrder(id uint) (*model.OrderHeader, error) {
	var h model.OrderHeader
	if err := r.get(idKey(prefixOrder, id), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *repo) FindCart(clientID uint) (*model.OrderHeader, error) {
	id, err := r.getID(idKey(prefixCart, clientID))
	if err != nil {
		return nil, err
	}
	h, err := r.FindOrder(id)
	if err != nil {
		return nil, err
	}
	if h.Status != model.StatusCart {
		return nil, fmt.Errorf("cart of client %d: %w", clientID, store.ErrNotFound)
	}
	return h, nil
}

func (r *repo) SaveOrder(h *model.OrderHeader) error {
	now := r.s.now()
	if h.ID == 0 {
		id, err := r.s.nextID("order")
		if err != nil {
			return err
		}
		h.ID = id
		h.CreatedAt = now
	}
	h.UpdatedAt = now
	for i := range h.Items {
		h.Items[i].OrderID = h.ID
		if h.Items[i].ID == 0 {
			id, err := r.s.nextID("item")
			if err != nil {
				return err
			}
			h.Items[i].ID = id
		}
	}

	cartKey := idKey(prefixCart, h.ClientID)
	current, err := r.getID(cartKey)
	hasCart := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if h.Status == model.StatusCart {
		if hasCart && current != h.ID {
			if other, err := r.FindOrder(current); err == nil && other.Status == model.StatusCart {
				return fmt.Errorf("client %d already has cart %d: %w", h.ClientID, current, store.ErrDuplicate)
			}
		}
		if err := r.putID(cartKey, h.ID); err != nil {
			return err
		}
	} else if hasCart && current == h.ID {
		if err := r.txn.Delete(cartKey); err != nil {
			return err
		}
	}
	return r.put(idKey(prefixOrder, h.ID), h)
}

func (r *repo) ListOrders(q store.OrderQuery) ([]model.OrderHeader, error) {
	orders := []model.OrderHeader{}
	err := scan(r, prefixOrder, false, func(h *model.OrderHeader) (bool, error) {
		if store.MatchOrder(h, q) {
			orders = append(orders, *h)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
	return orders, nil
}

func (r *repo) CreateChatMessage(m *model.ChatMessage) error {
	id, err := r.s.nextID("chat")
	if err != nil {
		return err
	}
	m.ID = id
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.s.now()
	}
	return r.put(idKey(prefixChat, id), m)
}

func (r *repo) listChat(limit int, match func(m *model.ChatMessage) bool) ([]model.ChatMessage, error) {
	msgs := []model.ChatMessage{}
	err := scan(r, prefixChat, true, func(m *model.ChatMessage) (bool, error) {
		if match(m) {
			msgs = append(msgs, *m)
		}
		return limit <= 0 || len(msgs) < limit, nil
	})
	return msgs, err
}

func (r *repo) ListGlobalChat(limit int) ([]model.ChatMessage, error) {
	return r.listChat(limit, func(m *model.ChatMessage) bool { return m.IsBroadcast() })
}

func (r *repo) ListConversation(a, b string, limit int) ([]model.ChatMessage, error) {
	return r.listChat(limit, func(m *model.ChatMessage) bool { return between(m, a, b) })
}

func (r *repo) deleteChat(match func(m *model.ChatMessage) bool) (int64, error) {
	var keys [][]byte
	err := scan(r, prefixChat, false, func(m *model.ChatMessage) (bool, error) {
		if match(m) {
			keys = append(keys, idKey(prefixChat, m.ID))
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := r.txn.Delete(k); err != nil {
			return 0, err
		}
	}
	return int64(len(keys)), nil
}

func (r *repo) DeleteGlobalChat() (int64, error) {
	return r.deleteChat(func(m *model.ChatMessage) bool { return m.IsBroadcast() })
}

func (r *repo) DeleteConversation(a, b string) (int64, error) {
	return r.deleteChat(func(m *model.ChatMessage) bool { return between(m, a, b) })
}

func between(m *model.ChatMessage, a, b string) bool {
	if m.IsBroadcast() {
		return false
	}
	to := *m.ToUser
	return (m.FromUser == a && to == b) || (m.FromUser == b && to == a)
}
