package protocol

import (
	"encoding/json"
	"time"

	"commerce-service/internal/model"
)

// Result is the common head of every response
type Result struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// ProductID names the product that ran out of stock
	ProductID uint `json:"product_id,omitempty"`
}

// OK builds a successful result
func OK(msgType, message string) Result {
	return Result{Type: msgType, Success: true, Message: message}
}

// Fail builds a failed result
func Fail(msgType string, code int, message string) Result {
	return Result{Type: msgType, Success: false, Code: code, Message: message}
}

// Encode marshals a frame without the trailing newline
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ProductView is a catalog entry as clients see it
type ProductView struct {
	ProductID      uint     `json:"product_id"`
	Name           string   `json:"name"`
	Price          float64  `json:"price"`
	DiscountPrice  *float64 `json:"discountPrice,omitempty"`
	OnSale         bool     `json:"onSale"`
	EffectivePrice float64  `json:"effectivePrice"`
	Stock          int      `json:"stock"`
	Sales          int      `json:"sales"`
	Description    string   `json:"description,omitempty"`
	ImageURL       string   `json:"imageUrl,omitempty"`
}

// NewProductView converts a product
func NewProductView(p *model.Product) ProductView {
	v := ProductView{
		ProductID:      p.ID,
		Name:           p.Name,
		Price:          p.Price,
		OnSale:         p.HasValidDiscount(),
		EffectivePrice: p.EffectivePrice(),
		Stock:          p.Stock,
		Sales:          p.Sales,
		Description:    p.Description,
		ImageURL:       p.ImageURL,
	}
	if v.OnSale {
		v.DiscountPrice = p.DiscountPrice
	}
	return v
}

// NewProductViews converts a product list, never returning nil
func NewProductViews(products []model.Product) []ProductView {
	views := make([]ProductView, 0, len(products))
	for i := range products {
		views = append(views, NewProductView(&products[i]))
	}
	return views
}

// LineView is one order line with the live catalog state of its product
type LineView struct {
	ItemID        uint     `json:"itemId"`
	ProductID     uint     `json:"product_id"`
	Name          string   `json:"name"`
	Quantity      int      `json:"quantity"`
	Price         float64  `json:"price"`
	Subtotal      float64  `json:"subtotal"`
	Stock         int      `json:"stock"`
	OnSale        bool     `json:"onSale"`
	DiscountPrice *float64 `json:"discountPrice,omitempty"`
	ImageURL      string   `json:"imageUrl,omitempty"`
}

// OrderView is a cart or order snapshot
type OrderView struct {
	OrderID    uint       `json:"orderId,omitempty"`
	Status     string     `json:"status,omitempty"`
	TotalPrice float64    `json:"totalPrice"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	Items      []LineView `json:"items"`
}

// NewOrderView converts a header; products supplies the live catalog fields of each line
func NewOrderView(h *model.OrderHeader, products map[uint]*model.Product) OrderView {
	if h == nil {
		return OrderView{Items: []LineView{}}
	}
	created := h.CreatedAt
	v := OrderView{
		OrderID:    h.ID,
		Status:     string(h.Status),
		TotalPrice: h.TotalPrice,
		CreatedAt:  &created,
		Items:      make([]LineView, 0, len(h.Items)),
	}
	for _, it := range h.Items {
		line := LineView{
			ItemID:    it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
			Subtotal:  it.Subtotal(),
		}
		if p, ok := products[it.ProductID]; ok {
			line.Name = p.Name
			line.Stock = p.Stock
			line.OnSale = p.HasValidDiscount()
			if line.OnSale {
				line.DiscountPrice = p.DiscountPrice
			}
			line.ImageURL = p.ImageURL
		}
		v.Items = append(v.Items, line)
	}
	return v
}

// UserView is the public part of an account
type UserView struct {
	ID            uint      `json:"id"`
	Username      string    `json:"username"`
	Phone         string    `json:"phone,omitempty"`
	Email         string    `json:"email,omitempty"`
	PurchaseCount int       `json:"purchaseCount"`
	Admin         bool      `json:"admin"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewUserView converts a client
func NewUserView(c *model.Client, admin bool) *UserView {
	return &UserView{
		ID:            c.ID,
		Username:      c.Username,
		Phone:         c.Phone,
		Email:         c.Email,
		PurchaseCount: c.PurchaseCount,
		Admin:         admin,
		CreatedAt:     c.CreatedAt,
	}
}

// ChatMessageView is a stored chat message
type ChatMessageView struct {
	ID        uint      `json:"id"`
	From      string    `json:"from"`
	To        *string   `json:"to"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewChatMessageView converts a chat message
func NewChatMessageView(m *model.ChatMessage) ChatMessageView {
	return ChatMessageView{
		ID:        m.ID,
		From:      m.FromUser,
		To:        model.NormalizeRecipient(m.ToUser),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// NewChatMessageViews converts chat messages, never returning nil
func NewChatMessageViews(msgs []model.ChatMessage) []ChatMessageView {
	views := make([]ChatMessageView, 0, len(msgs))
	for i := range msgs {
		views = append(views, NewChatMessageView(&msgs[i]))
	}
	return views
}

type LoginResponse struct {
	Result
	Token string    `json:"token,omitempty"`
	User  *UserView `json:"user,omitempty"`
}

type AccountInfo struct {
	Result
	User *UserView `json:"user,omitempty"`
}

// CarouselImage is one banner of the home page carousel
type CarouselImage struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	ProductID uint   `json:"product_id,omitempty"`
}

type CarouselData struct {
	Result
	Images []CarouselImage `json:"images"`
}

// ProductList answers recommendations, promotions and list_products
type ProductList struct {
	Result
	Products []ProductView `json:"products"`
}

type SearchResults struct {
	Result
	Keyword string        `json:"keyword"`
	Results []ProductView `json:"results"`
}

// ProductResponse answers product_detail and the discount administration requests
type ProductResponse struct {
	Result
	Product *ProductView `json:"product,omitempty"`
}

// OrderResponse carries a cart or order snapshot
type OrderResponse struct {
	Result
	OrderView
}

type Orders struct {
	Result
	Orders []OrderView `json:"orders"`
}

type ChatSendResponse struct {
	Result
	MessageID uint `json:"messageId,omitempty"`
}

// ChatMessagePush is the asynchronous delivery of a chat message
type ChatMessagePush struct {
	Type string `json:"type"`
	ChatMessageView
}

type ChatHistoryResponse struct {
	Result
	Peer     string            `json:"peer,omitempty"`
	Messages []ChatMessageView `json:"messages"`
}

type ChatDeleteResponse struct {
	Result
	Deleted int64 `json:"deleted"`
}

type OnlineUsersResponse struct {
	Result
	Users []string `json:"users"`
}

// StatsResponse carries statistics rows
type StatsResponse[T any] struct {
	Result
	From string `json:"from"`
	To   string `json:"to"`
	Rows []T    `json:"rows"`
}
