// Package protocol defines the line delimited JSON messages exchanged with shop clients.
//
// Every inbound frame is one JSON object whose "type" field selects a request variant.
// Requests form a closed set: only types declared here implement Request.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"commerce-service/internal/apperr"
)

// Request is implemented by every inbound message variant
type Request interface {
	Type() string
	isRequest()
}

type request struct{}

func (request) isRequest() {}

// ID is a numeric identifier that also accepts a JSON string holding digits
type ID uint

// UnmarshalJSON accepts 42 and "42"
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s", data)
	}
	*id = ID(v)
	return nil
}

// Identity carries the optional explicit username of a request
type Identity struct {
	Username string `json:"username,omitempty"`
}

// Login authenticates the connection
type Login struct {
	request
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an account
type Register struct {
	request
	Username string `json:"username"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Resume authenticates the connection with a token from an earlier login
type Resume struct {
	request
	Token string `json:"token"`
}

type Logout struct{ request }

type Ping struct{ request }

type GetCarousel struct{ request }

type GetRecommendations struct{ request }

type GetPromotions struct{ request }

type Search struct {
	request
	Keyword string `json:"keyword"`
}

type GetProductDetail struct {
	request
	ProductID ID `json:"product_id"`
}

// ListProducts pages through the catalog
type ListProducts struct {
	request
	Keyword string `json:"keyword,omitempty"`
	OnSale  bool   `json:"on_sale,omitempty"`
	Sort    string `json:"sort,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

type GetCart struct {
	request
	Identity
}

type AddToCart struct {
	request
	Identity
	ProductID ID  `json:"product_id"`
	Quantity  int `json:"quantity"`
}

// RemoveFromCart names the line by item id or, failing that, by product id
type RemoveFromCart struct {
	request
	Identity
	ItemID    ID `json:"item_id,omitempty"`
	ProductID ID `json:"product_id,omitempty"`
}

type Checkout struct {
	request
	Identity
}

// SelectedItem is one line of a partial checkout
type SelectedItem struct {
	ProductID ID  `json:"product_id"`
	Quantity  int `json:"quantity"`
}

type CheckoutSelected struct {
	request
	Identity
	Items []SelectedItem `json:"items"`
}

type CancelCart struct {
	request
	Identity
}

type GetOrders struct {
	request
	Identity
}

type DeleteOrder struct {
	request
	Identity
	OrderID ID `json:"orderId"`
}

type RefundOrder struct {
	request
	OrderID ID `json:"orderId"`
}

type SetDiscount struct {
	request
	ProductID     ID      `json:"product_id"`
	DiscountPrice float64 `json:"discountPrice"`
}

type RemoveDiscount struct {
	request
	ProductID ID `json:"product_id"`
}

// ChatSend posts a message; a null or blank To broadcasts it
type ChatSend struct {
	request
	Identity
	To      *string `json:"to"`
	Content string  `json:"content"`
}

// ChatHistory reads the conversation with Peer, or the broadcast channel when Peer is empty
type ChatHistory struct {
	request
	Identity
	Peer  string `json:"peer,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type ChatDelete struct {
	request
	Identity
	Peer string `json:"peer,omitempty"`
}

type OnlineUsers struct{ request }

type GetAccount struct {
	request
	Identity
}

// UpdateAccount changes the fields that are present
type UpdateAccount struct {
	request
	Identity
	Phone    *string `json:"phone,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}

// StatsRange selects PAID orders created between From and To (YYYY-MM-DD, inclusive)
type StatsRange struct {
	Identity
	From string `json:"from"`
	To   string `json:"to"`
}

type StatsMonthly struct {
	request
	StatsRange
}

type StatsProducts struct {
	request
	StatsRange
}

func (*Login) Type() string              { return TypeLogin }
func (*Register) Type() string           { return TypeRegister }
func (*Resume) Type() string             { return TypeResume }
func (*Logout) Type() string             { return TypeLogout }
func (*Ping) Type() string               { return TypePing }
func (*GetCarousel) Type() string        { return TypeGetCarousel }
func (*GetRecommendations) Type() string { return TypeGetRecommendations }
func (*GetPromotions) Type() string      { return TypeGetPromotions }
func (*Search) Type() string             { return TypeSearch }
func (*GetProductDetail) Type() string   { return TypeGetProductDetail }
func (*ListProducts) Type() string       { return TypeListProducts }
func (*GetCart) Type() string            { return TypeGetCart }
func (*AddToCart) Type() string          { return TypeAddToCart }
func (*RemoveFromCart) Type() string     { return TypeRemoveFromCart }
func (*Checkout) Type() string           { return TypeCheckout }
func (*CheckoutSelected) Type() string   { return TypeCheckoutSelected }
func (*CancelCart) Type() string         { return TypeCancelCart }
func (*GetOrders) Type() string          { return TypeGetOrders }
func (*DeleteOrder) Type() string        { return TypeDeleteOrder }
func (*RefundOrder) Type() string        { return TypeRefundOrder }
func (*SetDiscount) Type() string        { return TypeSetDiscount }
func (*RemoveDiscount) Type() string     { return TypeRemoveDiscount }
func (*ChatSend) Type() string           { return TypeChatSend }
func (*ChatHistory) Type() string        { return TypeChatHistory }
func (*ChatDelete) Type() string         { return TypeChatDelete }
func (*OnlineUsers) Type() string        { return TypeOnlineUsers }
func (*GetAccount) Type() string         { return TypeGetAccount }
func (*UpdateAccount) Type() string      { return TypeUpdateAccount }
func (*StatsMonthly) Type() string       { return TypeStatsMonthly }
func (*StatsProducts) Type() string      { return TypeStatsProducts }

// variant describes how to decode a request type and how its primary response is named
type variant struct {
	response string
	decode   func() Request
}

var variants = map[string]variant{
	TypeLogin:              {TypeLoginResponse, func() Request { return &Login{} }},
	TypeRegister:           {TypeRegisterResponse, func() Request { return &Register{} }},
	TypeResume:             {TypeLoginResponse, func() Request { return &Resume{} }},
	TypeLogout:             {TypeLogoutResponse, func() Request { return &Logout{} }},
	TypePing:               {TypePong, func() Request { return &Ping{} }},
	TypeGetCarousel:        {TypeCarouselData, func() Request { return &GetCarousel{} }},
	TypeGetRecommendations: {TypeRecommendations, func() Request { return &GetRecommendations{} }},
	TypeGetPromotions:      {TypePromotions, func() Request { return &GetPromotions{} }},
	TypeSearch:             {TypeSearchResults, func() Request { return &Search{} }},
	TypeGetProductDetail:   {TypeProductDetail, func() Request { return &GetProductDetail{} }},
	TypeListProducts:       {TypeProductList, func() Request { return &ListProducts{} }},
	TypeGetCart:            {TypeCartItems, func() Request { return &GetCart{} }},
	TypeAddToCart:          {TypeAddToCartResponse, func() Request { return &AddToCart{} }},
	TypeRemoveFromCart:     {TypeRemoveFromCartResponse, func() Request { return &RemoveFromCart{} }},
	TypeCheckout:           {TypeCheckoutResponse, func() Request { return &Checkout{} }},
	TypeCheckoutSelected:   {TypeCheckoutResponse, func() Request { return &CheckoutSelected{} }},
	TypeCancelCart:         {TypeCancelCartResponse, func() Request { return &CancelCart{} }},
	TypeGetOrders:          {TypeOrders, func() Request { return &GetOrders{} }},
	TypeDeleteOrder:        {TypeDeleteOrderResponse, func() Request { return &DeleteOrder{} }},
	TypeRefundOrder:        {TypeRefundOrderResponse, func() Request { return &RefundOrder{} }},
	TypeSetDiscount:        {TypeSetDiscountResponse, func() Request { return &SetDiscount{} }},
	TypeRemoveDiscount:     {TypeRemoveDiscountResponse, func() Request { return &RemoveDiscount{} }},
	TypeChatSend:           {TypeChatSendResponse, func() Request { return &ChatSend{} }},
	TypeChatHistory:        {TypeChatHistory, func() Request { return &ChatHistory{} }},
	TypeChatDelete:         {TypeChatDeleteResponse, func() Request { return &ChatDelete{} }},
	TypeOnlineUsers:        {TypeOnlineUsers, func() Request { return &OnlineUsers{} }},
	TypeGetAccount:         {TypeAccountInfo, func() Request { return &GetAccount{} }},
	TypeUpdateAccount:      {TypeUpdateAccountResponse, func() Request { return &UpdateAccount{} }},
	TypeStatsMonthly:       {TypeStatsMonthly, func() Request { return &StatsMonthly{} }},
	TypeStatsProducts:      {TypeStatsProducts, func() Request { return &StatsProducts{} }},
}

// ResponseType names the primary response of a request type; unknown types answer with "error"
func ResponseType(requestType string) string {
	if v, ok := variants[requestType]; ok {
		return v.response
	}
	return TypeError
}

// DecodeError is a frame that could not be turned into a Request
type DecodeError struct {
	// Code is CodeInvalidJSON, CodeUnknownType or CodeInvalidArgument
	Code int
	// Type is the request type when it could be read
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("decode %s: %v", e.Type, e.Err)
	}
	return e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses one frame
func Decode(frame []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil || fields == nil {
		if err == nil {
			err = fmt.Errorf("frame is not a JSON object")
		}
		return nil, &DecodeError{Code: apperr.CodeInvalidJSON, Err: err}
	}

	rawType, ok := fields["type"]
	if !ok {
		return nil, &DecodeError{Code: apperr.CodeUnknownType, Err: fmt.Errorf("missing type")}
	}
	var msgType string
	if err := json.Unmarshal(rawType, &msgType); err != nil {
		return nil, &DecodeError{Code: apperr.CodeUnknownType, Err: fmt.Errorf("type must be a string")}
	}
	v, ok := variants[msgType]
	if !ok {
		return nil, &DecodeError{Code: apperr.CodeUnknownType, Type: msgType, Err: fmt.Errorf("unknown type %q", msgType)}
	}

	req := v.decode()
	if err := json.Unmarshal(frame, req); err != nil {
		return nil, &DecodeError{Code: apperr.CodeInvalidArgument, Type: msgType, Err: err}
	}
	return req, nil
}
