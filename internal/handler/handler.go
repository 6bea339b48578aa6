// Package handler dispatches decoded protocol requests to the shop services.
//
// A Handler holds the services shared by every connection; a Session is the per-connection
// dispatcher created by the transport for each accepted socket. Sessions handle frames one
// at a time in arrival order.
package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"commerce-service/internal/account"
	"commerce-service/internal/apperr"
	"commerce-service/internal/catalog"
	"commerce-service/internal/chat"
	"commerce-service/internal/order"
	"commerce-service/internal/presence"
	"commerce-service/internal/protocol"
	"commerce-service/internal/stats"
	"commerce-service/pkg/jwtutil"
	"commerce-service/pkg/logger"
	metrics "commerce-service/prometheus"
)

const internalMessage = "internal server error"

// Peer is the connection a Session answers on
type Peer interface {
	presence.Conn
	// Reply enqueues a response of this connection, waiting for queue space
	Reply(ctx context.Context, frame []byte) error
}

// Deps are the services shared by every session
type Deps struct {
	Accounts    *account.Service
	Catalog     *catalog.Service
	Orders      *order.Service
	Chat        *chat.Service
	Stats       *stats.Service
	Presence    *presence.Registry
	JWT         *jwtutil.JWTUtil
	Metrics     *metrics.Metrics
	DedupWindow time.Duration
	Log         *zap.Logger
}

// Handler creates sessions
type Handler struct {
	Deps
}

// New creates a handler
func New(d Deps) *Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handler{Deps: d}
}

// Session dispatches the frames of one connection
type Session struct {
	h     *Handler
	peer  Peer
	dedup *dedupCache
	log   *zap.Logger
}

// NewSession creates the dispatcher of a new connection
func (h *Handler) NewSession(p Peer) *Session {
	return &Session{
		h:     h,
		peer:  p,
		dedup: newDedupCache(h.DedupWindow),
		log:   h.Log.With(zap.String("conn_id", p.ID())),
	}
}

// Close unbinds the connection from its user
func (s *Session) Close() {
	if username, ok := s.h.Presence.Unregister(s.peer); ok {
		s.log.Info("User went offline", zap.String("username", username))
	}
}

// Handle processes one inbound frame. The returned error means the connection can no longer
// be written to; every request failure is answered on the connection instead.
func (s *Session) Handle(ctx context.Context, frame []byte) error {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return nil
	}
	if s.dedup.duplicate(frame) {
		s.h.Metrics.DuplicateFrames.Inc()
		s.log.Debug("Dropped duplicate frame", zap.Int("bytes", len(frame)))
		return nil
	}

	start := time.Now()
	log := s.log.With(zap.String("request_id", uuid.NewString()))
	ctx = logger.WithContext(ctx, log)

	req, err := protocol.Decode(frame)
	if err != nil {
		var decodeErr *protocol.DecodeError
		if !errors.As(err, &decodeErr) {
			decodeErr = &protocol.DecodeError{Code: apperr.CodeInvalidJSON, Err: err}
		}
		msgType := decodeErr.Type
		if msgType == "" || decodeErr.Code != apperr.CodeInvalidArgument {
			msgType = "unknown"
		}
		log.Warn("Rejected frame", zap.String("type", decodeErr.Type), zap.Int("code", decodeErr.Code), zap.Error(decodeErr.Err))
		s.h.Metrics.RecordFrame(msgType, metrics.OutcomeRejected, start)
		return s.reply(ctx, decodeFailure(decodeErr))
	}

	log = log.With(zap.String("type", req.Type()))
	ctx = logger.WithContext(ctx, log)

	frames, outcome := s.serve(ctx, req)
	s.h.Metrics.RecordFrame(req.Type(), outcome, start)
	return s.reply(ctx, frames...)
}

// serve runs the request and turns failures and panics into a failure response
func (s *Session) serve(ctx context.Context, req protocol.Request) (frames []any, outcome string) {
	log := logger.FromContext(ctx)
	defer func() {
		if p := recover(); p != nil {
			log.Error("Handler panicked", zap.Any("panic", p), zap.Stack("stack"))
			frames = []any{protocol.Fail(protocol.ResponseType(req.Type()), apperr.CodeInternal, internalMessage)}
			outcome = metrics.OutcomePanic
		}
	}()

	frames, err := s.dispatch(ctx, req)
	if err != nil {
		return []any{s.failure(ctx, req.Type(), err)}, metrics.OutcomeFailed
	}
	return frames, metrics.OutcomeOK
}

func (s *Session) dispatch(ctx context.Context, req protocol.Request) ([]any, error) {
	switch r := req.(type) {
	case *protocol.Login:
		return s.login(ctx, r)
	case *protocol.Register:
		return s.register(ctx, r)
	case *protocol.Resume:
		return s.resume(ctx, r)
	case *protocol.Logout:
		return s.logout(ctx)
	case *protocol.Ping:
		return one(protocol.Result{Type: protocol.TypePong, Success: true}), nil
	case *protocol.GetAccount:
		return s.getAccount(ctx, r)
	case *protocol.UpdateAccount:
		return s.updateAccount(ctx, r)

	case *protocol.GetCarousel:
		return s.carousel(ctx)
	case *protocol.GetRecommendations:
		return s.recommendations(ctx)
	case *protocol.GetPromotions:
		return s.promotions(ctx)
	case *protocol.Search:
		return s.search(ctx, r)
	case *protocol.GetProductDetail:
		return s.productDetail(ctx, r)
	case *protocol.ListProducts:
		return s.listProducts(ctx, r)
	case *protocol.SetDiscount:
		return s.setDiscount(ctx, r)
	case *protocol.RemoveDiscount:
		return s.removeDiscount(ctx, r)

	case *protocol.GetCart:
		return s.getCart(ctx, r)
	case *protocol.AddToCart:
		return s.addToCart(ctx, r)
	case *protocol.RemoveFromCart:
		return s.removeFromCart(ctx, r)
	case *protocol.Checkout:
		return s.checkout(ctx, r)
	case *protocol.CheckoutSelected:
		return s.checkoutSelected(ctx, r)
	case *protocol.CancelCart:
		return s.cancelCart(ctx, r)
	case *protocol.GetOrders:
		return s.getOrders(ctx, r)
	case *protocol.DeleteOrder:
		return s.deleteOrder(ctx, r)
	case *protocol.RefundOrder:
		return s.refundOrder(ctx, r)

	case *protocol.ChatSend:
		return s.chatSend(ctx, r)
	case *protocol.ChatHistory:
		return s.chatHistory(ctx, r)
	case *protocol.ChatDelete:
		return s.chatDelete(ctx, r)
	case *protocol.OnlineUsers:
		return s.onlineUsers(ctx)

	case *protocol.StatsMonthly:
		return s.statsMonthly(ctx, r)
	case *protocol.StatsProducts:
		return s.statsProducts(ctx, r)
	}
	return nil, apperr.Internal("dispatch", fmt.Errorf("no handler for %T", req))
}

// failure converts a service error into the failure response of reqType
func (s *Session) failure(ctx context.Context, reqType string, err error) protocol.Result {
	log := logger.FromContext(ctx)
	kind := apperr.KindOf(err)
	res := protocol.Fail(protocol.ResponseType(reqType), kind.Code(), err.Error())

	switch kind {
	case apperr.KindInternal:
		log.Error("Request failed", zap.Error(err))
		res.Message = internalMessage
	case apperr.KindInsufficientStock:
		res.ProductID, _ = apperr.ProductOf(err)
		log.Info("Request rejected", zap.Int("code", res.Code), zap.Uint("product_id", res.ProductID), zap.Error(err))
	case apperr.KindUnauthenticated, apperr.KindForbidden:
		log.Warn("Request denied", zap.Int("code", res.Code), zap.Error(err))
	default:
		log.Info("Request rejected", zap.Int("code", res.Code), zap.Error(err))
	}
	return res
}

func decodeFailure(err *protocol.DecodeError) protocol.Result {
	switch err.Code {
	case apperr.CodeInvalidArgument:
		return protocol.Fail(protocol.ResponseType(err.Type), err.Code, "invalid request fields: "+err.Err.Error())
	case apperr.CodeUnknownType:
		return protocol.Fail(protocol.TypeError, err.Code, err.Err.Error())
	default:
		return protocol.Fail(protocol.TypeError, apperr.CodeInvalidJSON, "invalid JSON: "+err.Err.Error())
	}
}

// reply encodes and enqueues frames in order
func (s *Session) reply(ctx context.Context, frames ...any) error {
	for _, f := range frames {
		data, err := protocol.Encode(f)
		if err != nil {
			logger.FromContext(ctx).Error("Failed to encode response", zap.Error(err))
			data, _ = protocol.Encode(protocol.Fail(protocol.TypeError, apperr.CodeInternal, internalMessage))
		}
		if err := s.peer.Reply(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

func one(frame any) []any {
	return []any{frame}
}
