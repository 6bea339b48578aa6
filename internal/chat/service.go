// Package chat stores chat messages and delivers them to connected users.
package chat

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"commerce-service/internal/apperr"
	"commerce-service/internal/model"
	"commerce-service/internal/protocol"
	"commerce-service/internal/store"
	metrics "commerce-service/prometheus"
)

const (
	MaxContentRunes     = 2000
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 500
)

// Deliverer pushes encoded frames to connected users
type Deliverer interface {
	Broadcast(frame []byte) int
	Send(username string, frame []byte) bool
}

// Service persists and fans out chat messages
type Service struct {
	store   store.Store
	deliver Deliverer
	admin   string
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewService creates the chat service; admin is the only account allowed to clear the broadcast channel
func NewService(s store.Store, d Deliverer, admin string, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{
		store:   s,
		deliver: d,
		admin:   admin,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Send stores a message and delivers it. A nil or blank recipient broadcasts to every
// connected user, the sender included; otherwise the recipient (when online) and the sender
// get a copy.
func (s *Service) Send(ctx context.Context, from string, to *string, content string) (*model.ChatMessage, error) {
	if strings.TrimSpace(from) == "" {
		return nil, apperr.Unauthenticated("sender is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.InvalidArgument("message content is empty")
	}
	if n := utf8.RuneCountInString(content); n > MaxContentRunes {
		return nil, apperr.InvalidArgument("message is %d characters long, the limit is %d", n, MaxContentRunes)
	}

	msg := &model.ChatMessage{
		FromUser:  from,
		ToUser:    model.NormalizeRecipient(to),
		Content:   content,
		CreatedAt: s.now(),
	}
	err := s.store.Update(ctx, func(r store.Repository) error {
		msg.ID = 0
		return r.CreateChatMessage(msg)
	})
	if err != nil {
		return nil, apperr.Internal("store chat message", err)
	}

	frame, err := protocol.Encode(protocol.ChatMessagePush{
		Type:            protocol.TypeChatMessage,
		ChatMessageView: protocol.NewChatMessageView(msg),
	})
	if err != nil {
		return nil, apperr.Internal("encode chat message", err)
	}

	if msg.IsBroadcast() {
		n := s.deliver.Broadcast(frame)
		s.log.Debug("Broadcast chat message", zap.Uint("message_id", msg.ID), zap.String("from", from), zap.Int("delivered", n))
	} else {
		online := s.deliver.Send(*msg.ToUser, frame)
		if *msg.ToUser != from {
			s.deliver.Send(from, frame)
		}
		s.log.Debug("Direct chat message", zap.Uint("message_id", msg.ID), zap.String("from", from),
			zap.String("to", *msg.ToUser), zap.Bool("recipient_online", online))
	}
	s.metrics.RecordChatMessage(msg.IsBroadcast())
	return msg, nil
}

// History returns the latest messages between user and peer, or of the broadcast channel
// when peer is empty, oldest first
func (s *Service) History(ctx context.Context, user, peer string, limit int) ([]model.ChatMessage, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	peer = strings.TrimSpace(peer)

	var msgs []model.ChatMessage
	err := s.store.View(ctx, func(r store.Repository) error {
		var err error
		if peer == "" {
			msgs, err = r.ListGlobalChat(limit)
		} else {
			msgs, err = r.ListConversation(user, peer, limit)
		}
		return err
	})
	if err != nil {
		return nil, apperr.Internal("load chat history", err)
	}

	// The gateway returns newest first
	slices.Reverse(msgs)
	return msgs, nil
}

// DeleteHistory removes the conversation between requester and peer in both directions, or
// the whole broadcast channel when peer is empty. Only the admin account may clear the
// broadcast channel. It returns the number of messages removed.
func (s *Service) DeleteHistory(ctx context.Context, requester, peer string) (int64, error) {
	peer = strings.TrimSpace(peer)
	if peer == "" && requester != s.admin {
		return 0, apperr.Forbidden("only %s can delete the public chat history", s.admin)
	}

	var deleted int64
	err := s.store.Update(ctx, func(r store.Repository) error {
		var err error
		if peer == "" {
			deleted, err = r.DeleteGlobalChat()
		} else {
			deleted, err = r.DeleteConversation(requester, peer)
		}
		return err
	})
	if err != nil {
		return 0, apperr.Internal("delete chat history", err)
	}

	s.log.Info("Chat history deleted",
		zap.String("requester", requester),
		zap.String("peer", peer),
		zap.Int64("deleted", deleted))
	return deleted, nil
}
