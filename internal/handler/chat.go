package handler

import (
	"context"
	"strings"

	"commerce-service/internal/protocol"
	"commerce-service/internal/stats"
)

func (s *Session) chatSend(ctx context.Context, r *protocol.ChatSend) ([]any, error) {
	c, err := s.actor(ctx, r.Identity)
	if err != nil {
		return nil, err
	}
	msg, err := s.h.Chat.Send(ctx, c.Username, r.To, r.Content)
	if err != nil {
		return nil, err
	}
	return one(protocol.ChatSendResponse{
		Result:    protocol.OK(protocol.TypeChatSendResponse, "message sent"),
		MessageID: msg.ID,
	}), nil
}

func (s *Session) chatHistory(ctx context.Context, r *protocol.ChatHistory) ([]any, error) {
	c, err := s.actor(ctx, r.Identity)
	if err != nil {
		return nil, err
	}
	msgs, err := s.h.Chat.History(ctx, c.Username, r.Peer, r.Limit)
	if err != nil {
		return nil, err
	}
	return one(protocol.ChatHistoryResponse{
		Result:   protocol.OK(protocol.TypeChatHistory, ""),
		Peer:     strings.TrimSpace(r.Peer),
		Messages: protocol.NewChatMessageViews(msgs),
	}), nil
}

func (s *Session) chatDelete(ctx context.Context, r *protocol.ChatDelete) ([]any, error) {
	c, err := s.actor(ctx, r.Identity)
	if err != nil {
		return nil, err
	}
	n, err := s.h.Chat.DeleteHistory(ctx, c.Username, r.Peer)
	if err != nil {
		return nil, err
	}
	return one(protocol.ChatDeleteResponse{
		Result:  protocol.OK(protocol.TypeChatDeleteResponse, "chat history deleted"),
		Deleted: n,
	}), nil
}

func (s *Session) onlineUsers(ctx context.Context) ([]any, error) {
	if _, err := s.requireAdmin(); err != nil {
		return nil, err
	}
	return one(protocol.OnlineUsersResponse{
		Result: protocol.OK(protocol.TypeOnlineUsers, ""),
		Users:  s.h.Presence.Online(),
	}), nil
}

func (s *Session) statsMonthly(ctx context.Context, r *protocol.StatsMonthly) ([]any, error) {
	clientID, rng, err := s.statsScope(ctx, r.StatsRange)
	if err != nil {
		return nil, err
	}
	rows, err := s.h.Stats.Monthly(ctx, clientID, rng)
	if err != nil {
		return nil, err
	}
	return one(protocol.StatsResponse[stats.MonthlyRow]{
		Result: protocol.OK(protocol.TypeStatsMonthly, ""),
		From:   r.From,
		To:     r.To,
		Rows:   rows,
	}), nil
}

func (s *Session) statsProducts(ctx context.Context, r *protocol.StatsProducts) ([]any, error) {
	clientID, rng, err := s.statsScope(ctx, r.StatsRange)
	if err != nil {
		return nil, err
	}
	rows, err := s.h.Stats.Products(ctx, clientID, rng)
	if err != nil {
		return nil, err
	}
	return one(protocol.StatsResponse[stats.ProductRow]{
		Result: protocol.OK(protocol.TypeStatsProducts, ""),
		From:   r.From,
		To:     r.To,
		Rows:   rows,
	}), nil
}

// statsScope selects whose orders are summed: everybody's without a username, which only the
// privileged account may ask for, else the named user's under the usual identity rules
func (s *Session) statsScope(ctx context.Context, r protocol.StatsRange) (uint, stats.Range, error) {
	rng, err := stats.ParseRange(r.From, r.To)
	if err != nil {
		return 0, stats.Range{}, err
	}
	if strings.TrimSpace(r.Username) == "" {
		if _, err := s.requireAdmin(); err != nil {
			return 0, stats.Range{}, err
		}
		return 0, rng, nil
	}
	c, err := s.actor(ctx, r.Identity)
	if err != nil {
		return 0, stats.Range{}, err
	}
	return c.ID, rng, nil
}
