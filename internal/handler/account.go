package handler

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"commerce-service/internal/account"
	"commerce-service/internal/apperr"
	"commerce-service/internal/model"
	"commerce-service/internal/protocol"
	"commerce-service/pkg/jwtutil"
	"commerce-service/pkg/logger"
)

// bound returns the user logged in on this connection
func (s *Session) bound() (string, bool) {
	return s.h.Presence.Resolve(s.peer)
}

// actor resolves the account a request acts for. The connection must be logged in; an
// explicit username naming somebody else is only honoured for the privileged account.
func (s *Session) actor(ctx context.Context, id protocol.Identity) (*model.Client, error) {
	current, loggedIn := s.bound()
	if !loggedIn {
		return nil, apperr.Unauthenticated("please log in first")
	}
	name := strings.TrimSpace(id.Username)
	switch {
	case name == "":
		name = current
	case name != current && !s.h.Accounts.IsAdmin(current):
		return nil, apperr.Forbidden("%s cannot act as %s", current, name)
	}
	return s.h.Accounts.ByUsername(ctx, name)
}

// requireAdmin fails unless the connection is logged in as the privileged account
func (s *Session) requireAdmin() (string, error) {
	current, ok := s.bound()
	if !ok {
		return "", apperr.Unauthenticated("please log in first")
	}
	if !s.h.Accounts.IsAdmin(current) {
		return "", apperr.Forbidden("administrator privileges required")
	}
	return current, nil
}

func (s *Session) login(ctx context.Context, r *protocol.Login) ([]any, error) {
	c, err := s.h.Accounts.Login(ctx, r.Username, r.Password)
	s.h.Metrics.RecordAuthAttempt(err == nil)
	if err != nil {
		return nil, err
	}
	token, err := s.bind(ctx, c)
	if err != nil {
		return nil, err
	}
	return one(protocol.LoginResponse{
		Result: protocol.OK(protocol.TypeLoginResponse, "login successful"),
		Token:  token,
		User:   protocol.NewUserView(c, s.h.Accounts.IsAdmin(c.Username)),
	}), nil
}

func (s *Session) resume(ctx context.Context, r *protocol.Resume) ([]any, error) {
	claims, err := s.h.JWT.ValidateToken(strings.TrimSpace(r.Token))
	if err != nil {
		s.h.Metrics.RecordAuthAttempt(false)
		logger.FromContext(ctx).Info("Rejected session token", zap.Error(err))
		return nil, apperr.Unauthenticated("invalid or expired token")
	}
	c, err := s.h.Accounts.ByUsername(ctx, claims.Username)
	if errors.Is(err, apperr.ErrNotFound) {
		err = apperr.Unauthenticated("user %q no longer exists", claims.Username)
	} else if err == nil && !c.Enabled {
		err = apperr.Forbidden("account %q is disabled", c.Username)
	}
	s.h.Metrics.RecordAuthAttempt(err == nil)
	if err != nil {
		return nil, err
	}
	token, err := s.bind(ctx, c)
	if err != nil {
		return nil, err
	}
	return one(protocol.LoginResponse{
		Result: protocol.OK(protocol.TypeLoginResponse, "session resumed"),
		Token:  token,
		User:   protocol.NewUserView(c, s.h.Accounts.IsAdmin(c.Username)),
	}), nil
}

// bind logs the connection in as c and issues a fresh session token
func (s *Session) bind(ctx context.Context, c *model.Client) (string, error) {
	role := jwtutil.RoleCustomer
	if s.h.Accounts.IsAdmin(c.Username) {
		role = jwtutil.RoleAdmin
	}
	token, err := s.h.JWT.GenerateToken(c.Username, c.ID, role)
	if err != nil {
		return "", apperr.Internal("issue session token", err)
	}
	if err := s.h.Presence.Register(c.Username, s.peer); err != nil {
		return "", apperr.Internal("bind connection", err)
	}
	logger.FromContext(ctx).Info("User logged in",
		zap.String("username", c.Username),
		zap.Uint("client_id", c.ID),
		zap.String("role", role))
	return token, nil
}

func (s *Session) logout(ctx context.Context) ([]any, error) {
	username, ok := s.h.Presence.Unregister(s.peer)
	if !ok {
		return nil, apperr.Unauthenticated("not logged in")
	}
	logger.FromContext(ctx).Info("User logged out", zap.String("username", username))
	return one(protocol.OK(protocol.TypeLogoutResponse, "logged out")), nil
}

func (s *Session) register(ctx context.Context, r *protocol.Register) ([]any, error) {
	c, err := s.h.Accounts.Register(ctx, r.Username, r.Password, r.Phone, r.Email)
	if err != nil {
		return nil, err
	}
	return one(protocol.AccountInfo{
		Result: protocol.OK(protocol.TypeRegisterResponse, "registration successful"),
		User:   protocol.NewUserView(c, false),
	}), nil
}

func (s *Session) getAccount(ctx context.Context, r *protocol.GetAccount) ([]any, error) {
	c, err := s.actor(ctx, r.Identity)
	if err != nil {
		return nil, err
	}
	return one(protocol.AccountInfo{
		Result: protocol.OK(protocol.TypeAccountInfo, ""),
		User:   protocol.NewUserView(c, s.h.Accounts.IsAdmin(c.Username)),
	}), nil
}

func (s *Session) updateAccount(ctx context.Context, r *protocol.UpdateAccount) ([]any, error) {
	c, err := s.actor(ctx, r.Identity)
	if err != nil {
		return nil, err
	}
	if r.Phone == nil && r.Email == nil && r.Password == nil {
		return nil, apperr.InvalidArgument("nothing to update")
	}
	c, err = s.h.Accounts.UpdateProfile(ctx, c.Username, account.Update{
		Phone:    r.Phone,
		Email:    r.Email,
		Password: r.Password,
	})
	if err != nil {
		return nil, err
	}
	return one(protocol.AccountInfo{
		Result: protocol.OK(protocol.TypeUpdateAccountResponse, "account updated"),
		User:   protocol.NewUserView(c, s.h.Accounts.IsAdmin(c.Username)),
	}), nil
}
