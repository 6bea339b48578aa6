// Package account manages shop accounts: registration, login and profile updates.
package account

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"commerce-service/internal/apperr"
	"commerce-service/internal/model"
	"commerce-service/internal/store"
)

const (
	minUsername = 3
	maxUsername = 32
	minPassword = 6
	maxPassword = 64
	maxPhone    = 32
	maxEmail    = 128
)

// Update lists the profile fields to change; nil fields are kept
type Update struct {
	Phone    *string
	Email    *string
	Password *string
}

// Service manages accounts
type Service struct {
	store    store.Store
	admin    string
	hashCost int
	log      *zap.Logger
}

// NewService creates the account service; admin names the privileged account
func NewService(s store.Store, admin string, log *zap.Logger) *Service {
	return &Service{store: s, admin: admin, hashCost: bcrypt.DefaultCost, log: log}
}

// IsAdmin reports whether username is the privileged account
func (s *Service) IsAdmin(username string) bool {
	return username != "" && username == s.admin
}

// Register creates an enabled account
func (s *Service) Register(ctx context.Context, username, password, phone, email string) (*model.Client, error) {
	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if err := validateContact(phone, email); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}

	c := &model.Client{
		Username: username,
		Password: string(hash),
		Phone:    strings.TrimSpace(phone),
		Email:    strings.TrimSpace(email),
		Enabled:  true,
	}
	err = s.store.Update(ctx, func(r store.Repository) error {
		c.ID = 0
		return r.CreateClient(c)
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.Conflict("username %q already exists", username)
	}
	if err != nil {
		return nil, apperr.Internal("create client", err)
	}

	s.log.Info("Client registered", zap.Uint("client_id", c.ID), zap.String("username", c.Username))
	return c, nil
}

// Login checks the credentials of an enabled account
func (s *Service) Login(ctx context.Context, username, password string) (*model.Client, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.InvalidArgument("username and password are required")
	}

	c, err := s.ByUsername(ctx, username)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Unauthenticated("user %q does not exist, please register first", username)
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(c.Password), []byte(password)); err != nil {
		return nil, apperr.Unauthenticated("wrong password")
	}
	if !c.Enabled {
		return nil, apperr.Forbidden("account %q is disabled", username)
	}
	return c, nil
}

// ByUsername loads an account
func (s *Service) ByUsername(ctx context.Context, username string) (*model.Client, error) {
	var c *model.Client
	err := s.store.View(ctx, func(r store.Repository) error {
		var err error
		c, err = r.FindClientByUsername(username)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user %q not found", username)
	}
	if err != nil {
		return nil, apperr.Internal("load client", err)
	}
	return c, nil
}

// UpdateProfile changes phone, email or password. Usernames are immutable.
func (s *Service) UpdateProfile(ctx context.Context, username string, u Update) (*model.Client, error) {
	var phone, email string
	if u.Phone != nil {
		phone = *u.Phone
	}
	if u.Email != nil {
		email = *u.Email
	}
	if err := validateContact(phone, email); err != nil {
		return nil, err
	}

	var hash []byte
	if u.Password != nil {
		if err := validatePassword(*u.Password); err != nil {
			return nil, err
		}
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(*u.Password), s.hashCost); err != nil {
			return nil, apperr.Internal("hash password", err)
		}
	}

	var c *model.Client
	err := s.store.Update(ctx, func(r store.Repository) error {
		var err error
		c, err = r.FindClientByUsername(username)
		if err != nil {
			return err
		}
		if u.Phone != nil {
			c.Phone = strings.TrimSpace(*u.Phone)
		}
		if u.Email != nil {
			c.Email = strings.TrimSpace(*u.Email)
		}
		if hash != nil {
			c.Password = string(hash)
		}
		return r.SaveClient(c)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user %q not found", username)
	}
	if err != nil {
		return nil, apperr.Internal("update client", err)
	}

	s.log.Info("Account updated",
		zap.String("username", username),
		zap.Bool("phone", u.Phone != nil),
		zap.Bool("email", u.Email != nil),
		zap.Bool("password", u.Password != nil))
	return c, nil
}

// EnsureAdmin creates the privileged account unless it exists and reports whether it did
func (s *Service) EnsureAdmin(ctx context.Context, password string) (bool, error) {
	_, err := s.ByUsername(ctx, s.admin)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}
	if _, err := s.Register(ctx, s.admin, password, "", ""); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n == 0 {
		return apperr.InvalidArgument("username is required")
	}
	if n < minUsername || n > maxUsername {
		return apperr.InvalidArgument("username must be %d to %d characters long", minUsername, maxUsername)
	}
	return nil
}

func validatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n == 0 {
		return apperr.InvalidArgument("password is required")
	}
	if n < minPassword || n > maxPassword {
		return apperr.InvalidArgument("password must be %d to %d characters long", minPassword, maxPassword)
	}
	return nil
}

func validateContact(phone, email string) error {
	phone, email = strings.TrimSpace(phone), strings.TrimSpace(email)
	if utf8.RuneCountInString(phone) > maxPhone {
		return apperr.InvalidArgument("phone must be at most %d characters long", maxPhone)
	}
	if email == "" {
		return nil
	}
	if utf8.RuneCountInString(email) > maxEmail {
		return apperr.InvalidArgument("email must be at most %d characters long", maxEmail)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return apperr.InvalidArgument("invalid email %q", email)
	}
	return nil
}
