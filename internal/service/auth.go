package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Skotchmaster/auth_backend/internal/apperr"
	"github.com/Skotchmaster/auth_backend/internal/events"
	"github.com/Skotchmaster/auth_backend/internal/logging"
	"github.com/Skotchmaster/auth_backend/internal/models"
	"github.com/Skotchmaster/auth_backend/internal/repo"
	"github.com/Skotchmaster/auth_backend/internal/security/password"
	"github.com/Skotchmaster/auth_backend/internal/telemetry"
	"github.com/Skotchmaster/auth_backend/pkg/tokens"
)

var ErrUserNotFound = apperr.New(http.StatusNotFound, "User not found")

type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any) error
}

type UserIndexer interface {
	IndexUser(ctx context.Context, u *models.User) error
}

type AuthService struct {
	Users  UserStore
	Tokens *tokens.Issuer
	Cost   int

	// optional side channels, failures are logged and never fail a request
	Events EventPublisher
	Index  UserIndexer

	dummyOnce sync.Once
	dummy     string
}

type AuthResult struct {
	User         *models.User
	AccessToken  string
	RefreshToken string
}

func NewAuthService(users UserStore, issuer *tokens.Issuer, cost int) *AuthService {
	if cost == 0 {
		cost = password.DefaultCost
	}
	return &AuthService{
		Users:  users,
		Tokens: issuer,
		Cost:   cost,
		Events: events.Nop{},
	}
}

func (s *AuthService) Register(ctx context.Context, email, pw string) (res *AuthResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.register")
	defer func() { telemetry.EndWithError(span, err) }()
	l := logging.FromContext(ctx).With("svc", "auth.register")

	if !password.IsStrongPassword(pw) {
		l.Warn("register_failed", "status", 400, "reason", "weak password")
		return nil, apperr.ErrWeakPassword
	}

	existing, err := s.Users.FindByEmail(ctx, email)
	switch {
	case err == nil && existing != nil:
		l.Warn("register_failed", "status", 400, "reason", "user already exists")
		return nil, apperr.ErrDuplicateUser
	case err != nil && !errors.Is(err, repo.ErrUserNotFound):
		l.Error("register_failed", "status", 500, "reason", "db_error", "error", err)
		return nil, err
	}

	hashed, err := password.Hash(pw, s.Cost)
	if err != nil {
		l.Error("register_failed", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hashed,
		Role:         models.RoleUser,
	}
	if err := s.Users.Create(ctx, user); err != nil {
		// the lookup above and this insert are not atomic, the unique index settles races
		if errors.Is(err, repo.ErrUserAlreadyExist) {
			l.Warn("register_failed", "status", 400, "reason", "user already exists (insert)")
			return nil, apperr.Wrap(apperr.ErrDuplicateUser, err)
		}
		l.Error("register_failed", "status", 500, "reason", "db_error", "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("user_id", user.ID))

	res, err = s.issuePair(user)
	if err != nil {
		l.Error("register_failed", "status", 500, "reason", "cannot create token", "error", err)
		return nil, err
	}

	s.publish(ctx, events.TypeUserRegistered, user)
	if s.Index != nil {
		if err := s.Index.IndexUser(ctx, user); err != nil {
			l.Warn("user_index_failed", "user_id", user.ID, "error", err)
		}
	}

	l.Info("register_success", "user_id", user.ID)
	return res, nil
}

// Login answers ErrAuthentication for both an unknown email and a wrong password.
func (s *AuthService) Login(ctx context.Context, email, pw string) (res *AuthResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.login")
	defer func() { telemetry.EndWithError(span, err) }()
	l := logging.FromContext(ctx).With("svc", "auth.login")

	user, err := s.Users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			// spend the same bcrypt work as a real comparison
			password.Verify(pw, s.dummyHash())
			l.Warn("login_failed", "status", 401, "reason", "invalid email or password")
			return nil, apperr.ErrAuthentication
		}
		l.Error("login_failed", "status", 500, "reason", "db_error", "error", err)
		return nil, err
	}

	if !password.Verify(pw, user.PasswordHash) {
		l.Warn("login_failed", "status", 401, "reason", "invalid email or password")
		return nil, apperr.ErrAuthentication
	}
	span.SetAttributes(attribute.String("user_id", user.ID))

	res, err = s.issuePair(user)
	if err != nil {
		l.Error("login_failed", "status", 500, "reason", "cannot create token", "error", err)
		return nil, err
	}

	s.publish(ctx, events.TypeUserLoggedIn, user)
	l.Info("login_successful", "user_id", user.ID)
	return res, nil
}

func (s *AuthService) RefreshAccess(ctx context.Context, refreshToken string) (access string, err error) {
	_, span := telemetry.StartSpan(ctx, "service.auth.refresh")
	defer func() { telemetry.EndWithError(span, err) }()

	access, err = s.Tokens.RefreshAccessToken(refreshToken)
	if err != nil {
		logging.FromContext(ctx).Warn("refresh_failed", "status", apperr.StatusOf(err), "error", err)
		return "", err
	}
	return access, nil
}

func (s *AuthService) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.Users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *AuthService) issuePair(user *models.User) (*AuthResult, error) {
	access, err := s.Tokens.IssueAccessToken(user.ID)
	if err != nil {
		return nil, err
	}
	refresh, err := s.Tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AuthService) publish(ctx context.Context, typ string, user *models.User) {
	if s.Events == nil {
		return
	}
	event := events.UserEvent{
		Type:       typ,
		UserID:     user.ID,
		Email:      user.Email,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.Events.PublishEvent(ctx, events.TopicUserEvents, user.ID, event); err != nil {
		logging.FromContext(ctx).Error("kafka_publish_failed", "type", typ, "error", err)
	}
}

func (s *AuthService) dummyHash() string {
	s.dummyOnce.Do(func() {
		h, err := password.Hash("dummy-Passw0rd!", s.Cost)
		if err == nil {
			s.dummy = h
		}
	})
	return s.dummy
}
