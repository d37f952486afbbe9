package domain

import (
	"context"
	"errors"

	"github.com/eventhub/partner-portal/internal/auth"
)

// User-facing authorization failures. The messages are shown verbatim on the
// main application's login page.
var (
	ErrCredentialsRequired = errors.New("Требуется указать адрес электронной почты и пароль")
	ErrInvalidCredentials  = errors.New("Неверный адрес электронной почты или пароль!")
	ErrNotPartner          = errors.New("Доступ запрещен. Этот портал только для партнеров.")
	ErrPartnerElsewhere    = errors.New("Доступ запрещен. Кабинет партнера находится на другой платформе.")
	ErrTransferExpired     = errors.New("Срок действия ссылки истек или токен недействителен. Пожалуйста, авторизуйтесь заново.")
	ErrUserNotFound        = errors.New("Пользователь не найден.")
	ErrInternal            = errors.New("Внутренняя ошибка сервера. Пожалуйста, попробуйте позже.")
)

// userFacing lists the errors that may reach the caller unmasked.
var userFacing = []error{
	ErrCredentialsRequired,
	ErrInvalidCredentials,
	ErrNotPartner,
	ErrPartnerElsewhere,
	ErrTransferExpired,
	ErrUserNotFound,
}

// UserRepository defines the data access needed by authorization
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserWithPassword(ctx context.Context, email string) (*User, string, error)
}

// TokenManager validates transfer tokens and mints access tokens.
type TokenManager interface {
	ValidateTransferToken(token string) (*auth.Claims, error)
	GenerateAccessToken(id auth.Identity) (string, error)
}

// Credentials is what a caller presents to Authorize. A transfer token takes
// precedence over email and password.
type Credentials struct {
	Email         string
	Password      string
	TransferToken string
}

// AuthService handles authentication business logic
type AuthService struct {
	repo   UserRepository
	tokens TokenManager
}

// NewAuthService creates a new auth service
func NewAuthService(repo UserRepository, tokens TokenManager) *AuthService {
	return &AuthService{
		repo:   repo,
		tokens: tokens,
	}
}

// Authorize exchanges credentials for a partner principal.
func (s *AuthService) Authorize(ctx context.Context, creds Credentials) (*Principal, error) {
	var (
		p   *Principal
		err error
	)
	if creds.TransferToken != "" {
		p, err = s.authorizeTransfer(ctx, creds.TransferToken)
	} else {
		p, err = s.authorizePassword(ctx, creds.Email, creds.Password)
	}
	if err != nil {
		return nil, mask(err)
	}
	return p, nil
}

func (s *AuthService) authorizeTransfer(ctx context.Context, token string) (*Principal, error) {
	claims, err := s.tokens.ValidateTransferToken(token)
	if err != nil {
		return nil, ErrTransferExpired
	}

	// Fetch fresh so that deleted or demoted users cannot reuse an old link.
	user, err := s.repo.GetUserByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if !user.IsPartner() {
		return nil, ErrNotPartner
	}

	return user.ToPrincipal(token), nil
}

func (s *AuthService) authorizePassword(ctx context.Context, email, password string) (*Principal, error) {
	if email == "" || password == "" {
		return nil, ErrCredentialsRequired
	}

	user, hash, err := s.repo.GetUserWithPassword(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if hash == "" {
		return nil, ErrInvalidCredentials
	}

	if !user.IsPartner() {
		return nil, ErrPartnerElsewhere
	}

	if err := auth.VerifyPassword(password, hash); err != nil {
		return nil, ErrInvalidCredentials
	}

	identity := auth.Identity{ID: user.ID, Name: user.Name, Role: user.Role}
	if user.Email != nil {
		identity.Email = *user.Email
	}
	token, err := s.tokens.GenerateAccessToken(identity)
	if err != nil {
		return nil, err
	}

	return user.ToPrincipal(token), nil
}

func mask(err error) error {
	for _, known := range userFacing {
		if errors.Is(err, known) {
			return known
		}
	}
	return ErrInternal
}
