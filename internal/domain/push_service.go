package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrPushTokenInvalid marks a device token the push provider no longer accepts.
	ErrPushTokenInvalid  = errors.New("push token no longer registered")
	ErrPushTokenRequired = errors.New("push token is required")
)

type PushSender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// PushTokenRepository keeps the device tokens registered per principal.
type PushTokenRepository interface {
	AddPushToken(ctx context.Context, principalID, token string) error
	GetPushTokens(ctx context.Context, principalID string) ([]string, error)
	RemovePushToken(ctx context.Context, principalID, token string) error
}

// PushService delivers alerts to a partner's devices when no browser is
// listening.
type PushService struct {
	repo   PushTokenRepository
	sender PushSender
	logger *zap.Logger
}

func NewPushService(repo PushTokenRepository, sender PushSender, logger *zap.Logger) *PushService {
	return &PushService{
		repo:   repo,
		sender: sender,
		logger: logger,
	}
}

func (s *PushService) Register(ctx context.Context, principalID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrPushTokenRequired
	}
	return s.repo.AddPushToken(ctx, principalID, token)
}

// PushAlert sends a to every device of the principal. Tokens the provider
// rejects as unregistered are forgotten.
func (s *PushService) PushAlert(ctx context.Context, principalID string, a Alert) error {
	if s.sender == nil {
		return nil
	}

	tokens, err := s.repo.GetPushTokens(ctx, principalID)
	if err != nil {
		return fmt.Errorf("failed to load push tokens: %w", err)
	}

	data := map[string]string{"variant": string(a.Variant)}
	if a.Action != nil {
		data["action"] = a.Action.Label
		if a.Action.Target != "" {
			data["target"] = a.Action.Target
		}
		if a.Action.ChatID != "" {
			data["chatId"] = a.Action.ChatID
		}
	}

	var sent int
	for _, token := range tokens {
		if token == "" {
			continue
		}
		err := s.sender.Send(ctx, token, a.Title, a.Description, data)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrPushTokenInvalid):
			if rmErr := s.repo.RemovePushToken(ctx, principalID, token); rmErr != nil {
				s.logger.Warn("failed to drop push token", zap.String("principal_id", principalID), zap.Error(rmErr))
			}
		default:
			s.logger.Warn("push delivery failed", zap.String("principal_id", principalID), zap.Error(err))
		}
	}

	s.logger.Debug("push alert delivered",
		zap.String("principal_id", principalID),
		zap.Int("devices", sent),
	)
	return nil
}
