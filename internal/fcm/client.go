package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/eventhub/partner-portal/internal/domain"
)

type Client struct {
	msgClient *messaging.Client
	logger    *zap.Logger
}

var _ domain.PushSender = (*Client)(nil)

func NewClient(ctx context.Context, logger *zap.Logger, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	} else {
		logger.Warn("No Firebase credentials file provided. FCM will use application default credentials.")
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &Client{
		msgClient: msgClient,
		logger:    logger,
	}, nil
}

// Send delivers one notification. A token the provider reports as
// unregistered yields domain.ErrPushTokenInvalid.
func (c *Client) Send(ctx context.Context, token string, title, body string, data map[string]string) error {
	if token == "" {
		return nil
	}

	message := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: title,
				Body:  body,
			},
		},
	}

	if _, err := c.msgClient.Send(ctx, message); err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("%w: %v", domain.ErrPushTokenInvalid, err)
		}
		c.logger.Error("Failed to send FCM message", zap.Error(err))
		return err
	}
	return nil
}
