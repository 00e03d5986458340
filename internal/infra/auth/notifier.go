package auth

import (
	"context"

	"github.com/bryanwahyu/snapsense/internal/logging"
)

// Notifier delivers the verification code to the user.
type Notifier interface {
	SendVerification(ctx context.Context, email, code string) error
}

// LogNotifier writes the code to the service log. Meant for development.
type LogNotifier struct {
	Logger logging.Logger
}

func (n LogNotifier) SendVerification(ctx context.Context, email, code string) error {
	n.Logger.Info(ctx, "verification code issued", "email", email, "code", code)
	return nil
}
