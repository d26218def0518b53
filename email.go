package tokenauth

import (
	"context"
	"log/slog"
	"sync"
)

// Notifier delivers account notifications. Applications plug in their own
// mail transport; delivery failures never fail the calling flow.
type Notifier interface {
	SendPasswordReset(ctx context.Context, user *User, token *AuthToken) error
	SendPasswordChanged(ctx context.Context, user *User) error
}

// LogNotifier is a development Notifier that writes notifications to a logger.
// Reset links carry a live token, so they are only written at debug level.
type LogNotifier struct {
	Logger *slog.Logger

	// ResetURL, if set, is logged with the reset token appended as a query param
	ResetURL string
}

func (n *LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, user *User, token *AuthToken) error {
	logger := n.logger()
	logger.InfoContext(ctx, "EMAIL: password reset",
		"to", user.Email,
		"user_id", user.ID,
		"subject", "Reset your password",
		"expires", token.ExpiresAt)
	link := token.Token
	if n.ResetURL != "" {
		link = n.ResetURL + "?resetToken=" + token.Token
	}
	logger.DebugContext(ctx, "EMAIL: password reset link", "to", user.Email, "link", link)
	return nil
}

func (n *LogNotifier) SendPasswordChanged(ctx context.Context, user *User) error {
	n.logger().InfoContext(ctx, "EMAIL: password changed",
		"to", user.Email,
		"subject", "Your password was changed")
	return nil
}

// MemoryNotifier records the latest reset token per email. It is meant for
// tests and local tooling that need to complete the reset flow.
type MemoryNotifier struct {
	mu      sync.Mutex
	resets  map[string]string
	changed map[string]int
}

func (n *MemoryNotifier) SendPasswordReset(ctx context.Context, user *User, token *AuthToken) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resets == nil {
		n.resets = make(map[string]string)
	}
	n.resets[user.Email] = token.Token
	return nil
}

func (n *MemoryNotifier) SendPasswordChanged(ctx context.Context, user *User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.changed == nil {
		n.changed = make(map[string]int)
	}
	n.changed[user.Email]++
	return nil
}

// ResetToken returns the last reset token sent to email
func (n *MemoryNotifier) ResetToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resets[NormalizeEmail(email)]
}

// PasswordChangedCount returns how many change notices email received
func (n *MemoryNotifier) PasswordChangedCount(email string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.changed[NormalizeEmail(email)]
}
