package chat

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Messenger = (*LogMessenger)(nil)

// LogMessenger writes announcements to the log instead of a chat network.
type LogMessenger struct {
	logger *slog.Logger
}

// NewLogMessenger creates a LogMessenger. A nil logger uses slog.Default().
func NewLogMessenger(logger *slog.Logger) *LogMessenger {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMessenger{logger: logger}
}

func (m *LogMessenger) SendMessage(ctx context.Context, channel, text string) error {
	m.logger.InfoContext(ctx, "announcement", "channel", channel, "text", text)
	return nil
}
