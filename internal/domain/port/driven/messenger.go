package driven

import "context"

// Messenger defines the driven port of the chat transport that delivers
// announcements to notification channels.
type Messenger interface {
	SendMessage(ctx context.Context, channel, text string) error
}
