package gateway

import "context"

// Messenger is a bidirectional message channel (Telegram, Discord, etc.).
type Messenger interface {
	// Start begins the message listening loop and blocks until it ends.
	Start() error
	// Send delivers a message to a specific chat.
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway.
	Stop() error
}

// Handler receives inbound messages. Implementations must return
// quickly; replies go back out through Send.
type Handler interface {
	HandleInbound(ctx context.Context, senderID, text string)
}
