package channel

import (
	"context"
	"io"
)

// InboundHandler receives live updates from a connected session.
type InboundHandler func(update InboundUpdate)

// InboundUpdate is one event pushed by the human-like channel.
type InboundUpdate struct {
	SenderID         int64
	Username         string
	DisplayName      string
	Text             string
	VoiceData        io.Reader
	PhotoURL         string
	Caption          string
	ChannelMessageID int64
}

// LoginResult is the outcome of one auth-flow step. FlowToken is an opaque
// handle for the in-progress flow; SessionToken is set once login completes.
type LoginResult struct {
	FlowToken        string
	PasswordRequired bool
	SessionToken     string
	// CodeDeliveredVia tells the tenant where to look for the one-time
	// code: "app", "sms" or "call".
	CodeDeliveredVia string
}

// ResolvedUser is the channel's view of a user identity.
type ResolvedUser struct {
	ID       int64
	Username string
}

// Dialer owns session establishment for the human-like channel: the
// multi-step login flow and connecting an authorized session.
type Dialer interface {
	// StartLogin requests a one-time code for the phone. forceSMS asks the
	// provider to deliver over SMS instead of an open app session.
	StartLogin(ctx context.Context, phone string, apiID int, apiHash string, forceSMS bool) (*LoginResult, error)
	// VerifyCode advances the flow with the received code. The result
	// either carries the final session token or PasswordRequired.
	VerifyCode(ctx context.Context, flowToken, code string) (*LoginResult, error)
	// VerifyPassword completes a two-step-verification flow.
	VerifyPassword(ctx context.Context, flowToken, password string) (*LoginResult, error)
	// Connect opens a live connection for an authorized session token.
	// Inbound updates are pushed to handler until the client is closed.
	Connect(ctx context.Context, sessionToken string, handler InboundHandler) (Client, error)
}

// Client is one tenant's live connection to the human-like channel.
type Client interface {
	// SendText delivers text to a numeric channel identity, returning the
	// channel-native message id.
	SendText(ctx context.Context, userID int64, text string) (int64, error)
	// SendTextToUsername delivers text by username when the numeric
	// identity cannot be resolved.
	SendTextToUsername(ctx context.Context, username, text string) (int64, error)
	// ResolveUser looks up an identity; force bypasses the local cache.
	ResolveUser(ctx context.Context, userID int64, force bool) (*ResolvedUser, error)
	// SeedContacts warms the connection's local contact cache so queued
	// sends can resolve identities.
	SeedContacts(ctx context.Context) error
	// Typing shows a typing indicator to the given user.
	Typing(ctx context.Context, userID int64) error
	// Connected reports whether the underlying session is live.
	Connected() bool
	Close() error
}
