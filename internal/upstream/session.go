// Package upstream defines the opaque session capability the relay drives.
// The wire protocol behind it is deliberately out of scope: anything that
// can open a conversational session from a credential pair and exchange
// multi-turn messages with optional file attachments satisfies it,
// including test doubles.
package upstream

import "context"

// Credentials is everything needed to authenticate one upstream session as
// a specific browser identity.
type Credentials struct {
	PSID    string
	PSIDTS  string
	Proxy   string            // optional outbound proxy descriptor
	Headers map[string]string // headers captured from the real browser
}

// Reply is the result of one exchange turn: text and/or generated images.
type Reply struct {
	Text   string
	Images [][]byte
}

// Session is one open conversational exchange. Close must be called on
// every session that Open returned, on every path.
type Session interface {
	// Exchange sends one turn. files are local paths attached to the
	// turn; wantImages requests image-capable generation.
	Exchange(ctx context.Context, prompt string, files []string, wantImages bool) (*Reply, error)

	Close() error
}

// Opener opens sessions. The relay holds exactly one Opener and acquires a
// fresh session per attempt so retries double as account-health fallback.
type Opener interface {
	Open(ctx context.Context, creds Credentials) (Session, error)
}
