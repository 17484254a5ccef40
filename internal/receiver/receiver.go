package receiver

import (
	"context"
	"errors"
	"time"
)

// Fatal fetch errors. Callers branch with errors.Is; both abort the run.
var (
	ErrAuth       = errors.New("mailbox authentication failed")
	ErrConnection = errors.New("mailbox connection failed")
)

// RawMessage is one message as fetched from the mailbox.
type RawMessage struct {
	MessageID string    // Message-ID reported by the server, may be empty
	UID       string    // server-side identifier (IMAP UID or POP3 sequence)
	Date      time.Time // envelope date, zero if the server did not report one
	Content   []byte    // raw RFC 5322 message bytes
}

// Receiver fetches the complete contents of a mailbox folder.
type Receiver interface {
	// Fetch connects, authenticates, retrieves every message in the folder
	// and returns them in mailbox order. The connection is scoped to the
	// call and closed on all paths. No filtering happens here; deciding
	// which messages are new is the caller's job.
	Fetch(ctx context.Context) ([]RawMessage, error)
}
