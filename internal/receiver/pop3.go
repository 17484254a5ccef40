package receiver

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	pop3client "github.com/knadh/go-pop3"
)

// POP3Receiver fetches emails over POP3/POP3S.
type POP3Receiver struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	logger   *slog.Logger
}

// NewPOP3 creates a new POP3 receiver.
func NewPOP3(host string, port int, username, password string, useTLS bool, logger *slog.Logger) *POP3Receiver {
	return &POP3Receiver{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		logger:   logger,
	}
}

func (r *POP3Receiver) Fetch(ctx context.Context) ([]RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(r.host, strconv.Itoa(r.port))

	client := pop3client.New(pop3client.Opt{
		Host:       r.host,
		Port:       r.port,
		TLSEnabled: r.useTLS,
	})
	conn, err := client.NewConn()
	if err != nil {
		return nil, fmt.Errorf("%w: pop3 dial %s: %v", ErrConnection, addr, err)
	}
	defer conn.Quit()

	if err := conn.Auth(r.username, r.password); err != nil {
		return nil, fmt.Errorf("%w: pop3 auth %s: %v", ErrAuth, r.username, err)
	}

	listing, err := conn.List(0)
	if err != nil {
		return nil, fmt.Errorf("%w: pop3 list: %v", ErrConnection, err)
	}

	messages := make([]RawMessage, 0, len(listing))
	for _, item := range listing {
		rawBuf, err := conn.RetrRaw(item.ID)
		if err != nil {
			r.logger.Warn("pop3 retrieve failed, skipping", "seq", item.ID, "error", err)
			continue
		}
		raw := rawBuf.Bytes()

		uid := item.UID
		if uid == "" {
			uid = strconv.Itoa(item.ID)
		}

		messages = append(messages, RawMessage{
			MessageID: peekMessageID(raw),
			UID:       uid,
			Date:      peekDate(raw),
			Content:   raw,
		})
	}

	r.logger.Info("fetched mailbox", "count", len(messages))
	return messages, nil
}

// peekMessageID parses Message-ID from raw email bytes.
func peekMessageID(raw []byte) string {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	defer reader.Close()
	id, err := reader.Header.MessageID()
	if err != nil {
		return ""
	}
	return id
}

// peekDate parses the Date header from raw email bytes.
func peekDate(raw []byte) time.Time {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return time.Time{}
	}
	defer reader.Close()
	date, err := reader.Header.Date()
	if err != nil {
		return time.Time{}
	}
	return date
}
