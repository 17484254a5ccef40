package receiver

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPReceiver fetches emails over IMAP/IMAPS.
type IMAPReceiver struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	folder   string
	logger   *slog.Logger
}

// NewIMAP creates a new IMAP receiver.
func NewIMAP(host string, port int, username, password string, useTLS bool, folder string, logger *slog.Logger) *IMAPReceiver {
	if folder == "" {
		folder = "INBOX"
	}
	return &IMAPReceiver{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		folder:   folder,
		logger:   logger,
	}
}

func (r *IMAPReceiver) Fetch(ctx context.Context) ([]RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(r.host, strconv.Itoa(r.port))

	var client *imapclient.Client
	var err error

	if r.useTLS {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: r.host},
		})
	} else {
		client, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: imap dial %s: %v", ErrConnection, addr, err)
	}
	defer client.Close()

	if err := client.Login(r.username, r.password).Wait(); err != nil {
		return nil, fmt.Errorf("%w: imap login %s: %v", ErrAuth, r.username, err)
	}
	defer client.Logout()

	selected, err := client.Select(r.folder, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("%w: imap select %s: %v", ErrConnection, r.folder, err)
	}

	if selected.NumMessages == 0 {
		r.logger.Info("mailbox is empty", "folder", r.folder)
		return nil, nil
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(1, selected.NumMessages)

	fetchOptions := &imap.FetchOptions{
		Envelope: true,
		UID:      true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: true},
		},
	}

	buffers, err := client.Fetch(seqSet, fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("%w: imap fetch: %v", ErrConnection, err)
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}

	messages := make([]RawMessage, 0, len(buffers))
	for _, buf := range buffers {
		content := buf.FindBodySection(bodySection)
		if len(content) == 0 {
			r.logger.Warn("message has no body section, skipping", "seq", buf.SeqNum)
			continue
		}

		msg := RawMessage{
			UID:     fmt.Sprintf("%d", buf.UID),
			Content: content,
		}
		if buf.Envelope != nil {
			msg.MessageID = buf.Envelope.MessageID
			msg.Date = buf.Envelope.Date
		}
		messages = append(messages, msg)
	}

	r.logger.Info("fetched mailbox", "folder", r.folder, "count", len(messages))
	return messages, nil
}
