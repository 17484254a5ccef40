package parser

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/mailledger/mailledger/internal/receiver"
)

// ErrKeyDerivation means a message carried no usable header or body data at
// all. Such input is corrupt and the message is skipped, not fatal.
var ErrKeyDerivation = errors.New("cannot derive identity key")

var driveLinkRe = regexp.MustCompile(`https://drive\.google\.com[^\s<>"']+`)

// Date header formats tried after the standard parse fails. Real mailboxes
// contain all of these.
var dateFallbackFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
}

// Parse converts one raw message into an EmailRecord. It is lossy but
// deterministic: the same raw bytes always produce the same record, with the
// single exception of an estimated date, which uses now and is excluded from
// the identity key.
func Parse(raw receiver.RawMessage, now time.Time) (*EmailRecord, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw.Content))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer reader.Close()

	rec := &EmailRecord{}

	rec.Sender = senderOf(reader.Header)
	if subject, err := reader.Header.Subject(); err == nil {
		rec.Subject = strings.TrimSpace(subject)
	} else {
		rec.Subject = strings.TrimSpace(reader.Header.Get("Subject"))
	}

	rec.Date = headerDate(reader.Header)
	if rec.Date.IsZero() {
		rec.Date = raw.Date
	}
	if rec.Date.IsZero() {
		rec.Date = now
		rec.DateEstimated = true
	}

	textBody, htmlBody, attachments := walkParts(reader)
	rec.Attachments = disambiguate(attachments)

	rec.Body = sanitizeBody(textBody)
	if rec.Body == "" && htmlBody != "" {
		rec.Body = sanitizeBody(htmlToText(htmlBody))
	}

	rec.BodyLinks = harvestLinks(textBody, htmlBody)

	messageID := raw.MessageID
	if id, err := reader.Header.MessageID(); err == nil && id != "" {
		messageID = id
	}

	key, err := deriveKey(messageID, rec)
	if err != nil {
		return nil, err
	}
	rec.IdentityKey = key

	return rec, nil
}

func senderOf(h mail.Header) string {
	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		return addrs[0].String()
	}
	return strings.TrimSpace(h.Get("From"))
}

func headerDate(h mail.Header) time.Time {
	if date, err := h.Date(); err == nil && !date.IsZero() {
		return date
	}
	raw := strings.TrimSpace(h.Get("Date"))
	if raw == "" {
		return time.Time{}
	}
	// Drop a trailing comment like "(UTC)" before retrying.
	if i := strings.Index(raw, " ("); i != -1 {
		raw = strings.TrimSpace(raw[:i])
	}
	for _, layout := range dateFallbackFormats {
		if date, err := time.Parse(layout, raw); err == nil {
			return date
		}
	}
	return time.Time{}
}

// walkParts iterates the flattened MIME parts. Text bodies keep the first
// occurrence of each kind; everything with a filename that is not a text
// body becomes an attachment.
func walkParts(reader *mail.Reader) (textBody, htmlBody string, attachments []Attachment) {
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Tolerate truncated or malformed trailing parts.
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			switch {
			case strings.HasPrefix(ct, "text/plain") && textBody == "":
				if body, err := io.ReadAll(part.Body); err == nil {
					textBody = string(body)
				}
			case strings.HasPrefix(ct, "text/html") && htmlBody == "":
				if body, err := io.ReadAll(part.Body); err == nil {
					htmlBody = string(body)
				}
			default:
				// Inline parts with a filename (pasted images and the
				// like) are kept as attachments.
				_, params, _ := h.ContentDisposition()
				if filename := params["filename"]; filename != "" {
					if data, err := io.ReadAll(part.Body); err == nil {
						attachments = append(attachments, Attachment{
							Filename:    filename,
							ContentType: ct,
							Data:        data,
						})
					}
				}
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			ct, _, _ := h.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			attachments = append(attachments, Attachment{
				Filename:    filename,
				ContentType: ct,
				Data:        data,
			})
		}
	}
	return textBody, htmlBody, attachments
}

// disambiguate gives every attachment a unique, non-empty filename within
// the message. Collisions get " (n)" before the extension, n starting at 2,
// so no attachment is dropped or overwritten.
func disambiguate(attachments []Attachment) []Attachment {
	seen := make(map[string]int, len(attachments))
	for i := range attachments {
		name := attachments[i].Filename
		if name == "" {
			name = fmt.Sprintf("attachment-%d", i+1)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			ext := path.Ext(name)
			name = fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
			seen[name]++
		}
		attachments[i].Filename = name
	}
	return attachments
}

func sanitizeBody(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(s)
}

func harvestLinks(bodies ...string) []string {
	var links []string
	seen := make(map[string]struct{})
	for _, body := range bodies {
		for _, link := range driveLinkRe.FindAllString(body, -1) {
			if _, dup := seen[link]; dup {
				continue
			}
			seen[link] = struct{}{}
			links = append(links, link)
		}
	}
	return links
}

// deriveKey fingerprints a message. The Message-ID header wins when present;
// otherwise the (sender, subject, date, body length) tuple is hashed. An
// estimated date is excluded so repeated runs agree on the key.
func deriveKey(messageID string, rec *EmailRecord) (string, error) {
	if messageID != "" {
		return hashKey(messageID), nil
	}
	if rec.Sender == "" && rec.Subject == "" && rec.Body == "" && rec.DateEstimated {
		return "", ErrKeyDerivation
	}
	date := ""
	if !rec.DateEstimated {
		date = rec.Date.UTC().Format(time.RFC3339)
	}
	parts := strings.Join([]string{
		rec.Sender,
		rec.Subject,
		date,
		strconv.Itoa(len(rec.Body)),
	}, "\x00")
	return hashKey(parts), nil
}

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
