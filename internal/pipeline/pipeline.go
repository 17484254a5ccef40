// Package pipeline runs one complete pass: fetch, parse, filter, upload,
// append. Strictly sequential; resilience comes from re-invocation plus the
// idempotent duplicate filter, not from retries inside a run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mailledger/mailledger/internal/dedup"
	"github.com/mailledger/mailledger/internal/extract"
	"github.com/mailledger/mailledger/internal/parser"
	"github.com/mailledger/mailledger/internal/receiver"
	"github.com/mailledger/mailledger/internal/sheet"
	"github.com/mailledger/mailledger/internal/storage"
)

// Summary counts what one run did.
type Summary struct {
	Fetched        int // messages in the mailbox
	Parsed         int // messages that produced a record
	Skipped        int // duplicates (logged earlier or within the run)
	Rows           int // rows appended
	UploadFailures int // attachments written as placeholders
}

// Pipeline wires one run's collaborators together.
type Pipeline struct {
	receiver  receiver.Receiver
	log       sheet.RecordLog
	store     storage.Uploader
	extractor extract.Extractor
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Pipeline. extractor may be extract.Disabled{}.
func New(recv receiver.Receiver, log sheet.RecordLog, store storage.Uploader, extractor extract.Extractor, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		receiver:  recv,
		log:       log,
		store:     store,
		extractor: extractor,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one pass to completion. A non-nil error is fatal for the
// run; rows appended before the failure stay durable and their messages are
// not reprocessed next time.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	raws, err := p.receiver.Fetch(ctx)
	if err != nil {
		return sum, fmt.Errorf("fetch mailbox: %w", err)
	}
	sum.Fetched = len(raws)

	// The existing key set must be complete before any record is judged.
	keys, err := p.log.ExistingKeys(ctx)
	if err != nil {
		return sum, fmt.Errorf("read processed set: %w", err)
	}
	keySet := dedup.NewKeySet(keys)

	fetchedAt := p.now()
	records := make([]*parser.EmailRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := parser.Parse(raw, fetchedAt)
		if err != nil {
			p.logger.Warn("unparseable message, skipping",
				"uid", raw.UID,
				"error", err,
			)
			continue
		}
		records = append(records, rec)
	}
	sum.Parsed = len(records)

	fresh := dedup.Filter(keySet, records)
	sum.Skipped = len(records) - len(fresh)

	p.logger.Info("filtered mailbox",
		"fetched", sum.Fetched,
		"new", len(fresh),
		"skipped", sum.Skipped,
	)

	for _, rec := range fresh {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		sum.UploadFailures += p.processAttachments(ctx, rec)

		if err := p.log.Append(ctx, rec); err != nil {
			return sum, fmt.Errorf("append row for %s: %w", rec.IdentityKey, err)
		}
		sum.Rows++
		p.logger.Info("logged message",
			"key", rec.IdentityKey,
			"subject", rec.Subject,
			"attachments", len(rec.Refs),
		)
	}

	return sum, nil
}

// processAttachments uploads rec's attachments and fills FolderLink and
// Refs. Every failure degrades to a placeholder reference; the return value
// is the number of failed uploads.
func (p *Pipeline) processAttachments(ctx context.Context, rec *parser.EmailRecord) int {
	if len(rec.Attachments) == 0 {
		return 0
	}

	folderID, folderLink, err := p.store.CreateFolder(ctx, folderName(rec))
	if err != nil {
		// Fall back to the parent folder rather than dropping uploads.
		p.logger.Warn("folder creation failed, uploading to parent",
			"key", rec.IdentityKey,
			"error", err,
		)
		folderID = ""
	}
	rec.FolderLink = folderLink

	failures := 0
	for _, att := range rec.Attachments {
		link, err := p.store.Upload(ctx, folderID, att.Filename, att.ContentType, att.Data)
		if err != nil {
			p.logger.Warn("attachment upload failed",
				"key", rec.IdentityKey,
				"filename", att.Filename,
				"error", err,
			)
			rec.Refs = append(rec.Refs, parser.AttachmentRef{Filename: att.Filename})
			failures++
			continue
		}
		rec.Refs = append(rec.Refs, parser.AttachmentRef{Filename: att.Filename, Link: link})

		text, err := p.extractor.Extract(ctx, att.Filename, att.ContentType, att.Data)
		if err != nil {
			p.logger.Warn("text extraction failed",
				"filename", att.Filename,
				"error", err,
			)
			continue
		}
		if text != "" {
			rec.Body += fmt.Sprintf("\n[%s: %s]", att.Filename, text)
		}
	}
	return failures
}

// folderName names the per-message attachment folder after the subject,
// falling back to a key prefix for untitled messages.
func folderName(rec *parser.EmailRecord) string {
	name := strings.TrimSpace(rec.Subject)
	if name == "" {
		name = "untitled-" + rec.IdentityKey[:12]
	}
	const maxLen = 100
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return name
}
