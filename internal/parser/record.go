package parser

import "time"

// Attachment is one decoded attachment part.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// AttachmentRef pairs an attachment filename with its shareable link after
// upload. A failed upload leaves Link empty.
type AttachmentRef struct {
	Filename string
	Link     string
}

// EmailRecord is the structured form of one fetched message, ready for the
// duplicate filter and the tabular log.
type EmailRecord struct {
	IdentityKey string
	Sender      string
	Subject     string
	Date        time.Time
	// DateEstimated marks that the Date header was missing or unparseable
	// and Date carries the fetch time instead.
	DateEstimated bool
	Body          string
	Attachments   []Attachment
	// BodyLinks are file-storage links already present in the message body.
	BodyLinks []string
	// FolderLink and Refs are filled by the attachment uploader.
	FolderLink string
	Refs       []AttachmentRef
}
