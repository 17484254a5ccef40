// Package storage uploads attachment bytes to Google Drive and hands back
// shareable links for the tabular log.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrUpload means one attachment could not be stored. Per-attachment, never
// fatal: the row is still written with a placeholder reference.
var ErrUpload = errors.New("attachment upload failed")

const folderMimeType = "application/vnd.google-apps.folder"

// Uploader stores attachment bytes and returns shareable references.
type Uploader interface {
	// CreateFolder creates a subfolder for one message under the configured
	// parent and returns its id and shareable link.
	CreateFolder(ctx context.Context, name string) (id, link string, err error)

	// Upload stores data as filename under folderID and returns a shareable
	// link. An empty folderID targets the configured parent folder.
	Upload(ctx context.Context, folderID, filename, contentType string, data []byte) (string, error)
}

// DriveStore is the Google Drive implementation of Uploader.
type DriveStore struct {
	svc      *drive.Service
	parentID string
	logger   *slog.Logger
}

// NewDriveStore builds a Drive-backed Uploader rooted at parentID.
// httpClient must already carry drive-scoped credentials.
func NewDriveStore(ctx context.Context, httpClient *http.Client, parentID string, logger *slog.Logger, opts ...option.ClientOption) (*DriveStore, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &DriveStore{svc: svc, parentID: parentID, logger: logger}, nil
}

func (s *DriveStore) CreateFolder(ctx context.Context, name string) (string, string, error) {
	folder, err := s.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{s.parentID},
	}).Fields("id", "webViewLink").Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("%w: create folder %q: %v", ErrUpload, name, err)
	}
	return folder.Id, folder.WebViewLink, nil
}

func (s *DriveStore) Upload(ctx context.Context, folderID, filename, contentType string, data []byte) (string, error) {
	if folderID == "" {
		folderID = s.parentID
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	file, err := s.svc.Files.Create(&drive.File{
		Name:    filename,
		Parents: []string{folderID},
	}).
		Media(bytes.NewReader(data), googleapi.ContentType(contentType)).
		Fields("id", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("%w: upload %q: %v", ErrUpload, filename, err)
	}

	link := file.WebViewLink
	if link == "" {
		link = fileLink(file.Id)
	}
	s.logger.Debug("uploaded attachment", "filename", filename, "id", file.Id)
	return link, nil
}

func fileLink(id string) string {
	return "https://drive.google.com/file/d/" + id + "/view"
}
