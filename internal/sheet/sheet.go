// Package sheet is the tabular log: one appended row per processed message
// in a Google Sheets worksheet. The full set of logged rows is the durable
// "already processed" set for deduplication.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/mailledger/mailledger/internal/parser"
)

// ErrWrite means the log could not be appended to. Fatal for the remaining
// rows of the run; rows already appended stay durable.
var ErrWrite = errors.New("tabular log write failed")

// RecordLog is the processed-message log. The Sheets client below does a
// full-scan key read, which is fine at mailbox volumes; an indexed store
// could replace it behind this interface without touching the pipeline.
type RecordLog interface {
	// ExistingKeys returns every identity key already logged. It must read
	// the log completely before any Append of the same run.
	ExistingKeys(ctx context.Context) ([]string, error)

	// Append writes one row for rec. Rows are only ever appended, never
	// rewritten.
	Append(ctx context.Context, rec *parser.EmailRecord) error
}

const (
	readRetries   = 5
	readBaseDelay = 2 * time.Second
)

// Client appends rows to one worksheet of a Google Sheets document.
type Client struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
	linkColumns   int
	bodyLimit     int
	logger        *slog.Logger

	retryBase   time.Duration
	needsHeader bool
}

// NewClient builds a Sheets-backed RecordLog. httpClient must already carry
// spreadsheet-scoped credentials.
func NewClient(ctx context.Context, httpClient *http.Client, spreadsheetID, sheetName string, linkColumns, bodyLimit int, logger *slog.Logger, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	if linkColumns < 1 {
		linkColumns = 1
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		linkColumns:   linkColumns,
		bodyLimit:     bodyLimit,
		logger:        logger,
		retryBase:     readBaseDelay,
	}, nil
}

// ExistingKeys reads the identity-key column. Rate-limit responses are
// retried with exponential backoff; a missing worksheet tab is created and
// treated as an empty log; anything else is fatal for the run.
func (c *Client) ExistingKeys(ctx context.Context) ([]string, error) {
	col := columnLetter(4 + c.linkColumns)
	readRange := fmt.Sprintf("%s!%s2:%s", c.sheetName, col, col)

	var resp *sheets.ValueRange
	delay := c.retryBase
	for attempt := 1; ; attempt++ {
		var err error
		resp, err = c.svc.Spreadsheets.Values.Get(c.spreadsheetID, readRange).Context(ctx).Do()
		if err == nil {
			break
		}
		if isMissingWorksheet(err) {
			if err := c.createWorksheet(ctx); err != nil {
				return nil, fmt.Errorf("create worksheet %q: %w", c.sheetName, err)
			}
			c.logger.Info("created worksheet", "sheet", c.sheetName)
			c.needsHeader = true
			return nil, nil
		}
		if !isRateLimited(err) || attempt == readRetries {
			return nil, fmt.Errorf("read log keys: %w", err)
		}
		c.logger.Warn("sheets rate limited, backing off", "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	keys := make([]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if key, ok := row[0].(string); ok && key != "" {
			keys = append(keys, key)
		}
	}

	if len(keys) == 0 {
		c.needsHeader = c.worksheetIsEmpty(ctx)
	}

	c.logger.Info("read tabular log", "keys", len(keys))
	return keys, nil
}

// Append writes one row for rec, writing the header row first on a fresh
// worksheet.
func (c *Client) Append(ctx context.Context, rec *parser.EmailRecord) error {
	if c.needsHeader {
		if err := c.appendValues(ctx, headerRow(c.linkColumns)); err != nil {
			return fmt.Errorf("%w: header row: %v", ErrWrite, err)
		}
		c.needsHeader = false
	}
	if err := c.appendValues(ctx, rowValues(rec, c.linkColumns, c.bodyLimit)); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

func (c *Client) appendValues(ctx context.Context, row []interface{}) error {
	_, err := c.svc.Spreadsheets.Values.
		Append(c.spreadsheetID, c.sheetName, &sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// worksheetIsEmpty checks whether even the header row is absent.
func (c *Client) worksheetIsEmpty(ctx context.Context) bool {
	resp, err := c.svc.Spreadsheets.Values.
		Get(c.spreadsheetID, fmt.Sprintf("%s!A1:A1", c.sheetName)).
		Context(ctx).
		Do()
	if err != nil {
		c.logger.Warn("header probe failed, assuming header exists", "error", err)
		return false
	}
	return len(resp.Values) == 0
}

// createWorksheet adds the configured tab to the spreadsheet.
func (c *Client) createWorksheet(ctx context.Context) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: c.sheetName},
			},
		}},
	}
	_, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
	return err
}

// isMissingWorksheet matches the 400 the values API returns when the range
// names a tab that does not exist in the spreadsheet.
func isMissingWorksheet(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest &&
		strings.Contains(apiErr.Message, "Unable to parse range")
}

func isRateLimited(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests
}
