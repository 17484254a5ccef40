package sheet

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/mailledger/mailledger/internal/parser"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), srv.Client(),
		"spreadsheet-1", "Log", 3, 2000, discardLogger(),
		option.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	c.retryBase = 10 * time.Millisecond
	return c, srv
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestExistingKeysReadsKeyColumn(t *testing.T) {
	var requestedRange string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedRange = r.URL.Path
		writeJSON(w, map[string]interface{}{
			"values": [][]interface{}{{"key-1"}, {"key-2"}, {""}},
		})
	}))

	keys, err := c.ExistingKeys(context.Background())
	if err != nil {
		t.Fatalf("ExistingKeys failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "key-1" || keys[1] != "key-2" {
		t.Errorf("unexpected keys: %v", keys)
	}
	// 3 link columns put the key in column H.
	if !strings.Contains(requestedRange, "H2") {
		t.Errorf("key column range: %q", requestedRange)
	}
}

func TestExistingKeysRetriesRateLimit(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			writeJSON(w, map[string]interface{}{"error": map[string]interface{}{"code": 429}})
			return
		}
		writeJSON(w, map[string]interface{}{
			"values": [][]interface{}{{"key-1"}},
		})
	}))

	keys, err := c.ExistingKeys(context.Background())
	if err != nil {
		t.Fatalf("ExistingKeys failed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected a retry, got %d attempts", attempts)
	}
	if len(keys) != 1 {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestExistingKeysCreatesMissingWorksheet(t *testing.T) {
	var batchBody map[string]interface{}
	var rows [][]interface{}
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, ":batchUpdate"):
			json.NewDecoder(r.Body).Decode(&batchBody)
			writeJSON(w, map[string]interface{}{})
		case strings.Contains(r.URL.Path, ":append"):
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			values := body["values"].([]interface{})
			rows = append(rows, values[0].([]interface{}))
			writeJSON(w, map[string]interface{}{})
		default:
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]interface{}{"error": map[string]interface{}{
				"code":    400,
				"message": "Unable to parse range: Log!H2:H",
			}})
		}
	}))

	keys, err := c.ExistingKeys(context.Background())
	if err != nil {
		t.Fatalf("ExistingKeys failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("fresh worksheet reported keys: %v", keys)
	}

	if batchBody == nil {
		t.Fatal("missing worksheet was not created")
	}
	reqs := batchBody["requests"].([]interface{})
	add := reqs[0].(map[string]interface{})["addSheet"].(map[string]interface{})
	props := add["properties"].(map[string]interface{})
	if props["title"] != "Log" {
		t.Errorf("created worksheet title: %v", props["title"])
	}

	rec := &parser.EmailRecord{IdentityKey: "k", Date: time.Now()}
	if err := c.Append(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0][0] != "Timestamp" {
		t.Errorf("expected header then data row on created worksheet, got %v", rows)
	}
}

func TestExistingKeysOtherErrorIsFatal(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]interface{}{"error": map[string]interface{}{"code": 403}})
	}))

	if _, err := c.ExistingKeys(context.Background()); err == nil {
		t.Error("expected error on 403")
	}
}

func TestAppendWritesOneRow(t *testing.T) {
	var appends []map[string]interface{}
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			appends = append(appends, body)
		}
		writeJSON(w, map[string]interface{}{})
	}))

	rec := &parser.EmailRecord{
		IdentityKey: "key-1",
		Sender:      "a@example.com",
		Subject:     "hello",
		Date:        time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC),
		Body:        "body",
	}
	if err := c.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if len(appends) != 1 {
		t.Fatalf("expected 1 append call, got %d", len(appends))
	}
	values := appends[0]["values"].([]interface{})
	row := values[0].([]interface{})
	if row[2] != "hello" || row[len(row)-1] != "key-1" {
		t.Errorf("unexpected row: %v", row)
	}
}

func TestAppendFailureWrapsErrWrite(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]interface{}{"error": map[string]interface{}{"code": 403}})
	}))

	err := c.Append(context.Background(), &parser.EmailRecord{Date: time.Now()})
	if !errors.Is(err, ErrWrite) {
		t.Errorf("expected ErrWrite, got %v", err)
	}
}

func TestAppendWritesHeaderOnFreshWorksheet(t *testing.T) {
	var rows [][]interface{}
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			values := body["values"].([]interface{})
			rows = append(rows, values[0].([]interface{}))
			writeJSON(w, map[string]interface{}{})
			return
		}
		// Both the key read and the header probe see an empty sheet.
		writeJSON(w, map[string]interface{}{})
	}))

	if _, err := c.ExistingKeys(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec := &parser.EmailRecord{IdentityKey: "k", Date: time.Now()}
	if err := c.Append(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	if len(rows) != 2 {
		t.Fatalf("expected header + data row, got %d appends", len(rows))
	}
	if rows[0][0] != "Timestamp" {
		t.Errorf("first append is not the header: %v", rows[0])
	}
}
