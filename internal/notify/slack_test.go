package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/james-alvey-42/nightshift/pkg/models"
)

func testSummary() *models.Summary {
	return &models.Summary{
		TaskID:        "task_0a1b2c3d",
		Description:   "write a haiku about dusk",
		Status:        "success",
		ExecutionTime: 3.0,
		TokenUsage:    465,
		FileChanges:   models.FileChangeSet{Created: []string{"haiku.md"}},
	}
}

func TestSlackSendWithMetadata(t *testing.T) {
	var received slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	meta := NewMetadataStore(t.TempDir())
	if err := meta.Store(&SlackMetadata{
		TaskID:    "task_0a1b2c3d",
		UserID:    "U123",
		ChannelID: "C456",
		ThreadTS:  "1700000000.000100",
	}); err != nil {
		t.Fatal(err)
	}

	sink := NewSlackSink(server.URL, meta)
	if err := sink.Send(testSummary()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if received.Channel != "C456" {
		t.Errorf("Channel = %q", received.Channel)
	}
	if received.ThreadTS != "1700000000.000100" {
		t.Errorf("ThreadTS = %q", received.ThreadTS)
	}
	if len(received.Blocks) == 0 {
		t.Error("no blocks posted")
	}

	// Metadata cleared after a successful post.
	got, err := meta.Get("task_0a1b2c3d")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("metadata not cleared after notification")
	}
}

func TestSlackSendDMRoutesToUser(t *testing.T) {
	var received slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
	}))
	defer server.Close()

	meta := NewMetadataStore(t.TempDir())
	meta.Store(&SlackMetadata{TaskID: "task_0a1b2c3d", UserID: "U123", ChannelID: "D789"})

	sink := NewSlackSink(server.URL, meta)
	if err := sink.Send(testSummary()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if received.Channel != "U123" {
		t.Errorf("DM should route to user, got %q", received.Channel)
	}
}

func TestSlackSendWithoutMetadataSkips(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	sink := NewSlackSink(server.URL, NewMetadataStore(t.TempDir()))
	if err := sink.Send(testSummary()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if called {
		t.Error("sink posted for a task without routing metadata")
	}
}

func TestSlackSendHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer server.Close()

	meta := NewMetadataStore(t.TempDir())
	meta.Store(&SlackMetadata{TaskID: "task_0a1b2c3d", UserID: "U123", ChannelID: "C456"})

	sink := NewSlackSink(server.URL, meta)
	err := sink.Send(testSummary())
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("want HTTP error, got %v", err)
	}

	// Metadata retained on failure.
	if got, _ := meta.Get("task_0a1b2c3d"); got == nil {
		t.Error("metadata should survive a failed post")
	}
}

func TestFormatCompletionBlocks(t *testing.T) {
	summary := testSummary()
	summary.FileChanges.Modified = []string{"a", "b", "c", "d", "e", "f", "g"}
	summary.ResponseText = "Twilight falls softly"

	blocks := FormatCompletionBlocks(summary)
	if len(blocks) != 4 {
		t.Fatalf("got %d blocks", len(blocks))
	}

	var all strings.Builder
	for _, b := range blocks {
		if b.Text != nil {
			all.WriteString(b.Text.Text)
		}
	}
	text := all.String()
	for _, fragment := range []string{"task_0a1b2c3d", "SUCCESS", "haiku.md", "and 2 more", "Twilight falls softly"} {
		if !strings.Contains(text, fragment) {
			t.Errorf("blocks missing %q", fragment)
		}
	}
}

func TestMetadataStoreRoundTrip(t *testing.T) {
	store := NewMetadataStore(t.TempDir())

	if got, err := store.Get("task_00000001"); err != nil || got != nil {
		t.Errorf("absent metadata: got=%v err=%v", got, err)
	}

	meta := &SlackMetadata{TaskID: "task_00000001", UserID: "U1", ChannelID: "C1"}
	if err := store.Store(meta); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get("task_00000001")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "U1" || got.ChannelID != "C1" {
		t.Errorf("round trip = %+v", got)
	}

	if err := store.Delete("task_00000001"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("task_00000001"); err != nil {
		t.Errorf("double delete should be fine: %v", err)
	}
}
