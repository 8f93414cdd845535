package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

// Runs against a real database when PROPDESK_TEST_DATABASE_URL is set.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("PROPDESK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("PROPDESK_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM drafts`); err != nil {
		t.Fatalf("reset drafts: %v", err)
	}
	return db
}

func TestDraftRoundTrip(t *testing.T) {
	db := openTestDB(t)
	drafts := NewDraftStore(db)
	ctx := context.Background()

	form := json.RawMessage(`{"buyer":{"name":"Ana Souza"},"terms":{"price":480000}}`)
	if err := drafts.SaveDraft(ctx, "11144477735", form, 2); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := drafts.LoadDraft(ctx, "11144477735")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatal("expected a draft")
	}
	if got.Stage != 2 {
		t.Fatalf("stage = %d, want 2", got.Stage)
	}

	var decoded map[string]any
	if err := json.Unmarshal(got.Form, &decoded); err != nil {
		t.Fatalf("draft form is not valid JSON: %v", err)
	}

	if err := drafts.ClearDraft(ctx, "11144477735"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := drafts.LoadDraft(ctx, "11144477735"); ok {
		t.Fatal("draft should be gone after clear")
	}
	if err := drafts.ClearDraft(ctx, "11144477735"); err != nil {
		t.Fatalf("second clear should be a no-op: %v", err)
	}
}

func TestSaveDraftOverwrites(t *testing.T) {
	db := openTestDB(t)
	drafts := NewDraftStore(db)
	ctx := context.Background()

	if err := drafts.SaveDraft(ctx, "11144477735", json.RawMessage(`{"v":1}`), 1); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := drafts.SaveDraft(ctx, "11144477735", json.RawMessage(`{"v":2}`), 9); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, ok, err := drafts.LoadDraft(ctx, "11144477735")
	if err != nil || !ok {
		t.Fatalf("load = (%v, %v)", ok, err)
	}
	if !strings.Contains(string(got.Form), `"v": 2`) && !strings.Contains(string(got.Form), `"v":2`) {
		t.Fatalf("form = %s, want the second write", got.Form)
	}
	if got.Stage != 1 {
		t.Fatalf("out-of-range stage marker should clamp to 1, got %d", got.Stage)
	}
}
