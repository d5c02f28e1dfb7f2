package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/yndnr/wamesh-go/internal/core/domain"
	"github.com/yndnr/wamesh-go/internal/storage/credstore"
)

func writeRaw(t *testing.T, store *credstore.Store, id, content string) {
	t.Helper()
	dir := store.Path(id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if content == "" {
		return
	}
	if err := os.WriteFile(filepath.Join(dir, credstore.MetadataFile), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestRestoreSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := time.Date(2023, 6, 1, 8, 0, 0, 0, time.UTC)

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := h.store.WriteMetadata(ctx, id, domain.Metadata{ClientID: "acct-" + id, CreatedAt: created}); err != nil {
			t.Fatal(err)
		}
	}
	writeRaw(t, h.store, "s4", "{corrupt")

	res, err := h.m.RestoreSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}

	sort.Strings(res.Restored)
	if len(res.Restored) != 4 {
		t.Fatalf("expected 4 restored, got %v", res.Restored)
	}
	if len(res.Degraded) != 1 || res.Degraded[0] != "s4" {
		t.Errorf("expected s4 degraded, got %v", res.Degraded)
	}
	if len(res.Failed) != 0 {
		t.Errorf("expected no failures, got %+v", res.Failed)
	}

	for _, id := range []string{"s1", "s2", "s3"} {
		rec, err := h.m.GetSession(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if rec.ClientID != "acct-"+id {
			t.Errorf("%s: expected client acct-%s, got %q", id, id, rec.ClientID)
		}
		if !rec.CreatedAt.Equal(created) {
			t.Errorf("%s: expected created_at from metadata, got %v", id, rec.CreatedAt)
		}
		if rec.Status != domain.StatusConnecting {
			t.Errorf("%s: expected connecting, got %s", id, rec.Status)
		}
	}

	rec, err := h.m.GetSession(ctx, "s4")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClientID != domain.UnknownClientID {
		t.Errorf("corrupt metadata should restore as unknown, got %q", rec.ClientID)
	}
	if got := h.metrics.snapshot().restoreErrs; got != 1 {
		t.Errorf("expected 1 restore error, got %d", got)
	}

	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		tr := h.factory.WaitStart(id, 1, waitTimeout)
		if tr == nil {
			t.Fatalf("%s: transport not started", id)
		}
		if tr.CredentialPath != h.store.Path(id) {
			t.Errorf("%s: expected credential path %s, got %s", id, h.store.Path(id), tr.CredentialPath)
		}
	}

	if _, err := os.Stat(h.store.Path("s4")); err != nil {
		t.Errorf("corrupt session directory should be kept: %v", err)
	}
}

func TestRestoreSessions_MissingMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	writeRaw(t, h.store, "bare", "")

	res, err := h.m.RestoreSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Restored) != 1 || len(res.Degraded) != 1 {
		t.Fatalf("expected 1 restored degraded session, got %+v", res)
	}
	rec, err := h.m.GetSession(ctx, "bare")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClientID != domain.UnknownClientID {
		t.Errorf("expected unknown client, got %q", rec.ClientID)
	}
	if got := h.metrics.snapshot().restoreErrs; got != 0 {
		t.Errorf("missing metadata is not a restore error, got %d", got)
	}
}

func TestRestoreSessions_SkipsInvalidAndConflicting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.create(t, "live", "acct-A")
	writeRaw(t, h.store, "live", `{"clientId":"acct-Z"}`)
	writeRaw(t, h.store, "-bad", `{"clientId":"acct-A"}`)
	writeRaw(t, h.store, "ok", `{"clientId":"acct-B"}`)

	res, err := h.m.RestoreSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Restored) != 1 || res.Restored[0] != "ok" {
		t.Errorf("expected only ok restored, got %v", res.Restored)
	}
	if len(res.Failed) != 2 {
		t.Fatalf("expected 2 failures, got %+v", res.Failed)
	}
	for _, f := range res.Failed {
		if !errors.Is(f.Err, domain.ErrSessionRestore) {
			t.Errorf("%s: expected ErrSessionRestore, got %v", f.SessionID, f.Err)
		}
	}

	rec, err := h.m.GetSession(ctx, "live")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClientID != "acct-A" {
		t.Errorf("live session should be untouched, got client %q", rec.ClientID)
	}
	if got := h.metrics.snapshot().restoreErrs; got != 2 {
		t.Errorf("expected 2 restore errors, got %d", got)
	}
}

func TestRestoreSessions_Empty(t *testing.T) {
	h := newHarness(t)
	res, err := h.m.RestoreSessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Restored) != 0 || len(res.Failed) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}
