package credstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/wamesh-go/internal/core/domain"
)

func TestStore_Metadata(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		_, err := s.ReadMetadata(ctx, "absent")
		if !errors.Is(err, domain.ErrMetadataNotFound) {
			t.Errorf("expected ErrMetadataNotFound, got %v", err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		want := domain.Metadata{ClientID: "acct-A", CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
		if err := s.WriteMetadata(ctx, "s1", want); err != nil {
			t.Fatal(err)
		}
		got, err := s.ReadMetadata(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if got.ClientID != want.ClientID || !got.CreatedAt.Equal(want.CreatedAt) {
			t.Errorf("expected %+v, got %+v", want, got)
		}

		info, err := os.Stat(filepath.Join(s.Path("s1"), MetadataFile))
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != filePerm {
			t.Errorf("expected mode %o, got %o", filePerm, info.Mode().Perm())
		}
	})

	t.Run("corrupt", func(t *testing.T) {
		dir := s.Path("broken")
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, MetadataFile), []byte("{not json"), filePerm); err != nil {
			t.Fatal(err)
		}
		_, err := s.ReadMetadata(ctx, "broken")
		if !errors.Is(err, domain.ErrMetadataCorrupt) {
			t.Errorf("expected ErrMetadataCorrupt, got %v", err)
		}
	})

	t.Run("legacy field names", func(t *testing.T) {
		dir := s.Path("legacy")
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			t.Fatal(err)
		}
		raw := `{"clientId":"acct-B","createdAt":"2023-01-02T03:04:05Z"}`
		if err := os.WriteFile(filepath.Join(dir, MetadataFile), []byte(raw), filePerm); err != nil {
			t.Fatal(err)
		}
		meta, err := s.ReadMetadata(ctx, "legacy")
		if err != nil {
			t.Fatal(err)
		}
		if meta.ClientID != "acct-B" {
			t.Errorf("expected acct-B, got %q", meta.ClientID)
		}
	})
}

func TestStore_ListAndDelete(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, id := range []string{"s2", "s1", ".hidden"} {
		if err := os.MkdirAll(filepath.Join(root, id), dirPerm); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), filePerm); err != nil {
		t.Fatal(err)
	}

	ids, err := s.ListDirectories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"s1", "s2"}) {
		t.Errorf("expected [s1 s2], got %v", ids)
	}

	if err := s.DeleteDirectory(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteDirectory(ctx, "s1"); err != nil {
		t.Errorf("second delete should succeed, got %v", err)
	}
	if _, err := os.Stat(s.Path("s1")); !os.IsNotExist(err) {
		t.Errorf("expected directory removed, stat err = %v", err)
	}
}

func TestNew_EmptyRoot(t *testing.T) {
	if _, err := New(""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

// memBackup is an in-process Backup.
type memBackup struct {
	mu      sync.Mutex
	objects map[string][]byte
	sealer  *Sealer
}

func newMemBackup(t *testing.T) *memBackup {
	t.Helper()
	sealer, err := NewSealer("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	return &memBackup{objects: make(map[string][]byte), sealer: sealer}
}

func (m *memBackup) Sealer() *Sealer { return m.sealer }

func (m *memBackup) Put(_ context.Context, id string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id] = append([]byte(nil), blob...)
	return nil
}

func (m *memBackup) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.objects[id]
	if !ok {
		return nil, ErrBackupNotFound
	}
	return blob, nil
}

func (m *memBackup) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, id)
	return nil
}

func (m *memBackup) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.objects))
	for id := range m.objects {
		ids = append(ids, id)
	}
	return ids, nil
}

func TestStore_BackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	backup := newMemBackup(t)

	src, err := New(t.TempDir(), WithBackup(backup))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = src.Close(context.Background()) })

	// Metadata is persisted at create time, before the session is paired.
	if err := src.WriteMetadata(ctx, "s1", domain.Metadata{ClientID: "acct-A", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	if err := src.WriteCredentials(ctx, "s1", []byte(`{"k":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := src.WriteCredentials(ctx, "s1", []byte(`{"k":2}`)); err != nil {
		t.Fatal(err)
	}
	if err := src.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	blob, err := backup.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("expected backup to be pushed: %v", err)
	}
	if !bytes.HasPrefix(blob, sealMagic) {
		t.Error("backup should be sealed")
	}

	dst, err := New(t.TempDir(), WithBackup(backup))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = dst.Close(context.Background()) })
	restored, err := dst.PullBackups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(restored, []string{"s1"}) {
		t.Fatalf("expected [s1] restored, got %v", restored)
	}

	meta, err := dst.ReadMetadata(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if meta.ClientID != "acct-A" {
		t.Errorf("expected acct-A, got %q", meta.ClientID)
	}
	creds, err := os.ReadFile(filepath.Join(dst.Path("s1"), CredentialsFile))
	if err != nil {
		t.Fatalf("rotated credentials not restored: %v", err)
	}
	if string(creds) != `{"k":2}` {
		t.Errorf("expected latest credentials, got %q", creds)
	}

	// Existing local directories are left alone.
	restored, err = dst.PullBackups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != 0 {
		t.Errorf("expected nothing restored on second pull, got %v", restored)
	}

	if err := dst.DeleteDirectory(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if err := dst.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := backup.Get(ctx, "s1"); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("expected backup deleted with directory, got %v", err)
	}
}

// blockingBackup holds every Put until release is closed.
type blockingBackup struct {
	*memBackup
	started chan struct{}
	release chan struct{}
}

func (b *blockingBackup) Put(ctx context.Context, id string, blob []byte) error {
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.memBackup.Put(ctx, id, blob)
}

func TestStore_BackupDoesNotBlockWriters(t *testing.T) {
	ctx := context.Background()
	backup := &blockingBackup{
		memBackup: newMemBackup(t),
		started:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
	s, err := New(t.TempDir(), WithBackup(backup))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.WriteMetadata(ctx, "s1", domain.Metadata{ClientID: "acct-A"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-backup.started:
	case <-time.After(2 * time.Second):
		t.Fatal("upload was not started")
	}

	// The upload is stuck; local writes and deletes still return at once.
	done := make(chan error, 1)
	go func() {
		if err := s.WriteCredentials(ctx, "s1", []byte(`{"k":1}`)); err != nil {
			done <- err
			return
		}
		done <- s.DeleteDirectory(ctx, "s1")
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("local write blocked behind backup upload")
	}
	if _, err := os.Stat(s.Path("s1")); !os.IsNotExist(err) {
		t.Errorf("directory should be gone, stat err = %v", err)
	}

	close(backup.release)
	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Close(closeCtx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Put for s1 ran first, then the delete removed it.
	if _, err := backup.Get(ctx, "s1"); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("expected no backup after delete, got %v", err)
	}
}

func TestStore_BackupTimeout(t *testing.T) {
	ctx := context.Background()
	backup := &blockingBackup{
		memBackup: newMemBackup(t),
		started:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
	s, err := New(t.TempDir(), WithBackup(backup), WithBackupTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteMetadata(ctx, "s1", domain.Metadata{ClientID: "acct-A"}); err != nil {
		t.Fatal(err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Flush(flushCtx); err != nil {
		t.Fatalf("Flush() should return once the upload times out: %v", err)
	}
	if _, err := backup.Get(ctx, "s1"); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("timed out upload should not be stored, got %v", err)
	}
	if err := s.Close(flushCtx); err != nil {
		t.Fatal(err)
	}
}

func TestStore_NoBackup(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteCredentials(context.Background(), "s1", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Errorf("Flush() without backup = %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Errorf("Close() without backup = %v", err)
	}
}

func TestUnpackDir_RejectsEscapingPaths(t *testing.T) {
	raw := []byte(`{"version":1,"files":{"../evil":"eA=="}}`)
	dir := filepath.Join(t.TempDir(), "s1")
	if err := unpackDir(dir, raw); err == nil {
		t.Fatal("expected error for escaping entry")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("directory should not be created, stat err = %v", err)
	}
}
