// Package credstore manages the credential directory tree: one directory
// per session holding the transport's key material and a metadata.json
// file written by the session manager.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yndnr/wamesh-go/internal/core/domain"
)

const (
	// MetadataFile is the manager-owned file inside each session directory.
	MetadataFile = "metadata.json"
	// CredentialsFile holds the transport's key material.
	CredentialsFile = "creds.json"

	dirPerm  = 0o700
	filePerm = 0o600
)

// Store is a filesystem credential store rooted at a sessions directory.
type Store struct {
	root          string
	backup        Backup
	backupTimeout time.Duration
	mirror        *mirror
	log           *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithBackup mirrors every persisted bundle to b.
func WithBackup(b Backup) Option {
	return func(s *Store) { s.backup = b }
}

// WithBackupTimeout bounds each backup upload or delete. Zero keeps
// DefaultBackupTimeout.
func WithBackupTimeout(d time.Duration) Option {
	return func(s *Store) { s.backupTimeout = d }
}

// WithLogger sets the logger used for backup failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates the root directory if needed and returns a Store.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("sessions directory is empty")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}
	s := &Store{root: root, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.backupTimeout <= 0 {
		s.backupTimeout = DefaultBackupTimeout
	}
	if s.backup != nil {
		s.mirror = newMirror(s)
	}
	return s, nil
}

// Root returns the sessions directory.
func (s *Store) Root() string { return s.root }

// Path returns the credential directory of sessionID.
func (s *Store) Path(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// ReadMetadata reads metadata.json of sessionID. It returns
// domain.ErrMetadataNotFound when the file is absent and
// domain.ErrMetadataCorrupt when it cannot be decoded.
func (s *Store) ReadMetadata(ctx context.Context, sessionID string) (domain.Metadata, error) {
	var meta domain.Metadata
	data, err := os.ReadFile(filepath.Join(s.Path(sessionID), MetadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, domain.ErrMetadataNotFound.WithDetails("session_id: " + sessionID)
		}
		return meta, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, domain.ErrMetadataCorrupt.Wrap(err)
	}
	return meta, nil
}

// WriteMetadata atomically writes metadata.json of sessionID, creating the
// directory if needed. With a backup configured, an upload of the bundle is
// queued; it does not run on the caller's goroutine.
func (s *Store) WriteMetadata(ctx context.Context, sessionID string, meta domain.Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return s.writeFile(sessionID, MetadataFile, data)
}

// WriteCredentials atomically replaces the transport key material of
// sessionID and queues a backup upload like WriteMetadata.
func (s *Store) WriteCredentials(ctx context.Context, sessionID string, data []byte) error {
	return s.writeFile(sessionID, CredentialsFile, data)
}

func (s *Store) writeFile(sessionID, name string, data []byte) error {
	dir := s.Path(sessionID)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	if err := WriteFileAtomic(filepath.Join(dir, name), data); err != nil {
		return err
	}
	if s.mirror != nil {
		s.mirror.enqueue(mirrorJob{op: opPut, sessionID: sessionID})
	}
	return nil
}

// DeleteDirectory removes the credential directory of sessionID. A missing
// directory is not an error. The backup copy is deleted in the background.
func (s *Store) DeleteDirectory(ctx context.Context, sessionID string) error {
	if err := os.RemoveAll(s.Path(sessionID)); err != nil {
		return fmt.Errorf("remove session directory: %w", err)
	}
	if s.mirror != nil {
		s.mirror.enqueue(mirrorJob{op: opDelete, sessionID: sessionID})
	}
	return nil
}

// Flush waits until every backup operation queued so far has been applied.
func (s *Store) Flush(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}
	return s.mirror.flush(ctx)
}

// Close drains pending backup operations. Writes after Close still reach
// the local directory but are no longer mirrored.
func (s *Store) Close(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}
	return s.mirror.close(ctx)
}

// ListDirectories returns the session IDs that have a directory under the
// root, sorted. Files and hidden entries are skipped.
func (s *Store) ListDirectories(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// WriteFileAtomic writes data to path through a temporary file and rename.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
