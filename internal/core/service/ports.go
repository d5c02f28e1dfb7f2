package service

import (
	"context"

	"github.com/yndnr/wamesh-go/internal/core/domain"
)

// CredentialStore manages the per-session credential directories.
//
// Writes and deletes run under the session lock, so implementations keep
// them local and push any remote copy in the background.
type CredentialStore interface {
	Path(sessionID string) string
	ReadMetadata(ctx context.Context, sessionID string) (domain.Metadata, error)
	WriteMetadata(ctx context.Context, sessionID string, meta domain.Metadata) error
	WriteCredentials(ctx context.Context, sessionID string, data []byte) error
	DeleteDirectory(ctx context.Context, sessionID string) error
	ListDirectories(ctx context.Context) ([]string, error)
}

// EventPublisher broadcasts lifecycle events to other processes.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// MessageLogStore persists send attempts.
type MessageLogStore interface {
	Append(ctx context.Context, entry *domain.MessageLog) error
	List(ctx context.Context, filter domain.LogFilter) ([]*domain.MessageLog, error)
	Stats(ctx context.Context, filter domain.LogFilter) (domain.LogStats, error)
	CleanOld(ctx context.Context, daysToKeep int) (int64, error)
}

// Metrics receives lifecycle observations.
type Metrics interface {
	SessionAdded(status domain.Status)
	SessionTransition(from, to domain.Status)
	SessionRemoved(last domain.Status)
	ReconnectAttempt()
	RestoreError()
	MessageRecorded(status domain.MessageStatus)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) error { return nil }

type noopMetrics struct{}

func (noopMetrics) SessionAdded(domain.Status)                     {}
func (noopMetrics) SessionTransition(domain.Status, domain.Status) {}
func (noopMetrics) SessionRemoved(domain.Status)                   {}
func (noopMetrics) ReconnectAttempt()                              {}
func (noopMetrics) RestoreError()                                  {}
func (noopMetrics) MessageRecorded(domain.MessageStatus)           {}
