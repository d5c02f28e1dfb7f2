package service

import (
	"context"
	"errors"
	"time"

	"github.com/yndnr/wamesh-go/internal/core/domain"
	"github.com/yndnr/wamesh-go/internal/events"
	"github.com/yndnr/wamesh-go/internal/telemetry/logger"
)

// MessageService sends messages through the SessionManager and records
// every attempt in the message log.
type MessageService struct {
	sessions  *SessionManager
	store     MessageLogStore
	publisher EventPublisher
	metrics   Metrics
	now       func() time.Time
}

// NewMessageService creates a MessageService. publisher and metrics may be nil.
func NewMessageService(sessions *SessionManager, store MessageLogStore, publisher EventPublisher, metrics Metrics) *MessageService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &MessageService{
		sessions:  sessions,
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Send delivers req and records the outcome. The send error, if any, is
// returned unchanged; a failure to record the attempt is only logged.
func (s *MessageService) Send(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	resp, sendErr := s.sessions.SendMessage(ctx, req)

	// Requests rejected before reaching a session are not attempts.
	if sendErr != nil && errors.Is(sendErr, domain.ErrMissingArgument) {
		return nil, sendErr
	}

	entry := &domain.MessageLog{
		SessionID: req.SessionID,
		To:        req.To,
		Message:   req.Message,
		Status:    domain.MessageSent,
		Timestamp: s.now(),
	}
	if resp != nil {
		entry.ClientID = resp.ClientID
		entry.Timestamp = resp.SentAt
	} else if rec, err := s.sessions.GetSession(ctx, req.SessionID); err == nil {
		entry.ClientID = rec.ClientID
	}
	if sendErr != nil {
		entry.Status = domain.MessageFailed
		entry.Error = sendErr.Error()
	}
	entry.ID = domain.NewMessageLogID(entry.Timestamp)

	if err := s.store.Append(ctx, entry); err != nil {
		logger.L(ctx).Error("record message attempt failed", "session_id", req.SessionID, "error", err)
	}
	s.metrics.MessageRecorded(entry.Status)

	topic := events.TopicMessageSent
	if entry.Status == domain.MessageFailed {
		topic = events.TopicMessageFailed
	}
	if err := s.publisher.Publish(ctx, topic, events.MessageAttempted{
		SessionID: entry.SessionID,
		ClientID:  entry.ClientID,
		To:        entry.To,
		Status:    string(entry.Status),
		Error:     entry.Error,
		Timestamp: entry.Timestamp,
	}); err != nil {
		logger.L(ctx).Warn("publish message event failed", "error", err)
	}

	return resp, sendErr
}

// Logs lists recorded attempts matching filter.
func (s *MessageService) Logs(ctx context.Context, filter domain.LogFilter) ([]*domain.MessageLog, error) {
	logs, err := s.store.List(ctx, filter.Normalize())
	if err != nil {
		return nil, domain.ErrMessageLogStore.Wrap(err)
	}
	return logs, nil
}

// Stats counts recorded attempts matching filter.
func (s *MessageService) Stats(ctx context.Context, filter domain.LogFilter) (domain.LogStats, error) {
	stats, err := s.store.Stats(ctx, filter)
	if err != nil {
		return domain.LogStats{}, domain.ErrMessageLogStore.Wrap(err)
	}
	return stats, nil
}

// CleanOld deletes attempts older than daysToKeep days.
func (s *MessageService) CleanOld(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		daysToKeep = domain.DefaultRetentionDays
	}
	n, err := s.store.CleanOld(ctx, daysToKeep)
	if err != nil {
		return 0, domain.ErrMessageLogStore.Wrap(err)
	}
	return n, nil
}

// RunCleaner calls CleanOld every interval until ctx is done.
func (s *MessageService) RunCleaner(ctx context.Context, interval time.Duration, daysToKeep int) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.CleanOld(ctx, daysToKeep)
			if err != nil {
				logger.L(ctx).Error("message log cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.L(ctx).Info("message log cleaned", "deleted", n, "days_to_keep", daysToKeep)
			}
		}
	}
}
