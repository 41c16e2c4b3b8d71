package metrics

import (
	"context"
	"encoding/json"

	"github.com/sagalog/sagalog/pkg/saga"
)

// instrumentedLog wraps a saga.Log and counts every appended message by
// type. Reads pass through untouched.
type instrumentedLog struct {
	saga.Log
	manager *Manager
}

// InstrumentLog wraps log so that appends are counted in the
// sagalog_messages_appended_total family. A disabled manager returns log
// unchanged.
func InstrumentLog(log saga.Log, m *Manager) saga.Log {
	if m == nil || !m.enabled {
		return log
	}
	return &instrumentedLog{Log: log, manager: m}
}

func (l *instrumentedLog) StartSaga(ctx context.Context, sagaID string, job json.RawMessage, parent *saga.ParentRef) error {
	if err := l.Log.StartSaga(ctx, sagaID, job, parent); err != nil {
		return err
	}
	l.manager.RecordMessageAppended(string(saga.MessageTypeStartSaga))
	return nil
}

func (l *instrumentedLog) LogMessage(ctx context.Context, msg saga.Message) error {
	if err := l.Log.LogMessage(ctx, msg); err != nil {
		return err
	}
	l.manager.RecordMessageAppended(string(msg.Type))
	return nil
}

// MessagesPage forwards to the wrapped backend when it supports windowed
// reads, so the wrapper stays paging-transparent.
func (l *instrumentedLog) MessagesPage(ctx context.Context, sagaID string, offset, limit int) ([]saga.Message, error) {
	if paged, ok := l.Log.(saga.PagedLog); ok {
		return paged.MessagesPage(ctx, sagaID, offset, limit)
	}
	msgs, err := l.Log.Messages(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(msgs) {
		return []saga.Message{}, nil
	}
	msgs = msgs[offset:]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[:limit]
	}
	return msgs, nil
}
