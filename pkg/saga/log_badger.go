package saga

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Badger key layout. Sequence numbers are zero-padded so the message keys of
// one saga sort in append order.
//
//	saga:{id}:msg:{seq}         one message (seq padded to 20 digits)
//	saga:{id}:head              next sequence number, big-endian uint64
//	saga:index:id:{id}          active-saga marker
//	saga:index:parent:{p}:{id}  child link, written at StartSaga
const (
	badgerMsgKeyFmt       = "saga:%s:msg:%020d"
	badgerMsgPrefixFmt    = "saga:%s:msg:"
	badgerHeadKeyFmt      = "saga:%s:head"
	badgerIDIndexPrefix   = "saga:index:id:"
	badgerParentPrefixFmt = "saga:index:parent:%s:"
)

// Appends to one saga contend on its head key; a conflicted transaction is
// retried after re-reading the sequence.
const badgerAppendRetries = 3

// BadgerLog stores saga message sequences in a Badger key-value database.
// One key per message keeps appends O(1) regardless of how long a saga's
// history grows, and lets readers page through it.
type BadgerLog struct {
	db     *badger.DB
	ownsDB bool
}

// BadgerLogOption configures OpenBadgerLog.
type BadgerLogOption func(*badger.Options)

// WithSyncWrites makes every append fsync before returning. Slower, but a
// crash cannot lose acknowledged messages.
func WithSyncWrites(sync bool) BadgerLogOption {
	return func(o *badger.Options) { o.SyncWrites = sync }
}

// WithBadgerLogger routes Badger's internal logging. The default is silence.
func WithBadgerLogger(l badger.Logger) BadgerLogOption {
	return func(o *badger.Options) { o.Logger = l }
}

// OpenBadgerLog opens (creating if needed) a Badger-backed log at path. The
// returned log owns the database handle; Close releases it.
func OpenBadgerLog(path string, opts ...BadgerLogOption) (*BadgerLog, error) {
	bopts := badger.DefaultOptions(path)
	bopts.Logger = nil
	for _, opt := range opts {
		opt(&bopts)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger log at %s: %w", path, err)
	}
	return &BadgerLog{db: db, ownsDB: true}, nil
}

// NewBadgerLog wraps an already opened database. Close does not close a
// database passed in this way; the opener keeps ownership.
func NewBadgerLog(db *badger.DB) *BadgerLog {
	return &BadgerLog{db: db}
}

func badgerMsgKey(sagaID string, seq uint64) []byte {
	return fmt.Appendf(nil, badgerMsgKeyFmt, sagaID, seq)
}

func badgerMsgPrefix(sagaID string) []byte {
	return fmt.Appendf(nil, badgerMsgPrefixFmt, sagaID)
}

func badgerHeadKey(sagaID string) []byte {
	return fmt.Appendf(nil, badgerHeadKeyFmt, sagaID)
}

func badgerIDKey(sagaID string) []byte {
	return append([]byte(badgerIDIndexPrefix), sagaID...)
}

func badgerParentPrefix(parentID string) []byte {
	return fmt.Appendf(nil, badgerParentPrefixFmt, parentID)
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

// StartSaga creates the message sequence for sagaID. Uniqueness comes from
// the head key: two concurrent creators race on it and the loser observes
// either the winner's key or a transaction conflict.
func (l *BadgerLog) StartSaga(ctx context.Context, sagaID string, job json.RawMessage, parent *ParentRef) error {
	if sagaID == "" {
		return errors.New("saga id is empty")
	}
	msg := NewStartSagaMessage(sagaID, job, parent)
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal start_saga: %w", err)
	}

	create := func(txn *badger.Txn) error {
		_, err := txn.Get(badgerHeadKey(sagaID))
		switch {
		case err == nil:
			return fmt.Errorf("start saga %q: %w", sagaID, ErrSagaExists)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set(badgerMsgKey(sagaID, 0), raw); err != nil {
			return err
		}
		if err := txn.Set(badgerHeadKey(sagaID), encodeSeq(1)); err != nil {
			return err
		}
		if err := txn.Set(badgerIDKey(sagaID), nil); err != nil {
			return err
		}
		if parent != nil && parent.SagaID != "" {
			key := append(badgerParentPrefix(parent.SagaID), sagaID...)
			if err := txn.Set(key, []byte(parent.TaskID)); err != nil {
				return err
			}
		}
		return nil
	}

	err = l.db.Update(create)
	if errors.Is(err, badger.ErrConflict) {
		// The second pass sees the winner's head key and reports ErrSagaExists.
		err = l.db.Update(create)
	}
	return err
}

// LogMessage appends msg to the sequence of msg.SagaID.
func (l *BadgerLog) LogMessage(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Type == MessageTypeStartSaga {
		return errors.New("start_saga messages must go through StartSaga")
	}
	msg = msg.stamped()
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	appendMsg := func(txn *badger.Txn) error {
		item, err := txn.Get(badgerHeadKey(msg.SagaID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("append %s for saga %q: %w", msg.Type, msg.SagaID, ErrSagaNotFound)
		}
		if err != nil {
			return err
		}
		var next uint64
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt head key for saga %q", msg.SagaID)
			}
			next = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return err
		}
		if err := txn.Set(badgerMsgKey(msg.SagaID, next), raw); err != nil {
			return err
		}
		return txn.Set(badgerHeadKey(msg.SagaID), encodeSeq(next+1))
	}

	for attempt := 0; ; attempt++ {
		err := l.db.Update(appendMsg)
		if !errors.Is(err, badger.ErrConflict) || attempt >= badgerAppendRetries {
			return err
		}
	}
}

// Messages returns every message of the saga in append order.
func (l *BadgerLog) Messages(ctx context.Context, sagaID string) ([]Message, error) {
	return l.MessagesPage(ctx, sagaID, 0, 0)
}

// MessagesPage returns up to limit messages starting at offset. Sequence
// numbers are dense, so the read seeks straight to the offset key.
func (l *BadgerLog) MessagesPage(ctx context.Context, sagaID string, offset, limit int) ([]Message, error) {
	if offset < 0 {
		offset = 0
	}
	var msgs []Message
	err := l.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerHeadKey(sagaID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("read saga %q: %w", sagaID, ErrSagaNotFound)
			}
			return err
		}
		prefix := badgerMsgPrefix(sagaID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		msgs = []Message{}
		for it.Seek(badgerMsgKey(sagaID, uint64(offset))); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(msgs) >= limit {
				break
			}
			var msg Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return fmt.Errorf("decode message %s: %w", it.Item().Key(), err)
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// ActiveSagaIDs returns all saga ids. Badger iterates keys in sorted order,
// so the result is deterministic.
func (l *BadgerLog) ActiveSagaIDs(ctx context.Context) ([]string, error) {
	return l.scanIndex([]byte(badgerIDIndexPrefix))
}

// ChildSagaIDs returns the ids of sagas created with parentSagaID as parent.
func (l *BadgerLog) ChildSagaIDs(ctx context.Context, parentSagaID string) ([]string, error) {
	return l.scanIndex(badgerParentPrefix(parentSagaID))
}

func (l *BadgerLog) scanIndex(prefix []byte) ([]string, error) {
	ids := []string{}
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteSaga removes the saga's messages, head key and index entries.
// Deleting an absent saga is a no-op.
func (l *BadgerLog) DeleteSaga(ctx context.Context, sagaID string) error {
	return l.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerHeadKey(sagaID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		// The parent-index entry is recorded on the first message.
		var first Message
		item, err := txn.Get(badgerMsgKey(sagaID, 0))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &first)
			}); err != nil {
				return fmt.Errorf("decode start_saga for %q: %w", sagaID, err)
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		prefix := badgerMsgPrefix(sagaID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		if err := txn.Delete(badgerHeadKey(sagaID)); err != nil {
			return err
		}
		if err := txn.Delete(badgerIDKey(sagaID)); err != nil {
			return err
		}
		if first.ParentSagaID != "" {
			key := append(badgerParentPrefix(first.ParentSagaID), sagaID...)
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the database handle when it was opened by OpenBadgerLog.
func (l *BadgerLog) Close() error {
	if !l.ownsDB {
		return nil
	}
	return l.db.Close()
}

var (
	_ Log      = (*BadgerLog)(nil)
	_ PagedLog = (*BadgerLog)(nil)
)
