package remote

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/yuchilin/plannerd/internal/errors"
	"github.com/yuchilin/plannerd/internal/models"
)

// MemoryStore is an in-memory DocumentStore. It is the reference for
// the merge semantics and backs tests; production uses HTTPStore.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string]*models.SyncDocument // key: collection/userID
	subs     map[string]map[int]ChangeHandler
	nextID   int
	failWith error
	clock    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string]*models.SyncDocument),
		subs:  make(map[string]map[int]ChangeHandler),
		clock: time.Now,
	}
}

// SetClock overrides the server clock, for tests.
func (m *MemoryStore) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// FailWith makes every Get and Merge return err until reset with nil.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func key(collection, userID string) string {
	return collection + "/" + userID
}

// Get implements DocumentStore.Get.
func (m *MemoryStore) Get(ctx context.Context, collection, userID string) (*models.SyncDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return nil, m.failWith
	}

	doc, ok := m.docs[key(collection, userID)]
	if !ok {
		return nil, nil
	}
	copy := *doc
	return &copy, nil
}

// Merge implements DocumentStore.Merge: field-level shallow merge of
// the data payload (incoming fields win, absent fields keep remote
// values) with a server-assigned sync timestamp.
//
// Subscribers are notified on a separate goroutine, never on the
// merger's: the websocket transport delivers changes from its read
// loop, and callers (the sync engine in particular) hold per-document
// locks across Merge that the change handler re-acquires.
func (m *MemoryStore) Merge(ctx context.Context, collection, userID string, doc *models.SyncDocument) (*models.SyncDocument, error) {
	m.mu.Lock()

	if m.failWith != nil {
		err := m.failWith
		m.mu.Unlock()
		return nil, err
	}

	k := key(collection, userID)
	merged := models.SyncDocument{
		ID:        userID,
		Data:      doc.Data,
		UpdatedAt: doc.UpdatedAt,
	}

	if existing, ok := m.docs[k]; ok {
		merged.Data = mergeFields(existing.Data, doc.Data)
	}

	syncedAt := m.clock().UnixMilli()
	merged.SyncedAt = &syncedAt

	m.docs[k] = &merged

	handlers := make([]ChangeHandler, 0, len(m.subs[k]))
	for _, h := range m.subs[k] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	notify := merged
	go func() {
		for _, h := range handlers {
			h(&notify)
		}
	}()

	copy := merged
	return &copy, nil
}

// Subscribe implements DocumentStore.Subscribe.
func (m *MemoryStore) Subscribe(ctx context.Context, collection, userID string, h ChangeHandler) (CancelFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(collection, userID)
	if m.subs[k] == nil {
		m.subs[k] = make(map[int]ChangeHandler)
	}
	id := m.nextID
	m.nextID++
	m.subs[k][id] = h

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[k], id)
	}, nil
}

// PutDirect stores a document as if another device had written it,
// notifying subscribers before returning. Used to simulate
// remote-originated changes; tests rely on the synchronous delivery.
func (m *MemoryStore) PutDirect(collection, userID string, doc *models.SyncDocument) {
	m.mu.Lock()
	k := key(collection, userID)
	copy := *doc
	m.docs[k] = &copy

	handlers := make([]ChangeHandler, 0, len(m.subs[k]))
	for _, h := range m.subs[k] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	notify := copy
	for _, h := range handlers {
		h(&notify)
	}
}

// mergeFields shallow-merges two JSON objects: keys present in incoming
// win, keys only in existing survive. Non-object payloads fall back to
// the incoming value wholesale.
func mergeFields(existing, incoming json.RawMessage) json.RawMessage {
	var base, overlay map[string]json.RawMessage
	if err := json.Unmarshal(existing, &base); err != nil {
		return incoming
	}
	if err := json.Unmarshal(incoming, &overlay); err != nil {
		return incoming
	}

	for k, v := range overlay {
		base[k] = v
	}

	merged, err := json.Marshal(base)
	if err != nil {
		return incoming
	}
	return merged
}

// ErrNetworkDown is a convenience error for tests simulating an
// unreachable remote.
var ErrNetworkDown = apperrors.New(apperrors.ErrNetwork, "remote unreachable")
