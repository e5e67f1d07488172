// Package store holds the in-memory, ordered message cache of one open
// conversation.
package store

import (
	"chatgogo/messenger/internal/models"
	"iter"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const placeholderPrefix = "pending:"

// Key addresses an entry in a MessageStore. Confirmed messages are keyed
// by their decimal server id, pending ones by a "pending:" placeholder,
// so the two key spaces can never collide.
type Key string

// ServerKey is the key of a server-confirmed message.
func ServerKey(id uint64) Key {
	return Key(strconv.FormatUint(id, 10))
}

// IsPlaceholder reports whether k was issued for an unconfirmed message.
func (k Key) IsPlaceholder() bool {
	return strings.HasPrefix(string(k), placeholderPrefix)
}

func newPlaceholderKey() Key {
	return Key(placeholderPrefix + uuid.NewString())
}

type entry struct {
	key Key
	msg models.Message
	rev Generation
}

// Generation counts writes to a MessageStore. Capture it before fetching
// history and pass it to Merge.
type Generation uint64

func entryLess(a, b entry) bool {
	if models.Less(a.msg, b.msg) {
		return true
	}
	if models.Less(b.msg, a.msg) {
		return false
	}
	return a.key < b.key
}

// MessageStore is an ordered, id-deduplicated view of a conversation.
// Entries are kept sorted by (createdAt, id). All methods are safe for
// concurrent use; the live channel, the sender and the revalidator all
// write through it.
type MessageStore struct {
	mu      sync.Mutex
	entries []entry
	closed  bool

	gen Generation
	// removed records when confirmed ids were removed, so a history
	// fetched earlier cannot bring them back.
	removed map[uint64]Generation
}

// New returns an empty store.
func New() *MessageStore {
	return &MessageStore{removed: make(map[uint64]Generation)}
}

// Generation returns the current write counter.
func (s *MessageStore) Generation() Generation {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.gen
}

// Insert adds msg, replacing any entry with the same server id. A message
// without an id gets a fresh placeholder key and PENDING status. The key
// is returned; it is empty if the store has been closed.
func (s *MessageStore) Insert(msg models.Message) Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ""
	}
	var key Key
	if msg.Confirmed() {
		key = ServerKey(msg.ID)
		s.removeLocked(key)
	} else {
		key = newPlaceholderKey()
		if msg.Status == "" {
			msg.Status = models.StatusPending
		}
	}
	s.insertLocked(entry{key: key, msg: msg, rev: s.bumpLocked()})
	return key
}

// InsertIfAbsent adds a server-confirmed msg unless an entry with the same
// id already exists. It reports whether the store changed.
func (s *MessageStore) InsertIfAbsent(msg models.Message) bool {
	if !msg.Confirmed() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	key := ServerKey(msg.ID)
	if s.indexLocked(key) >= 0 {
		return false
	}
	s.insertLocked(entry{key: key, msg: msg, rev: s.bumpLocked()})
	return true
}

// Reconcile replaces the placeholder entry with the authoritative server
// message. If the server id is already present (the live echo arrived
// first) the placeholder is dropped and the existing entry replaced, so
// exactly one entry remains. On a closed store it does nothing.
func (s *MessageStore) Reconcile(placeholder Key, server models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !server.Confirmed() {
		return false
	}
	server.Status = models.StatusSent

	s.removeLocked(placeholder)
	key := ServerKey(server.ID)
	s.removeLocked(key)
	s.insertLocked(entry{key: key, msg: server, rev: s.bumpLocked()})
	return true
}

// Remove drops the entry under key and reports whether one existed.
func (s *MessageStore) Remove(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.removeLocked(key) {
		return false
	}
	rev := s.bumpLocked()
	if !key.IsPlaceholder() {
		if id, err := strconv.ParseUint(string(key), 10, 64); err == nil {
			s.removed[id] = rev
		}
	}
	return true
}

// Update applies fn to the confirmed message with the given id. The entry
// is re-sorted afterwards. It reports whether the message was found.
func (s *MessageStore) Update(id uint64, fn func(*models.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	key := ServerKey(id)
	i := s.indexLocked(key)
	if i < 0 {
		return false
	}
	e := s.entries[i]
	s.entries = slices.Delete(s.entries, i, i+1)
	fn(&e.msg)
	e.msg.ID = id
	e.rev = s.bumpLocked()
	s.insertLocked(e)
	return true
}

// MarkDeletedForViewer overlays a per-viewer soft delete on message id.
func (s *MessageStore) MarkDeletedForViewer(id uint64) bool {
	return s.Update(id, func(m *models.Message) {
		m.DeletedForViewer = true
	})
}

// Merge reconciles a history fetched after since was captured with
// Generation. History messages are upserted and confirmed entries missing
// from the history are dropped, except for entries written after since:
// those are newer than the history and are kept as they are. Ids removed
// after since are not re-added. Pending entries are left alone.
func (s *MessageStore) Merge(history []models.Message, since Generation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	seen := make(map[uint64]bool, len(history))
	for _, m := range history {
		if m.Confirmed() {
			seen[m.ID] = true
		}
	}
	s.entries = slices.DeleteFunc(s.entries, func(e entry) bool {
		return e.msg.Confirmed() && e.rev <= since && !seen[e.msg.ID]
	})

	rev := s.bumpLocked()
	for _, m := range history {
		if !m.Confirmed() {
			continue
		}
		if at, ok := s.removed[m.ID]; ok && at > since {
			continue
		}
		key := ServerKey(m.ID)
		if i := s.indexLocked(key); i >= 0 {
			if s.entries[i].rev > since {
				continue
			}
			s.entries = slices.Delete(s.entries, i, i+1)
		}
		s.insertLocked(entry{key: key, msg: m, rev: rev})
	}
	for id, at := range s.removed {
		if at <= since {
			delete(s.removed, id)
		}
	}
}

// Get returns the raw entry under key, without the tombstone overlay.
func (s *MessageStore) Get(key Key) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(key); i >= 0 {
		return s.entries[i].msg, true
	}
	return models.Message{}, false
}

// Find returns the confirmed message with the given id.
func (s *MessageStore) Find(id uint64) (models.Message, bool) {
	return s.Get(ServerKey(id))
}

// Len is the number of entries, tombstones and pending messages included.
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Snapshot returns the ordered sequence of visible messages as of the call.
// The sequence can be ranged over any number of times. Soft-deleted
// messages are yielded as tombstones rather than omitted.
func (s *MessageStore) Snapshot() iter.Seq[models.Message] {
	s.mu.Lock()
	entries := slices.Clone(s.entries)
	s.mu.Unlock()

	return func(yield func(models.Message) bool) {
		for _, e := range entries {
			msg := e.msg
			if msg.DeletedForViewer {
				msg = msg.Tombstone()
			}
			if !yield(msg) {
				return
			}
		}
	}
}

// Messages collects Snapshot into a slice.
func (s *MessageStore) Messages() []models.Message {
	return slices.Collect(s.Snapshot())
}

// Close discards the store. Later mutations are silent no-ops, which lets
// an in-flight send finish after its conversation has been closed.
func (s *MessageStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.entries = nil
	s.removed = nil
}

// Closed reports whether Close has been called.
func (s *MessageStore) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func (s *MessageStore) bumpLocked() Generation {
	s.gen++
	return s.gen
}

func (s *MessageStore) indexLocked(key Key) int {
	return slices.IndexFunc(s.entries, func(e entry) bool { return e.key == key })
}

func (s *MessageStore) removeLocked(key Key) bool {
	i := s.indexLocked(key)
	if i < 0 {
		return false
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	return true
}

func (s *MessageStore) insertLocked(e entry) {
	i, _ := slices.BinarySearchFunc(s.entries, e, func(a, b entry) int {
		switch {
		case entryLess(a, b):
			return -1
		case entryLess(b, a):
			return 1
		}
		return 0
	})
	s.entries = slices.Insert(s.entries, i, e)
}
