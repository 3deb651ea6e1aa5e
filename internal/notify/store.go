package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vdt/cv-notify/internal/model"
	"github.com/vdt/cv-notify/internal/stream"
)

// remoteTimeout bounds each background read-state write.
const remoteTimeout = 30 * time.Second

// ephemeralPrefix marks locally synthesized ids for pushed events that
// arrived without a server identifier. Such ids never leave the process.
const ephemeralPrefix = "local-"

// newEphemeralID returns a process-local unique notification id.
func newEphemeralID() string {
	return ephemeralPrefix + uuid.NewString()
}

// IsEphemeralID reports whether id was synthesized locally and must not
// be sent to the backend.
func IsEphemeralID(id string) bool {
	return strings.HasPrefix(id, ephemeralPrefix)
}

// Source is the remote collaborator the store reconciles against: the
// authoritative bulk fetch and the read-state sink. All three calls are
// idempotent on the backend.
type Source interface {
	FetchAll(ctx context.Context) ([]model.Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

// Notifier is the optional native desktop side channel. Best-effort,
// never required for correctness.
type Notifier interface {
	Notify(title, message string) error
}

// Options configures optional store collaborators.
type Options struct {
	// Journal, when set, records failed read-state writes for replay on
	// the next bootstrap.
	Journal *Journal

	// Notifier, when set, mirrors each live-pushed event to a native
	// desktop notification.
	Notifier Notifier

	Logger zerolog.Logger
}

// Store is the single in-process source of truth for the notification
// list, unread count, and per-item read state. It reconciles three
// inputs: the bulk fetch at session start, live pushed events, and
// user-driven read actions. Remote persistence is optimistic: local
// state flips first and failures degrade to local-only with a
// diagnostic, never a rollback.
type Store struct {
	mu    sync.Mutex
	items []model.Notification

	// gen is bumped by Clear so results of in-flight remote calls from
	// a previous session apply to nothing.
	gen int

	source   Source
	journal  *Journal
	notifier Notifier
	log      zerolog.Logger

	// now is the arrival-time clock; replaced in tests.
	now func() time.Time
}

// NewStore creates an empty store backed by the given remote source.
func NewStore(source Source, opts Options) *Store {
	return &Store{
		source:   source,
		journal:  opts.Journal,
		notifier: opts.Notifier,
		log:      opts.Logger.With().Str("component", "notify").Logger(),
		now:      time.Now,
	}
}

// Bootstrap populates the store from the authoritative bulk fetch and
// then replays any journaled read-state writes from earlier sessions.
// A failed fetch resolves to an empty list; no error reaches the caller.
func (s *Store) Bootstrap(ctx context.Context) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	items, err := s.source.FetchAll(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("bulk fetch failed, starting with empty list")
		items = nil
	}

	s.mu.Lock()
	if gen != s.gen {
		// Cleared while the fetch was in flight; discard the result.
		s.mu.Unlock()
		return
	}
	s.items = items
	s.mu.Unlock()

	s.replayJournal(ctx, gen)
}

// Ingest turns a normalized push event into a new notification and
// prepends it to the list. This is the only path besides Bootstrap by
// which notifications enter the store. A pushed event whose request id
// already exists still produces a new entry; deduplication is an open
// product question.
func (s *Store) Ingest(ev stream.Event) model.Notification {
	id := ev.RequestID
	if id == "" {
		id = newEphemeralID()
	}

	n := model.Notification{
		ID:        id,
		Title:     ev.Title,
		Message:   ev.Message,
		Kind:      ev.Kind,
		Read:      false,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.items = append([]model.Notification{n}, s.items...)
	s.mu.Unlock()

	if s.notifier != nil {
		go func() {
			if err := s.notifier.Notify(n.Title, n.Message); err != nil {
				s.log.Debug().Err(err).Msg("desktop notification failed")
			}
		}()
	}

	return n
}

// MarkRead optimistically flips the notification to read. Durable ids
// are persisted to the backend in the background; a failure there is
// journaled for later replay and the local flip stands. Ephemeral ids
// are a local-only flip.
func (s *Store) MarkRead(id string) {
	s.mu.Lock()
	found := false
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Read = true
			found = true
			break
		}
	}
	gen := s.gen
	s.mu.Unlock()

	if !found || IsEphemeralID(id) {
		return
	}

	go s.persistMarkRead(id, gen)
}

// MarkAllRead optimistically flips every notification to read and
// issues the bulk remote write in the background.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	for i := range s.items {
		s.items[i].Read = true
	}
	gen := s.gen
	s.mu.Unlock()

	go s.persistMarkAll(gen)
}

// Remove deletes a single notification locally. No remote call.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := s.items[:0]
	for _, n := range s.items {
		if n.ID != id {
			filtered = append(filtered, n)
		}
	}
	s.items = filtered
}

// Clear empties the store, e.g. on sign-out. Results of still-running
// remote calls from before the clear are discarded.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.gen++
}

// Notifications returns a display-ordered snapshot, most recent first.
func (s *Store) Notifications() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// UnreadCount recomputes the number of unread notifications from the
// list; it is never cached separately.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, n := range s.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// persistMarkRead writes a single read flag to the backend, journaling
// the intent when the write fails.
func (s *Store) persistMarkRead(id string, gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()

	err := s.source.MarkRead(ctx, id)
	if err == nil {
		return
	}
	s.log.Warn().Err(err).Str("id", id).Msg("mark-read write failed, local state kept")

	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale || s.journal == nil {
		return
	}

	if jErr := s.journal.RecordMarkRead(ctx, id); jErr != nil {
		s.log.Warn().Err(jErr).Str("id", id).Msg("journaling mark-read failed")
	}
}

// persistMarkAll issues the bulk read-state write, journaling the
// intent when it fails.
func (s *Store) persistMarkAll(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()

	err := s.source.MarkAllRead(ctx)
	if err == nil {
		return
	}
	s.log.Warn().Err(err).Msg("mark-all write failed, local state kept")

	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale || s.journal == nil {
		return
	}

	if jErr := s.journal.RecordMarkAll(ctx); jErr != nil {
		s.log.Warn().Err(jErr).Msg("journaling mark-all failed")
	}
}

// replayJournal retries read-state writes that failed in earlier
// sessions. Entries are removed on success and kept for the next
// session otherwise; replay failures are absorbed.
func (s *Store) replayJournal(ctx context.Context, gen int) {
	if s.journal == nil {
		return
	}

	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale {
		return
	}

	pending, err := s.journal.Pending(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("reading journal failed")
		return
	}

	for _, w := range pending {
		var err error
		switch w.Kind {
		case WriteMarkRead:
			err = s.source.MarkRead(ctx, w.TargetID)
		case WriteMarkAll:
			err = s.source.MarkAllRead(ctx)
		default:
			s.log.Warn().Str("kind", string(w.Kind)).Msg("unknown journal entry, dropping")
			err = nil
		}

		if err != nil {
			s.log.Warn().Err(err).Str("target", w.TargetID).Msg("journal replay failed, keeping entry")
			continue
		}
		if err := s.journal.Delete(ctx, w.ID); err != nil {
			s.log.Warn().Err(err).Msg("deleting journal entry failed")
		}
	}
}
