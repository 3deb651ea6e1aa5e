package notify

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdt/cv-notify/internal/model"
	"github.com/vdt/cv-notify/internal/stream"
)

// fakeSource records read-state writes so tests can assert which ids
// ever reach the backend.
type fakeSource struct {
	mu           sync.Mutex
	fetch        []model.Notification
	fetchErr     error
	markReadErr  error
	markAllErr   error
	markReadIDs  []string
	markAllCalls int

	// block, when set, stalls MarkRead until the channel is closed.
	block chan struct{}
}

func (f *fakeSource) FetchAll(ctx context.Context) ([]model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]model.Notification, len(f.fetch))
	copy(out, f.fetch)
	return out, nil
}

func (f *fakeSource) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	f.markReadIDs = append(f.markReadIDs, id)
	block := f.block
	err := f.markReadErr
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return err
}

func (f *fakeSource) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markAllCalls++
	return f.markAllErr
}

func (f *fakeSource) readIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.markReadIDs))
	copy(out, f.markReadIDs)
	return out
}

func (f *fakeSource) allCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markAllCalls
}

func newTestStore(src *fakeSource, opts Options) *Store {
	opts.Logger = zerolog.Nop()
	return NewStore(src, opts)
}

func notif(id string, read bool) model.Notification {
	return model.Notification{
		ID:        id,
		Title:     "t-" + id,
		Message:   "m-" + id,
		Kind:      model.KindWarning,
		Read:      read,
		CreatedAt: time.Now(),
	}
}

func TestBootstrapPopulatesFromFetch(t *testing.T) {
	src := &fakeSource{fetch: []model.Notification{notif("b", true), notif("a", false)}}
	s := newTestStore(src, Options{})

	s.Bootstrap(context.Background())

	got := s.Notifications()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, 1, s.UnreadCount())
}

func TestBootstrapFetchFailureDegradesToEmpty(t *testing.T) {
	src := &fakeSource{fetchErr: errors.New("backend down")}
	s := newTestStore(src, Options{})

	s.Bootstrap(context.Background())

	assert.Empty(t, s.Notifications())
	assert.Zero(t, s.UnreadCount())
}

func TestIngestPrependsNewestFirst(t *testing.T) {
	src := &fakeSource{fetch: []model.Notification{notif("b", false), notif("a", false)}}
	s := newTestStore(src, Options{})
	s.Bootstrap(context.Background())

	s.Ingest(stream.Event{Title: "E1", RequestID: "e1", Kind: model.KindWarning})
	s.Ingest(stream.Event{Title: "E2", RequestID: "e2", Kind: model.KindWarning})

	got := s.Notifications()
	require.Len(t, got, 4)
	assert.Equal(t, []string{"e2", "e1", "b", "a"}, []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID})
	assert.Equal(t, 4, s.UnreadCount())
}

func TestIngestSynthesizesEphemeralID(t *testing.T) {
	s := newTestStore(&fakeSource{}, Options{})

	n := s.Ingest(stream.Event{Title: "no id", Kind: model.KindInfo})

	assert.True(t, IsEphemeralID(n.ID))
	assert.False(t, n.Read)

	m := s.Ingest(stream.Event{Title: "no id either", Kind: model.KindInfo})
	assert.NotEqual(t, n.ID, m.ID)
}

func TestMarkReadEphemeralStaysLocal(t *testing.T) {
	src := &fakeSource{}
	s := newTestStore(src, Options{})

	n := s.Ingest(stream.Event{Title: "pushed", Kind: model.KindInfo})
	s.MarkRead(n.ID)

	got := s.Notifications()
	require.Len(t, got, 1)
	assert.True(t, got[0].Read)
	assert.Zero(t, s.UnreadCount())

	// The synthesized id must never reach the backend. The ephemeral
	// path returns before any remote call is started, so this holds
	// without waiting.
	assert.Empty(t, src.readIDs())
}

func TestMarkReadDurablePersistsRemotely(t *testing.T) {
	src := &fakeSource{fetch: []model.Notification{notif("r1", false)}}
	s := newTestStore(src, Options{})
	s.Bootstrap(context.Background())

	s.MarkRead("r1")

	assert.True(t, s.Notifications()[0].Read)
	require.Eventually(t, func() bool {
		ids := src.readIDs()
		return len(ids) == 1 && ids[0] == "r1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMarkReadUnknownIDIsNoop(t *testing.T) {
	src := &fakeSource{fetch: []model.Notification{notif("r1", false)}}
	s := newTestStore(src, Options{})
	s.Bootstrap(context.Background())

	s.MarkRead("missing")

	assert.Equal(t, 1, s.UnreadCount())
	assert.Empty(t, src.readIDs())
}

func TestMarkReadFailureKeepsLocalFlagAndJournals(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	src := &fakeSource{
		fetch:       []model.Notification{notif("r1", false)},
		markReadErr: errors.New("backend down"),
	}
	s := newTestStore(src, Options{Journal: j})
	s.Bootstrap(context.Background())

	s.MarkRead("r1")

	// The optimistic flip stands despite the remote failure.
	assert.True(t, s.Notifications()[0].Read)

	require.Eventually(t, func() bool {
		pending, err := j.Pending(context.Background())
		return err == nil && len(pending) == 1
	}, 2*time.Second, 10*time.Millisecond)

	pending, err := j.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WriteMarkRead, pending[0].Kind)
	assert.Equal(t, "r1", pending[0].TargetID)
}

func TestMarkAllReadIsIdempotent(t *testing.T) {
	src := &fakeSource{fetch: []model.Notification{notif("a", false), notif("b", false)}}
	s := newTestStore(src, Options{})
	s.Bootstrap(context.Background())

	s.MarkAllRead()
	assert.Zero(t, s.UnreadCount())

	s.MarkAllRead()
	assert.Zero(t, s.UnreadCount())

	require.Eventually(t, func() bool {
		return src.allCalls() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMarkAllReadFailureKeepsLocalState(t *testing.T) {
	src := &fakeSource{
		fetch:      []model.Notification{notif("a", false)},
		markAllErr: errors.New("backend down"),
	}
	s := newTestStore(src, Options{})
	s.Bootstrap(context.Background())

	s.MarkAllRead()

	assert.Zero(t, s.UnreadCount())
	require.Eventually(t, func() bool {
		return src.allCalls() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, s.UnreadCount())
}

func TestDuplicateRequestIDProducesDuplicateEntries(t *testing.T) {
	src := &fakeSource{fetch: []model.Notification{notif("r1", false)}}
	s := newTestStore(src, Options{})
	s.Bootstrap(context.Background())

	// A live push reusing an already-listed request id still lands as a
	// new entry at the head.
	s.Ingest(stream.Event{Title: "again", RequestID: "r1", Kind: model.KindWarning})

	got := s.Notifications()
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, "r1", got[1].ID)
	assert.Equal(t, "again", got[0].Title)
	assert.Equal(t, 2, s.UnreadCount())
}

func TestRemoveIsLocalOnly(t *testing.T) {
	src := &fakeSource{fetch: []model.Notification{notif("a", false), notif("b", false)}}
	s := newTestStore(src, Options{})
	s.Bootstrap(context.Background())

	s.Remove("a")

	got := s.Notifications()
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
	assert.Empty(t, src.readIDs())
	assert.Zero(t, src.allCalls())
}

func TestClearDiscardsInFlightWriteResults(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	release := make(chan struct{})
	src := &fakeSource{
		fetch:       []model.Notification{notif("r1", false)},
		markReadErr: errors.New("backend down"),
		block:       release,
	}
	s := newTestStore(src, Options{Journal: j})
	s.Bootstrap(context.Background())

	s.MarkRead("r1")
	require.Eventually(t, func() bool {
		return len(src.readIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Sign-out style clear while the write is still in flight.
	s.Clear()
	close(release)

	// The failed write belongs to the cleared session and must not be
	// journaled for replay.
	time.Sleep(100 * time.Millisecond)
	pending, err := j.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Empty(t, s.Notifications())
}

func TestBootstrapReplaysJournal(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	require.NoError(t, j.RecordMarkRead(ctx, "r9"))
	require.NoError(t, j.RecordMarkAll(ctx))

	src := &fakeSource{}
	s := newTestStore(src, Options{Journal: j})
	s.Bootstrap(ctx)

	assert.Equal(t, []string{"r9"}, src.readIDs())
	assert.Equal(t, 1, src.allCalls())

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBootstrapKeepsJournalEntriesOnReplayFailure(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	require.NoError(t, j.RecordMarkRead(ctx, "r9"))

	src := &fakeSource{markReadErr: errors.New("still down")}
	s := newTestStore(src, Options{Journal: j})
	s.Bootstrap(ctx)

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r9", pending[0].TargetID)
}

func TestUnreadCountMatchesListUnderRandomOps(t *testing.T) {
	src := &fakeSource{}
	s := newTestStore(src, Options{})

	rng := rand.New(rand.NewSource(42))
	var ids []string

	recount := func() int {
		n := 0
		for _, item := range s.Notifications() {
			if !item.Read {
				n++
			}
		}
		return n
	}

	for i := 0; i < 300; i++ {
		switch rng.Intn(5) {
		case 0, 1:
			n := s.Ingest(stream.Event{Title: "t", Kind: model.KindInfo})
			ids = append(ids, n.ID)
		case 2:
			if len(ids) > 0 {
				s.MarkRead(ids[rng.Intn(len(ids))])
			}
		case 3:
			if len(ids) > 0 {
				s.Remove(ids[rng.Intn(len(ids))])
			}
		case 4:
			s.MarkAllRead()
		}

		assert.Equal(t, recount(), s.UnreadCount())
	}
}

// notifierSpy records desktop notifications.
type notifierSpy struct {
	mu     sync.Mutex
	titles []string
}

func (n *notifierSpy) Notify(title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

func TestIngestMirrorsToDesktopNotifier(t *testing.T) {
	spy := &notifierSpy{}
	s := newTestStore(&fakeSource{}, Options{Notifier: spy})

	s.Ingest(stream.Event{Title: "Update CV", Message: "please", Kind: model.KindWarning})

	require.Eventually(t, func() bool {
		spy.mu.Lock()
		defer spy.mu.Unlock()
		return len(spy.titles) == 1 && spy.titles[0] == "Update CV"
	}, 2*time.Second, 10*time.Millisecond)
}
