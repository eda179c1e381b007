package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetrec/internal/resilience"
	"github.com/MrWong99/meetrec/internal/session"
)

// Journal defaults.
const (
	DefaultQueueSize    = 64
	DefaultWriteTimeout = 5 * time.Second
)

// JournalOption configures a [Journal].
type JournalOption func(*Journal)

// WithFallback adds a store that takes writes and reads while the primary's
// breaker is open.
func WithFallback(name string, s Store) JournalOption {
	return func(j *Journal) { j.fallbacks = append(j.fallbacks, namedStore{name, s}) }
}

// WithBreaker sets the breaker template used for every store.
func WithBreaker(cfg resilience.BreakerConfig) JournalOption {
	return func(j *Journal) { j.breaker = cfg }
}

// WithQueueSize sets how many entries may wait for a write.
func WithQueueSize(n int) JournalOption {
	return func(j *Journal) {
		if n > 0 {
			j.queueSize = n
		}
	}
}

// WithWriteTimeout bounds a single write attempt.
func WithWriteTimeout(d time.Duration) JournalOption {
	return func(j *Journal) {
		if d > 0 {
			j.writeTimeout = d
		}
	}
}

// WithClock overrides the time source used for EndedAt.
func WithClock(now func() time.Time) JournalOption {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

type namedStore struct {
	name  string
	store Store
}

// Journal turns session controller events into history entries. Writes are
// queued and performed by [Journal.Run], so [Journal.Observe] never blocks.
type Journal struct {
	primary      Store
	fallbacks    []namedStore
	breaker      resilience.BreakerConfig
	queueSize    int
	writeTimeout time.Duration
	now          func() time.Time

	stores *resilience.Failover[Store]
	queue  chan Entry

	dropMu  sync.Mutex
	dropped int
}

// NewJournal creates a journal that writes to primary first.
func NewJournal(primaryName string, primary Store, opts ...JournalOption) *Journal {
	j := &Journal{
		primary:      primary,
		queueSize:    DefaultQueueSize,
		writeTimeout: DefaultWriteTimeout,
		now:          time.Now,
	}
	for _, o := range opts {
		o(j)
	}
	j.stores = resilience.NewFailover(primaryName, primary, j.breaker)
	for _, f := range j.fallbacks {
		j.stores.Add(f.name, f.store)
	}
	j.queue = make(chan Entry, j.queueSize)
	return j
}

// Observe is a [session.Observer]. It records terminal transitions of a
// session, and the return to idle of a session whose recording failed. It
// ignores everything else.
func (j *Journal) Observe(ev session.Event) {
	if ev.Kind != session.EventTransition {
		return
	}
	st := ev.Status
	if st.SessionID == uuid.Nil {
		return
	}
	failedRecording := st.State == session.StateIdle && st.ErrorKind != ""
	if !st.State.Terminal() && !failedRecording {
		return
	}
	e := Entry{
		SessionID:       st.SessionID,
		Title:           st.Title,
		StartedAt:       st.StartedAt,
		EndedAt:         j.now(),
		DurationMs:      st.ElapsedMs,
		Encoding:        st.Encoding,
		ArtifactSize:    st.ArtifactSize,
		Inputs:          st.Inputs,
		FinalState:      string(st.State),
		ErrorKind:       st.ErrorKind,
		TranscriptionID: st.TranscriptionID,
		TranslationID:   st.TranslationID,
		AnalysisID:      st.AnalysisID,
	}
	select {
	case j.queue <- e:
	default:
		j.dropMu.Lock()
		j.dropped++
		j.dropMu.Unlock()
		slog.Warn("history: queue full, dropping entry", "session_id", e.SessionID, "state", e.FinalState)
	}
}

// Dropped returns how many entries were dropped because the queue was full.
func (j *Journal) Dropped() int {
	j.dropMu.Lock()
	defer j.dropMu.Unlock()
	return j.dropped
}

// Run writes queued entries until ctx is cancelled, then drains the queue.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case e := <-j.queue:
			j.write(ctx, e)
		case <-ctx.Done():
			j.drain()
			return nil
		}
	}
}

func (j *Journal) drain() {
	ctx := context.Background()
	for {
		select {
		case e := <-j.queue:
			j.write(ctx, e)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(ctx, j.writeTimeout)
	defer cancel()
	err := j.stores.Do(ctx, func(ctx context.Context, s Store) error {
		return s.Save(ctx, e)
	})
	if err != nil {
		slog.Error("history: save entry", "session_id", e.SessionID, "err", err)
		return
	}
	slog.Debug("history: entry saved", "session_id", e.SessionID, "state", e.FinalState)
}

// Recent returns recent entries from the first store that answers.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := resilience.DoResult(ctx, j.stores, func(ctx context.Context, s Store) ([]Entry, error) {
		return s.Recent(ctx, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return entries, nil
}

// Ping checks the primary store directly, bypassing fallbacks.
func (j *Journal) Ping(ctx context.Context) error {
	if err := j.primary.Ping(ctx); err != nil {
		return fmt.Errorf("history: ping: %w", err)
	}
	return nil
}
