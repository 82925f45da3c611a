package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"presence/internal/metrics"
)

// DefaultMaxAttempts is the replay limit used by the binaries.
const DefaultMaxAttempts = 25

var (
	// ErrItemNotFound is returned by Retry and Discard for unknown ids.
	ErrItemNotFound = errors.New("outbox item not found")

	// ErrRetryLater marks a replay failure that says nothing about the item,
	// such as a missing session. The flush stops, the item stays queued and
	// no attempt is counted.
	ErrRetryLater = errors.New("retry later")
)

// Outcome is what a successful replay reports back.
type Outcome struct {
	// CreatedID is the store id of a replayed ADD_STUDENT.
	CreatedID string
}

// Replayer performs the remote operation of an item.
type Replayer interface {
	Replay(ctx context.Context, item Item) (Outcome, error)
}

// ReplayFunc adapts a function to Replayer.
type ReplayFunc func(ctx context.Context, item Item) (Outcome, error)

func (f ReplayFunc) Replay(ctx context.Context, item Item) (Outcome, error) {
	return f(ctx, item)
}

// Config wires a Queue.
type Config struct {
	Store       DurableStore
	DeadLetters DurableStore
	Replayer    Replayer
	Monitor     Monitor
	// MaxAttempts moves an item to the dead letters after that many failed
	// replays. Zero retries forever.
	MaxAttempts int
	Now         func() time.Time
}

// FlushResult summarises one flush.
type FlushResult struct {
	Replayed     int    `json:"replayed"`
	Failed       int    `json:"failed"`
	DeadLettered int    `json:"deadLettered"`
	Remaining    int    `json:"remaining"`
	Held         bool   `json:"held,omitempty"`
	Skipped      bool   `json:"skipped,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Queue is the offline mutation queue.
type Queue struct {
	store       DurableStore
	deadStore   DurableStore
	replayer    Replayer
	monitor     Monitor
	maxAttempts int
	now         func() time.Time

	mu       sync.Mutex
	items    []Item
	dead     []Item
	flushing atomic.Bool
}

// New loads persisted items and returns a ready queue.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Store == nil {
		return nil, errors.New("outbox: store required")
	}
	if cfg.Replayer == nil {
		return nil, errors.New("outbox: replayer required")
	}
	if cfg.DeadLetters == nil {
		cfg.DeadLetters = NewMemoryStore()
	}
	if cfg.Monitor == nil {
		cfg.Monitor = NewStaticMonitor(true)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}

	items, err := cfg.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load outbox: %w", err)
	}
	dead, err := cfg.DeadLetters.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dead letters: %w", err)
	}
	q := &Queue{
		store:       cfg.Store,
		deadStore:   cfg.DeadLetters,
		replayer:    cfg.Replayer,
		monitor:     cfg.Monitor,
		maxAttempts: cfg.MaxAttempts,
		now:         cfg.Now,
		items:       items,
		dead:        dead,
	}
	q.updateGauges()
	return q, nil
}

// Enqueue appends a mutation and persists it before returning. It never
// touches the network.
func (q *Queue) Enqueue(ctx context.Context, typ Type, payload any) (Item, error) {
	if !typ.Valid() {
		return Item{}, fmt.Errorf("outbox: unknown item type %q", typ)
	}
	if p, ok := payload.(AddStudentPayload); ok && p.LocalID == "" {
		p.LocalID = NewLocalID()
		payload = p
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Item{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	item := Item{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   raw,
		Timestamp: q.now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.refreshLocked(ctx); err != nil {
		return Item{}, err
	}
	next := append(cloneItems(q.items), item)
	if err := q.store.Save(ctx, next); err != nil {
		return Item{}, fmt.Errorf("persist outbox: %w", err)
	}
	q.items = next
	metrics.OutboxEnqueued.WithLabelValues(string(typ)).Inc()
	q.updateGaugesLocked()
	return item, nil
}

// Flush replays the queued items in order. It does nothing while offline
// or while another flush is running. Failed items stay queued; items
// enqueued during the flush are kept after them.
func (q *Queue) Flush(ctx context.Context) (FlushResult, error) {
	if !q.monitor.Online() {
		metrics.OutboxFlushes.WithLabelValues("offline").Inc()
		return FlushResult{Skipped: true, Reason: "offline", Remaining: q.Len()}, nil
	}
	if !q.flushing.CompareAndSwap(false, true) {
		metrics.OutboxFlushes.WithLabelValues("busy").Inc()
		return FlushResult{Skipped: true, Reason: "flush in progress", Remaining: q.Len()}, nil
	}
	defer q.flushing.Store(false)

	q.mu.Lock()
	err := q.refreshLocked(ctx)
	snapshot := cloneItems(q.items)
	q.mu.Unlock()
	if err != nil {
		return FlushResult{Remaining: len(snapshot)}, err
	}

	var res FlushResult
	if len(snapshot) == 0 {
		metrics.OutboxFlushes.WithLabelValues("done").Inc()
		return res, nil
	}

	aliases := make(map[string]string)
	blocked := make(map[string]bool)
	done := make(map[string]bool)
	kept := make(map[string]Item)
	var dead []Item

	for _, item := range snapshot {
		if ctx.Err() != nil {
			break
		}
		item = rewrite(item, aliases)
		local := localID(item)

		if dependsOn(item, blocked) {
			kept[item.ID] = item
			if local != "" {
				blocked[local] = true
			}
			continue
		}

		out, err := q.replayer.Replay(ctx, item)
		if err != nil {
			if ctx.Err() != nil {
				// interrupted, not a failure of the item
				break
			}
			if errors.Is(err, ErrRetryLater) {
				log.Printf("outbox: %s %s held: %v", item.Type, item.ID, err)
				metrics.OutboxReplays.WithLabelValues(string(item.Type), "held").Inc()
				item.LastError = err.Error()
				kept[item.ID] = item
				res.Held = true
				res.Reason = err.Error()
				break
			}
			item.Attempts++
			item.LastError = err.Error()
			res.Failed++
			if local != "" {
				blocked[local] = true
			}
			if q.maxAttempts > 0 && item.Attempts >= q.maxAttempts {
				log.Printf("outbox: %s %s dead-lettered after %d attempts: %v", item.Type, item.ID, item.Attempts, err)
				metrics.OutboxReplays.WithLabelValues(string(item.Type), "dead").Inc()
				done[item.ID] = true
				dead = append(dead, item)
				res.DeadLettered++
				continue
			}
			log.Printf("outbox: %s %s failed (attempt %d): %v", item.Type, item.ID, item.Attempts, err)
			metrics.OutboxReplays.WithLabelValues(string(item.Type), "failed").Inc()
			kept[item.ID] = item
			continue
		}

		metrics.OutboxReplays.WithLabelValues(string(item.Type), "ok").Inc()
		res.Replayed++
		done[item.ID] = true
		if local != "" && out.CreatedID != "" {
			aliases[local] = out.CreatedID
		}
	}

	saveCtx := context.WithoutCancel(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.refreshLocked(saveCtx); err != nil {
		res.Remaining = len(q.items)
		return res, err
	}

	// dead letters are written first so a failure duplicates rather than loses
	if len(dead) > 0 {
		if err := q.refreshDeadLocked(saveCtx); err != nil {
			res.Remaining = len(q.items)
			return res, err
		}
		allDead := append(cloneItems(q.dead), dead...)
		if err := q.deadStore.Save(saveCtx, allDead); err != nil {
			res.Remaining = len(q.items)
			return res, fmt.Errorf("persist dead letters: %w", err)
		}
		q.dead = allDead
	}

	next := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		if done[it.ID] {
			continue
		}
		if upd, ok := kept[it.ID]; ok {
			it = upd
		}
		next = append(next, rewrite(it, aliases))
	}
	if err := q.store.Save(saveCtx, next); err != nil {
		return res, fmt.Errorf("persist outbox: %w", err)
	}
	q.items = next
	res.Remaining = len(next)
	q.updateGaugesLocked()
	metrics.OutboxFlushes.WithLabelValues("done").Inc()
	return res, nil
}

func dependsOn(item Item, blocked map[string]bool) bool {
	if len(blocked) == 0 {
		return false
	}
	for _, id := range refs(item) {
		if blocked[id] {
			return true
		}
	}
	return false
}

// Watch flushes on every offline to online transition, and once at start
// when online with pending items. It blocks until ctx is done.
func (q *Queue) Watch(ctx context.Context) {
	trigger := make(chan struct{}, 1)
	kick := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
	cancel := q.monitor.OnChange(func(online bool) {
		if online {
			kick()
		}
	})
	defer cancel()

	if q.monitor.Online() && q.Len() > 0 {
		kick()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			res, err := q.Flush(ctx)
			if err != nil {
				log.Printf("outbox: flush: %v", err)
				continue
			}
			if res.Held {
				log.Printf("outbox: flush held: %s", res.Reason)
			}
			if res.Replayed > 0 || res.Failed > 0 {
				log.Printf("outbox: replayed %d, failed %d, dead %d, remaining %d",
					res.Replayed, res.Failed, res.DeadLettered, res.Remaining)
			}
		}
	}
}

// Pending returns a copy of the queued items in replay order.
func (q *Queue) Pending(ctx context.Context) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.refreshLocked(ctx); err != nil {
		log.Printf("outbox: %v", err)
	}
	return cloneItems(q.items)
}

// DeadLetters returns a copy of the items that exhausted their attempts.
func (q *Queue) DeadLetters(ctx context.Context) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.refreshDeadLocked(ctx); err != nil {
		log.Printf("outbox: %v", err)
	}
	return cloneItems(q.dead)
}

// Len is the number of queued items as of the last store access.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Online reports the monitor state.
func (q *Queue) Online() bool {
	return q.monitor.Online()
}

// Retry moves a dead letter back to the end of the queue with a fresh
// attempt count.
func (q *Queue) Retry(ctx context.Context, id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.refreshAllLocked(ctx); err != nil {
		return Item{}, err
	}

	idx := indexOf(q.dead, id)
	if idx < 0 {
		return Item{}, ErrItemNotFound
	}
	item := q.dead[idx]
	item.Attempts = 0
	item.LastError = ""

	items := append(cloneItems(q.items), item)
	dead := removeAt(q.dead, idx)
	if err := q.store.Save(ctx, items); err != nil {
		return Item{}, fmt.Errorf("persist outbox: %w", err)
	}
	if err := q.deadStore.Save(ctx, dead); err != nil {
		return Item{}, fmt.Errorf("persist dead letters: %w", err)
	}
	q.items, q.dead = items, dead
	q.updateGaugesLocked()
	return item, nil
}

// Discard drops an item from the queue or from the dead letters.
func (q *Queue) Discard(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.refreshAllLocked(ctx); err != nil {
		return err
	}

	if idx := indexOf(q.items, id); idx >= 0 {
		items := removeAt(q.items, idx)
		if err := q.store.Save(ctx, items); err != nil {
			return fmt.Errorf("persist outbox: %w", err)
		}
		q.items = items
		q.updateGaugesLocked()
		return nil
	}
	if idx := indexOf(q.dead, id); idx >= 0 {
		dead := removeAt(q.dead, idx)
		if err := q.deadStore.Save(ctx, dead); err != nil {
			return fmt.Errorf("persist dead letters: %w", err)
		}
		q.dead = dead
		q.updateGaugesLocked()
		return nil
	}
	return ErrItemNotFound
}

// refreshLocked reloads the items from the store, which may be shared with
// another process. Callers must not save after an error: the in-memory copy
// may be missing items another process added.
func (q *Queue) refreshLocked(ctx context.Context) error {
	items, err := q.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload outbox: %w", err)
	}
	q.items = items
	return nil
}

func (q *Queue) refreshDeadLocked(ctx context.Context) error {
	dead, err := q.deadStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload dead letters: %w", err)
	}
	q.dead = dead
	return nil
}

func (q *Queue) refreshAllLocked(ctx context.Context) error {
	if err := q.refreshLocked(ctx); err != nil {
		return err
	}
	return q.refreshDeadLocked(ctx)
}

func (q *Queue) updateGauges() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updateGaugesLocked()
}

func (q *Queue) updateGaugesLocked() {
	metrics.OutboxPending.Set(float64(len(q.items)))
	metrics.OutboxDeadLetters.Set(float64(len(q.dead)))
}

func indexOf(items []Item, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func removeAt(items []Item, idx int) []Item {
	out := make([]Item, 0, len(items)-1)
	out = append(out, items[:idx]...)
	return append(out, items[idx+1:]...)
}
