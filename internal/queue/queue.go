package queue

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/obs"
	"github.com/fairyhunter13/drug-price-aggregator/internal/textnorm"
)

// Ticket identifies the pending check a request was folded into.
type Ticket struct {
	Sequence uint64
	// Coalesced is set when a check for the same drug was already waiting.
	Coalesced bool
}

// Queue holds pending price checks in an unbounded backlog and feeds them to
// workers through a bounded channel. At most one check per normalized drug
// name waits at a time; a drug becomes pending again once a worker picks its
// check up.
type Queue struct {
	mu      sync.Mutex
	backlog []model.PriceCheck
	pending map[string]uint64
	seq     Sequencer
	notify  chan struct{}
	out     chan model.PriceCheck
	closed  atomic.Bool

	enqueued  atomic.Uint64
	coalesced atomic.Uint64
	processed atomic.Uint64
}

func New(outBuffer int) *Queue {
	if outBuffer <= 0 {
		outBuffer = 64
	}
	return &Queue{
		pending: make(map[string]uint64),
		notify:  make(chan struct{}, 1),
		out:     make(chan model.PriceCheck, outBuffer),
	}
}

// Start runs the broker loop until ctx is done.
func (q *Queue) Start(ctx context.Context, highWatermark int) {
	go q.broker(ctx, highWatermark)
}

func (q *Queue) broker(ctx context.Context, highWatermark int) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	above := false
	for {
		q.flush()
		if highWatermark > 0 {
			sz := q.BacklogSize()
			if sz > highWatermark && !above {
				obs.Logger.Warn("check_backlog_high", "backlog_size", sz, "high_watermark", highWatermark)
			}
			above = sz > highWatermark
		}
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		case <-ticker.C:
		}
	}
}

// flush moves checks from the backlog into the worker channel while it has
// room. Checks keep their pending mark until a worker takes them.
func (q *Queue) flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for n < len(q.backlog) && len(q.out) < cap(q.out) {
		q.out <- q.backlog[n]
		n++
	}
	if n > 0 {
		q.backlog = append(q.backlog[:0], q.backlog[n:]...)
	}
}

// Enqueue schedules a check for drugName without blocking. A drug that
// already has a check waiting gets that check's ticket. It reports false for
// a blank name or once intake is closed.
func (q *Queue) Enqueue(drugName string) (Ticket, bool) {
	drugName = strings.TrimSpace(drugName)
	key := textnorm.Key(drugName)
	if key == "" || q.closed.Load() {
		return Ticket{}, false
	}

	q.mu.Lock()
	if seq, ok := q.pending[key]; ok {
		q.mu.Unlock()
		q.coalesced.Add(1)
		return Ticket{Sequence: seq, Coalesced: true}, true
	}
	seq := q.seq.Next()
	q.pending[key] = seq
	q.backlog = append(q.backlog, model.PriceCheck{DrugName: drugName, Sequence: seq})
	q.enqueued.Add(1)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return Ticket{Sequence: seq}, true
}

// Take clears the pending mark of a check a worker has started, so later
// requests for the drug queue a fresh check.
func (q *Queue) Take(pc model.PriceCheck) {
	key := textnorm.Key(pc.DrugName)
	q.mu.Lock()
	if q.pending[key] == pc.Sequence {
		delete(q.pending, key)
	}
	q.mu.Unlock()
}

func (q *Queue) Out() <-chan model.PriceCheck { return q.out }

func (q *Queue) BacklogSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// QueueDepth counts backlog plus checks buffered for workers.
func (q *Queue) QueueDepth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog) + len(q.out)
}

// LastSequence is the sequence number of the newest queued check.
func (q *Queue) LastSequence() uint64 { return q.seq.Last() }

func (q *Queue) MarkProcessed() { q.processed.Add(1) }

// Metrics reports queued and finished check counts. Coalesced requests are
// not counted as queued.
func (q *Queue) Metrics() (enq, proc uint64, backlog, depth int) {
	return q.enqueued.Load(), q.processed.Load(), q.BacklogSize(), q.QueueDepth()
}

func (q *Queue) Coalesced() uint64 { return q.coalesced.Load() }

// CloseIntake makes later Enqueue calls fail.
func (q *Queue) CloseIntake() { q.closed.Store(true) }

func (q *Queue) IsShuttingDown() bool { return q.closed.Load() }
