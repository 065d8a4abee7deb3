package flow

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/clock"
)

// throttle serializes the messages of each contact in arrival order and
// spaces their processing at least interval apart.
type throttle struct {
	clock    clock.Clock
	interval time.Duration

	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	tail          chan struct{} // closed when the latest ticket is released
	lastProcessed time.Time
	queued        int // tickets reserved and not yet released
}

// ticket is one message's place in its contact's lane.
type ticket struct {
	t         *throttle
	contactID string
	lane      *lane
	prev      chan struct{}
	mine      chan struct{}
	once      sync.Once
}

func newThrottle(clk clock.Clock, interval time.Duration) *throttle {
	return &throttle{clock: clk, interval: interval, lanes: make(map[string]*lane)}
}

// reserve takes the next slot of contactID without blocking. Slots are
// granted in the order reserve is called.
func (t *throttle) reserve(contactID string) *ticket {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()

	l, ok := t.lanes[contactID]
	if !ok {
		l = &lane{}
		t.lanes[contactID] = l
	}
	tk := &ticket{t: t, contactID: contactID, lane: l, prev: l.tail, mine: make(chan struct{})}
	l.tail = tk.mine
	l.queued++
	return tk
}

// wait blocks until every earlier ticket is released and the interval since
// the previous message has elapsed. On error the ticket releases itself once
// its predecessors are done; the caller must not call release.
func (tk *ticket) wait(ctx context.Context) error {
	t := tk.t
	if tk.prev != nil {
		select {
		case <-tk.prev:
		case <-ctx.Done():
			// Keep the chain intact for the messages queued behind us.
			go func() {
				<-tk.prev
				tk.release()
			}()
			return ctx.Err()
		}
	}

	t.mu.Lock()
	last := tk.lane.lastProcessed
	t.mu.Unlock()
	if !last.IsZero() && t.interval > 0 {
		if wait := last.Add(t.interval).Sub(t.clock.Now()); wait > 0 {
			due := make(chan struct{})
			timer := t.clock.AfterFunc(wait, func() { close(due) })
			select {
			case <-due:
			case <-ctx.Done():
				timer.Stop()
				tk.release()
				return ctx.Err()
			}
		}
	}

	t.mu.Lock()
	tk.lane.lastProcessed = t.clock.Now()
	t.mu.Unlock()
	return nil
}

// release hands the lane to the next ticket. It is safe to call more than once.
func (tk *ticket) release() {
	tk.once.Do(func() {
		t := tk.t
		t.mu.Lock()
		defer t.mu.Unlock()
		close(tk.mine)
		tk.lane.queued--
		if t.idleLocked(tk.lane, t.clock.Now()) && t.lanes[tk.contactID] == tk.lane {
			delete(t.lanes, tk.contactID)
		}
	})
}

// idleLocked reports whether l has no queued tickets and no pending interval.
func (t *throttle) idleLocked(l *lane, now time.Time) bool {
	if l.queued > 0 {
		return false
	}
	return t.interval <= 0 || l.lastProcessed.IsZero() || !now.Before(l.lastProcessed.Add(t.interval))
}

// pruneLocked drops lanes that no longer constrain anything. Lanes only
// survive a release while their interval is running, so this stays small.
func (t *throttle) pruneLocked() {
	now := t.clock.Now()
	for id, l := range t.lanes {
		if t.idleLocked(l, now) {
			delete(t.lanes, id)
		}
	}
}

func (t *throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lanes)
}
