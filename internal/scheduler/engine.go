package scheduler

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/sandeepkv93/tasksync/internal/model"
)

var (
	ErrInvalidFireTime = errors.New("scheduler: invalid fire time")
	ErrMissingHandle   = errors.New("scheduler: missing handle")
	ErrStopped         = errors.New("scheduler: engine stopped")
)

// Firing is one pending delivery on one channel. Handle identifies it for
// cancellation; scheduling an existing handle replaces the earlier firing.
type Firing struct {
	Handle    string
	TaskID    string
	Channel   model.Channel
	FireAt    time.Time
	Recipient string
	Title     string
	Body      string
}

type queueItem struct {
	firing Firing
	index  int
}

type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].firing.FireAt.Equal(pq[j].firing.FireAt) {
		return pq[i].firing.Handle < pq[j].firing.Handle
	}
	return pq[i].firing.FireAt.Before(pq[j].firing.FireAt)
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[0 : n-1]
	return item
}

// Engine keeps firings in a min-heap on FireAt and emits each on C once its
// time comes. A full buffer holds the loop back until the consumer catches
// up or the engine stops; firings are never discarded while running.
type Engine struct {
	mu       sync.Mutex
	queue    priorityQueue
	byHandle map[string]*queueItem
	out      chan Firing
	wakeup   chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	stopped  bool
	now      func() time.Time
}

func NewEngine(bufferSize int) *Engine {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Engine{
		queue:    make(priorityQueue, 0),
		byHandle: make(map[string]*queueItem),
		out:      make(chan Firing, bufferSize),
		wakeup:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) C() <-chan Firing {
	return e.out
}

func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	heap.Init(&e.queue)
	go e.loop()
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.stopCh)
	e.mu.Unlock()
	<-e.doneCh
}

func (e *Engine) Schedule(f Firing) error {
	if f.FireAt.IsZero() {
		return ErrInvalidFireTime
	}
	if f.Handle == "" {
		return ErrMissingHandle
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrStopped
	}

	if item, ok := e.byHandle[f.Handle]; ok {
		item.firing = f
		heap.Fix(&e.queue, item.index)
	} else {
		item := &queueItem{firing: f}
		heap.Push(&e.queue, item)
		e.byHandle[f.Handle] = item
	}
	e.signalWakeup()
	return nil
}

// Cancel removes the pending firing with handle and reports whether one was
// found. A firing already emitted on C cannot be recalled.
func (e *Engine) Cancel(handle string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	item, ok := e.byHandle[handle]
	if !ok {
		return false
	}
	heap.Remove(&e.queue, item.index)
	delete(e.byHandle, handle)
	e.signalWakeup()
	return true
}

// Pending returns a snapshot of queued firings in fire order.
func (e *Engine) Pending() []Firing {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make(priorityQueue, len(e.queue))
	for i, item := range e.queue {
		cp[i] = &queueItem{firing: item.firing, index: i}
	}
	out := make([]Firing, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(*queueItem).firing)
	}
	return out
}

func (e *Engine) loop() {
	defer close(e.doneCh)
	defer close(e.out)

	var timer *time.Timer
	for {
		next, hasNext := e.peek()
		if !hasNext {
			select {
			case <-e.wakeup:
				continue
			case <-e.stopCh:
				return
			}
		}

		wait := next.FireAt.Sub(e.now())
		if wait < 0 {
			wait = 0
		}
		timer = resetTimer(timer, wait)

		select {
		case <-timer.C:
			for _, f := range e.popDue(e.now()) {
				select {
				case e.out <- f:
				case <-e.stopCh:
					return
				}
			}
		case <-e.wakeup:
			continue
		case <-e.stopCh:
			if timer != nil {
				stopTimer(timer)
			}
			return
		}
	}
}

func (e *Engine) signalWakeup() {
	select {
	case e.wakeup <- struct{}{}:
	default:
	}
}

func (e *Engine) peek() (Firing, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return Firing{}, false
	}
	return e.queue[0].firing, true
}

func (e *Engine) popDue(now time.Time) []Firing {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Firing, 0)
	for len(e.queue) > 0 {
		next := e.queue[0].firing
		if next.FireAt.After(now) {
			break
		}
		item := heap.Pop(&e.queue).(*queueItem)
		delete(e.byHandle, item.firing.Handle)
		out = append(out, item.firing)
	}
	return out
}

func resetTimer(timer *time.Timer, d time.Duration) *time.Timer {
	if timer == nil {
		return time.NewTimer(d)
	}
	stopTimer(timer)
	timer.Reset(d)
	return timer
}

func stopTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
