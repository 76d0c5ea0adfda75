package scheduler

import (
	"fmt"
	"time"
)

// TickKind tags a unit of scheduler work.
type TickKind int

const (
	TickAccept TickKind = iota
	TickRead
	TickExecute
	TickRetry
	TickReap
	TickContinue // next chunk of a chunk-per-tick operation
)

var tickNames = [...]string{"accept", "read", "execute", "retry", "reap", "continue"}

func (k TickKind) String() string {
	if k < TickAccept || k > TickContinue {
		return fmt.Sprintf("tick(%d)", int(k))
	}
	return tickNames[k]
}

// Tick is one pending unit of work. Fields are set according to Kind:
// Read carries ConnID, Execute carries Frame and ConnID, Retry and Continue
// carry OpID.
type Tick struct {
	Kind      TickKind
	ConnID    string
	Frame     []byte
	OpID      string
	NotBefore time.Time // Retry only
}

// Queue is the FIFO work queue.
type Queue struct {
	items []Tick
}

// Push appends t.
func (q *Queue) Push(t Tick) {
	q.items = append(q.items, t)
}

// Pop removes and returns the oldest tick.
func (q *Queue) Pop() (Tick, bool) {
	if len(q.items) == 0 {
		return Tick{}, false
	}
	t := q.items[0]
	q.items[0] = Tick{}
	q.items = q.items[1:]
	return t, true
}

// Len returns the number of queued ticks.
func (q *Queue) Len() int { return len(q.items) }
