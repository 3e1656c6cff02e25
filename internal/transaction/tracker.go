package transaction

import (
	"sort"
	"sync"
	"time"
)

// Tracker owns the transactions of one virtual user iteration
type Tracker struct {
	mu           sync.Mutex
	vuID         int
	iteration    int64
	reporter     Reporter
	transactions map[string]*Transaction
	clock        func() time.Time
}

// NewTracker creates a tracker that reports ended transactions to reporter.
// A nil reporter discards them.
func NewTracker(vuID int, iteration int64, reporter Reporter) *Tracker {
	return &Tracker{
		vuID:         vuID,
		iteration:    iteration,
		reporter:     reporter,
		transactions: make(map[string]*Transaction),
		clock:        time.Now,
	}
}

// SetClock replaces the time source
func (tr *Tracker) SetClock(now func() time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.clock = now
}

func (tr *Tracker) now() time.Time {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.clock()
}

// Get returns the transaction called name. A new NotStarted transaction
// replaces the tracked one once that has ended, so the same measurement can
// be taken more than once per iteration.
func (tr *Tracker) Get(name string) *Transaction {
	tr.mu.Lock()
	t := tr.transactions[name]
	tr.mu.Unlock()

	// transactions lock before the tracker, never the other way round
	if t != nil && t.State() != Ended {
		return t
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if cur := tr.transactions[name]; cur != t {
		return cur
	}
	fresh := &Transaction{name: name, tracker: tr}
	tr.transactions[name] = fresh
	return fresh
}

// Names returns the tracked transaction names in sorted order
func (tr *Tracker) Names() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	names := make([]string, 0, len(tr.transactions))
	for name := range tr.transactions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EndOpen fails and reports every transaction still in progress, returning
// their names. Called when an iteration ends.
func (tr *Tracker) EndOpen() []string {
	tr.mu.Lock()
	tracked := make(map[string]*Transaction, len(tr.transactions))
	for name, t := range tr.transactions {
		tracked[name] = t
	}
	tr.mu.Unlock()

	var open []string
	for _, name := range tr.Names() {
		t := tracked[name]
		if t != nil && t.State() == InProgress {
			if err := t.Stop(Failed); err == nil {
				open = append(open, name)
			}
		}
	}
	return open
}

func (tr *Tracker) report(rec Record) {
	if tr.reporter != nil {
		tr.reporter.ReportTransaction(rec)
	}
}
