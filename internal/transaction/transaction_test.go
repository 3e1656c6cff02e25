package transaction

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vurun/internal/loaderr"
)

type recorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *recorder) ReportTransaction(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTracker() (*Tracker, *recorder, *fakeClock) {
	rec := &recorder{}
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(7, 3, rec)
	tr.SetClock(clock.now)
	return tr, rec, clock
}

func TestTransaction_StartStop(t *testing.T) {
	tr, rec, clock := newTracker()
	tx := tr.Get("login")
	assert.Equal(t, NotStarted, tx.State())

	require.NoError(t, tx.Start())
	assert.Equal(t, InProgress, tx.State())

	clock.advance(150 * time.Millisecond)
	require.NoError(t, tx.Stop())

	assert.Equal(t, Ended, tx.State())
	assert.Equal(t, Passed, tx.Status())
	assert.Equal(t, 150*time.Millisecond, tx.Duration())

	require.Len(t, rec.records, 1)
	assert.Equal(t, Record{
		VUID:      7,
		Iteration: 3,
		Name:      "login",
		Status:    Passed,
		Duration:  150 * time.Millisecond,
		Time:      clock.t,
	}, rec.records[0])
}

func TestTransaction_StartTwiceFails(t *testing.T) {
	tr, _, _ := newTracker()
	tx := tr.Get("a")
	require.NoError(t, tx.Start())

	err := tx.Start()
	assert.True(t, errors.Is(err, loaderr.ErrState))
	var se *loaderr.StateError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "InProgress", se.State)

	require.NoError(t, tx.Stop())
	assert.True(t, errors.Is(tx.Start(), loaderr.ErrState), "ended transactions cannot restart")
}

func TestTransaction_StopBeforeStart(t *testing.T) {
	tr, rec, _ := newTracker()
	assert.True(t, errors.Is(tr.Get("a").Stop(), loaderr.ErrState))
	assert.Empty(t, rec.records)
}

func TestTransaction_StopEndedFails(t *testing.T) {
	tr, rec, _ := newTracker()
	tx := tr.Get("checkout")
	require.NoError(t, tx.Start())
	require.NoError(t, tx.Stop(Failed))
	assert.Equal(t, Failed, tx.Status())

	err := tx.Stop(Passed)
	assert.True(t, errors.Is(err, loaderr.ErrState))
	assert.Equal(t, Failed, tx.Status(), "status must match what was reported")
	require.Len(t, rec.records, 1)
	assert.Equal(t, Failed, rec.records[0].Status)
}

func TestTransaction_SetStatusBeforeStop(t *testing.T) {
	tr, rec, _ := newTracker()
	tx := tr.Get("search")
	require.NoError(t, tx.SetStatus(Failed))
	require.NoError(t, tx.Start())
	require.NoError(t, tx.Stop())

	assert.Equal(t, Failed, rec.records[0].Status)
	assert.True(t, errors.Is(tx.SetStatus(Passed), loaderr.ErrState))
}

func TestTransaction_SetInAnyState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Transaction)
	}{
		{"not started", func(*Transaction) {}},
		{"in progress", func(tx *Transaction) { _ = tx.Start() }},
		{"ended", func(tx *Transaction) { _ = tx.Start(); _ = tx.Stop() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, rec, _ := newTracker()
			tx := tr.Get("manual")
			tt.setup(tx)
			before := len(rec.records)

			require.NoError(t, tx.Set(Failed, 2*time.Second))
			assert.Equal(t, Ended, tx.State())
			assert.Equal(t, Failed, tx.Status())
			assert.Equal(t, 2*time.Second, tx.Duration())
			assert.Len(t, rec.records, before+1)
		})
	}

	tr, _, _ := newTracker()
	assert.True(t, errors.Is(tr.Get("neg").Set(Passed, -time.Second), loaderr.ErrConfiguration))
}

func TestTransaction_Update(t *testing.T) {
	tr, _, clock := newTracker()
	tx := tr.Get("poll")

	assert.Same(t, tx, tx.Update())
	assert.Equal(t, NotStarted, tx.State())

	require.NoError(t, tx.Start())
	clock.advance(40 * time.Millisecond)
	assert.Equal(t, 40*time.Millisecond, tx.Update().Duration())
	assert.Equal(t, InProgress, tx.State())

	require.NoError(t, tx.Stop(Failed))
	clock.advance(time.Second)
	tx.Update()
	assert.Equal(t, Ended, tx.State(), "update never resurrects an ended transaction")
	assert.Equal(t, Failed, tx.Status())
	assert.Equal(t, 40*time.Millisecond, tx.Duration())
}

func TestTracker_EndOpen(t *testing.T) {
	tr, rec, _ := newTracker()
	open := tr.Get("open")
	require.NoError(t, open.Start())
	require.NoError(t, tr.Get("closed").Start())
	require.NoError(t, tr.Get("closed").Stop())
	tr.Get("idle")

	assert.Equal(t, []string{"open"}, tr.EndOpen())
	assert.Equal(t, Failed, open.Status())
	assert.Len(t, rec.records, 2)
	assert.Equal(t, []string{"closed", "idle", "open"}, tr.Names())
}

func TestTracker_NilReporter(t *testing.T) {
	tr := NewTracker(1, 1, nil)
	tx := tr.Get("x")
	require.NoError(t, tx.Start())
	assert.NoError(t, tx.Stop())
}

func TestTracker_GetAfterEnd(t *testing.T) {
	tr, rec, clock := newTracker()

	first := tr.Get("login")
	assert.Same(t, first, tr.Get("login"), "a transaction is shared until it ends")
	require.NoError(t, first.Start())
	assert.Same(t, first, tr.Get("login"))
	clock.advance(10 * time.Millisecond)
	require.NoError(t, tr.Get("login").Stop())

	second := tr.Get("login")
	require.NotSame(t, first, second)
	assert.Equal(t, NotStarted, second.State())
	require.NoError(t, second.Start())
	clock.advance(30 * time.Millisecond)
	require.NoError(t, second.Stop(Failed))

	require.Len(t, rec.records, 2)
	assert.Equal(t, 10*time.Millisecond, rec.records[0].Duration)
	assert.Equal(t, Passed, rec.records[0].Status)
	assert.Equal(t, 30*time.Millisecond, rec.records[1].Duration)
	assert.Equal(t, Failed, rec.records[1].Status)
	assert.Equal(t, Ended, first.State(), "the earlier measurement is left untouched")
	assert.Equal(t, []string{"login"}, tr.Names())
}
