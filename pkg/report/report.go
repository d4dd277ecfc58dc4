package report

import (
	"sync"

	"github.com/maxgio92/pyrospy/pkg/stack"
)

type entry struct {
	trace stack.Trace
	count uint64
}

// Report is a concurrency-safe multiset of stack traces: it maps every
// normalized trace to the number of times it was observed in the current
// window.
type Report struct {
	mu       sync.Mutex
	data     map[string]*entry
	poisoned bool
}

func New() *Report {
	return &Report{
		data: make(map[string]*entry),
	}
}

// lock acquires exclusive access, failing when a previous holder
// panicked.
func (r *Report) lock() error {
	r.mu.Lock()
	if r.poisoned {
		r.mu.Unlock()
		return ErrPoisoned
	}
	return nil
}

// unlock must be deferred right after a successful lock: a panic in the
// critical section poisons the report before propagating.
func (r *Report) unlock() {
	if p := recover(); p != nil {
		r.poisoned = true
		r.mu.Unlock()
		panic(p)
	}
	r.mu.Unlock()
}

// Record increments the count of the trace, inserting it with count 1
// when first seen. The report retains the trace: callers must not
// modify it afterwards.
func (r *Report) Record(trace stack.Trace) error {
	if err := r.lock(); err != nil {
		return err
	}
	defer r.unlock()

	r.add(trace.Key(), trace, 1)

	return nil
}

func (r *Report) add(key string, trace stack.Trace, n uint64) {
	if e, ok := r.data[key]; ok {
		e.count += n
		return
	}
	r.data[key] = &entry{trace: trace, count: n}
}

// Merge adds the counts of other into r. Keys only present in other are
// inserted. A nil other is a no-op.
func (r *Report) Merge(other *Report) error {
	if other == nil {
		return nil
	}
	if other == r {
		if err := r.lock(); err != nil {
			return err
		}
		defer r.unlock()

		for _, e := range r.data {
			e.count *= 2
		}
		return nil
	}

	// Snapshot first, so that the two locks are never held together.
	snapshot, err := other.snapshot()
	if err != nil {
		return err
	}

	if err := r.lock(); err != nil {
		return err
	}
	defer r.unlock()

	for key, e := range snapshot {
		r.add(key, e.trace, e.count)
	}

	return nil
}

func (r *Report) snapshot() (map[string]entry, error) {
	if err := r.lock(); err != nil {
		return nil, err
	}
	defer r.unlock()

	s := make(map[string]entry, len(r.data))
	for key, e := range r.data {
		s[key] = entry{trace: e.trace.Clone(), count: e.count}
	}

	return s, nil
}

// Clear empties the report.
func (r *Report) Clear() error {
	if err := r.lock(); err != nil {
		return err
	}
	defer r.unlock()

	r.data = make(map[string]*entry)

	return nil
}

// IsEmpty reports whether no trace was recorded since the last clear. A
// poisoned report is reported as empty.
func (r *Report) IsEmpty() bool {
	return r.Len() == 0
}

// Len returns the number of distinct traces.
func (r *Report) Len() int {
	if err := r.lock(); err != nil {
		return 0
	}
	defer r.unlock()

	return len(r.data)
}

// Count returns how many times the trace was recorded.
func (r *Report) Count(trace stack.Trace) uint64 {
	if err := r.lock(); err != nil {
		return 0
	}
	defer r.unlock()

	if e, ok := r.data[trace.Key()]; ok {
		return e.count
	}
	return 0
}

// Total returns the sum of all counts.
func (r *Report) Total() uint64 {
	if err := r.lock(); err != nil {
		return 0
	}
	defer r.unlock()

	var total uint64
	for _, e := range r.data {
		total += e.count
	}
	return total
}
