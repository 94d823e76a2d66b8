package flash

import (
	"sync"

	"github.com/ehrlich-b/go-dfu"
)

// WriteRecord is one observed StartWrite call, accepted or not
type WriteRecord struct {
	Addr     uint32
	Data     []byte
	Accepted bool
}

// Recorder wraps another Flash and records every driver interaction, so
// harnesses can assert on write ordering, busy rejections and poll counts
// without replacing the driver under test.
type Recorder struct {
	mu sync.Mutex

	inner       dfu.Flash
	writes      []WriteRecord
	polls       int
	completions int
}

// NewRecorder wraps inner
func NewRecorder(inner dfu.Flash) *Recorder {
	return &Recorder{inner: inner}
}

// StartWrite implements the Flash capability, delegating to the wrapped
// driver and recording the outcome
func (r *Recorder) StartWrite(addr uint32, p []byte) bool {
	accepted := r.inner.StartWrite(addr, p)

	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]byte, len(p))
	copy(data, p)
	r.writes = append(r.writes, WriteRecord{Addr: addr, Data: data, Accepted: accepted})
	return accepted
}

// OperationComplete implements the Flash capability
func (r *Recorder) OperationComplete() bool {
	done := r.inner.OperationComplete()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.polls++
	if done {
		r.completions++
	}
	return done
}

// Writes returns a copy of every recorded StartWrite call in order
func (r *Recorder) Writes() []WriteRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]WriteRecord, len(r.writes))
	copy(out, r.writes)
	return out
}

// Accepted returns only the writes the wrapped driver took
func (r *Recorder) Accepted() []WriteRecord {
	var out []WriteRecord
	for _, w := range r.Writes() {
		if w.Accepted {
			out = append(out, w)
		}
	}
	return out
}

// Rejected returns only the writes the wrapped driver refused
func (r *Recorder) Rejected() []WriteRecord {
	var out []WriteRecord
	for _, w := range r.Writes() {
		if !w.Accepted {
			out = append(out, w)
		}
	}
	return out
}

// Polls returns how many completion polls were observed
func (r *Recorder) Polls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls
}

// Completions returns how many polls reported the driver idle
func (r *Recorder) Completions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completions
}

// Reset discards everything recorded so far
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = nil
	r.polls = 0
	r.completions = 0
}

var _ dfu.Flash = (*Recorder)(nil)
