package transfer

import (
	"fmt"
	"sync"

	"go.uber.org/zap/zapcore"
)

// Counts are the per-status totals of a run.
type Counts struct {
	Created int
	Updated int
	Skipped int
	Errored int
}

func (c Counts) Total() int {
	return c.Created + c.Updated + c.Skipped + c.Errored
}

func (c Counts) String() string {
	return fmt.Sprintf("created=%d updated=%d skipped=%d errored=%d", c.Created, c.Updated, c.Skipped, c.Errored)
}

// MarshalLogObject lets the counts be logged with zap.Object.
func (c Counts) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("created", c.Created)
	enc.AddInt("updated", c.Updated)
	enc.AddInt("skipped", c.Skipped)
	enc.AddInt("errored", c.Errored)
	return nil
}

// Summary collects outcomes. It is safe for concurrent use.
type Summary struct {
	mu       sync.Mutex
	counts   Counts
	outcomes []Outcome
}

func NewSummary() *Summary {
	return &Summary{}
}

func (s *Summary) Add(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch o.Status {
	case StatusCreated:
		s.counts.Created++
	case StatusUpdated:
		s.counts.Updated++
	case StatusSkipped:
		s.counts.Skipped++
	case StatusErrored:
		s.counts.Errored++
	}
	s.outcomes = append(s.outcomes, o)
}

func (s *Summary) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

// Outcomes returns every outcome in the order they were added.
func (s *Summary) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Outcome(nil), s.outcomes...)
}

func (s *Summary) Errored() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Outcome
	for _, o := range s.outcomes {
		if o.Status == StatusErrored {
			out = append(out, o)
		}
	}
	return out
}
