package queue

import "sync/atomic"

// Sequencer stamps price checks in enqueue order.
type Sequencer struct{ n atomic.Uint64 }

func (s *Sequencer) Next() uint64 { return s.n.Add(1) }

// Last returns the most recently issued number, 0 if none.
func (s *Sequencer) Last() uint64 { return s.n.Load() }
