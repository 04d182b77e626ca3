package events

// MultiSink fans every event out to several sinks. Each sink keeps its
// own at-most-once semantics.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Publish(eventType Type, payload interface{}) {
	for _, s := range m.sinks {
		s.Publish(eventType, payload)
	}
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ Sink = (*MultiSink)(nil)
