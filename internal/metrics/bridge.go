package metrics

import (
	"github.com/quarrypool/quarry/internal/events"
)

// EventBridge adapts the event stream into metric points so components
// emit once and both Kafka and InfluxDB see the traffic. It is composed
// alongside other sinks via events.NewMultiSink.
type EventBridge struct {
	recorder Recorder
}

// NewEventBridge wraps a recorder as an event sink.
func NewEventBridge(recorder Recorder) *EventBridge {
	return &EventBridge{recorder: recorder}
}

func (b *EventBridge) Publish(eventType events.Type, payload interface{}) {
	switch eventType {
	case events.TypeShareSubmitted:
		if p, ok := payload.(events.ShareEvent); ok {
			b.recorder.RecordShare(p.MinerAddr, p.Difficulty, p.Valid)
		}
	case events.TypeHashrateUpdate:
		if p, ok := payload.(events.HashrateEvent); ok {
			b.recorder.RecordHashrate(p.MinerAddr, p.Hashrate)
		}
	case events.TypeBlockFound:
		if p, ok := payload.(events.BlockEvent); ok {
			b.recorder.RecordBlockFound(p.Height, p.Reward)
		}
	case events.TypePayoutCompleted:
		if p, ok := payload.(events.PayoutEvent); ok {
			b.recorder.RecordPayout(p.MinerAddr, p.Amount, true)
		}
	case events.TypePayoutFailed:
		if p, ok := payload.(events.PayoutEvent); ok {
			b.recorder.RecordPayout(p.MinerAddr, p.Amount, false)
		}
	}
}

func (b *EventBridge) Close() error {
	b.recorder.Close()
	return nil
}

var _ events.Sink = (*EventBridge)(nil)
