package bridge

import (
	"errors"
	"time"

	"serial2mqtt/decoder"
	"serial2mqtt/mqtt"
	"serial2mqtt/serial"
)

// Drop kinds that do not come from the decoder.
const (
	KindNotConnected  = "not_connected"
	KindPublishFailed = "publish_failed"
	KindInvalidTopic  = "invalid_topic"
	KindLineTooLong   = "line_too_long"
	KindReadError     = "read_error"
)

// Outcome is the result of one loop iteration.
type Outcome struct {
	At   time.Time
	Line []byte
	// Record is set whenever the line decoded, even if publishing failed.
	Record decoder.Record
	Err    error
	// Kind labels the failure; empty when the record was published.
	Kind string
}

// Published reports whether the record reached the MQTT client.
func (o Outcome) Published() bool {
	return o.Err == nil
}

// Observer is notified of every Outcome, synchronously, from the loop
// goroutine. Implementations must not block.
type Observer interface {
	Observe(Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Outcome)

// Observe calls f(o).
func (f ObserverFunc) Observe(o Outcome) { f(o) }

func kindOf(err error) string {
	switch {
	case errors.Is(err, mqtt.ErrNotConnected):
		return KindNotConnected
	case errors.Is(err, mqtt.ErrInvalidTopic):
		return KindInvalidTopic
	case errors.Is(err, mqtt.ErrPublishFailed):
		return KindPublishFailed
	case errors.Is(err, serial.ErrLineTooLong):
		return KindLineTooLong
	default:
		return decoder.Kind(err)
	}
}
