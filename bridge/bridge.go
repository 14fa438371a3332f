// Package bridge runs the read, decode, publish loop.
package bridge

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"serial2mqtt/decoder"
	"serial2mqtt/mqtt"
	"serial2mqtt/serial"
)

const defaultReadErrorPause = time.Second

// Publisher is the MQTT side of the bridge.
type Publisher interface {
	IsConnected() bool
	EnsureConnected(ctx context.Context) error
	Publish(topic string, payload []byte) error
}

// LineSource yields one raw line per call, blocking until one is available.
type LineSource interface {
	ReadLine() ([]byte, error)
}

// Options configures a Bridge.
type Options struct {
	Decoder decoder.Options
	// Echo logs every raw line at info level.
	Echo             bool
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// ReadErrorPause is the wait after an unexpected read error.
	ReadErrorPause time.Duration
}

// Counters is a snapshot of the loop's totals.
type Counters struct {
	Lines     uint64 `json:"lines"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

// Bridge moves records from a LineSource to a Publisher, one at a time and in
// arrival order. A Bridge is driven by a single goroutine through Run.
type Bridge struct {
	src       LineSource
	pub       Publisher
	opts      Options
	logger    zerolog.Logger
	observers []Observer
	gate      *reconnectGate
	now       func() time.Time

	lines     atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

// New returns a Bridge reading from src and publishing through pub.
func New(src LineSource, pub Publisher, opts Options, logger zerolog.Logger, observers ...Observer) *Bridge {
	if opts.ReadErrorPause <= 0 {
		opts.ReadErrorPause = defaultReadErrorPause
	}
	return &Bridge{
		src:       src,
		pub:       pub,
		opts:      opts,
		logger:    logger.With().Str("component", "bridge").Logger(),
		observers: observers,
		gate:      newReconnectGate(opts.ReconnectInitial, opts.ReconnectMax),
		now:       time.Now,
	}
}

// Counters returns the current totals. Safe for concurrent use.
func (b *Bridge) Counters() Counters {
	return Counters{
		Lines:     b.lines.Load(),
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// Connected reports the MQTT link state. Safe for concurrent use.
func (b *Bridge) Connected() bool {
	return b.pub.IsConnected()
}

// Run loops until ctx is cancelled or the source reaches end of stream, in
// which case it returns nil. A source that fails after being closed without
// ctx being cancelled ends Run with that error. Every other failure is
// reported as an Outcome and the loop continues.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info().Msg("bridge started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		b.ensureConnected(ctx)

		line, err := b.src.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			switch {
			case errors.Is(err, io.EOF):
				b.logger.Info().Msg("serial stream ended")
				return nil
			case errors.Is(err, serial.ErrClosed):
				return err
			case errors.Is(err, serial.ErrLineTooLong):
				b.report(Outcome{At: b.now(), Err: err, Kind: KindLineTooLong})
			default:
				b.report(Outcome{At: b.now(), Err: err, Kind: KindReadError})
				if !sleep(ctx, b.opts.ReadErrorPause) {
					return nil
				}
			}
			continue
		}

		b.report(b.process(ctx, line))
	}
}

// Process decodes and publishes one line and returns the outcome without
// notifying observers. It never connects; use Run for the full loop.
func (b *Bridge) Process(line []byte) Outcome {
	return b.publish(b.decode(line))
}

func (b *Bridge) process(ctx context.Context, line []byte) Outcome {
	out := b.decode(line)
	if out.Err != nil {
		return out
	}
	// The link may have dropped while the loop was blocked on the read.
	b.ensureConnected(ctx)
	return b.publish(out)
}

func (b *Bridge) decode(line []byte) Outcome {
	out := Outcome{At: b.now(), Line: line}
	if b.opts.Echo {
		b.logger.Info().Bytes("line", line).Msg("rx")
	}
	rec, err := decoder.DecodeRecord(line, b.opts.Decoder)
	if err != nil {
		out.Err = err
		out.Kind = decoder.Kind(err)
		return out
	}
	out.Record = rec
	return out
}

func (b *Bridge) publish(out Outcome) Outcome {
	if out.Err != nil {
		return out
	}
	// Nothing is handed to the client while the link is down.
	if !b.pub.IsConnected() {
		out.Err = mqtt.ErrNotConnected
		out.Kind = KindNotConnected
		return out
	}
	if err := b.pub.Publish(out.Record.Topic, out.Record.Payload); err != nil {
		out.Err = err
		out.Kind = kindOf(err)
	}
	return out
}

// ensureConnected connects when the link is down and the reconnect gate
// allows another attempt. Failures are logged and retried later.
func (b *Bridge) ensureConnected(ctx context.Context) {
	if b.pub.IsConnected() {
		b.gate.reset()
		return
	}
	now := b.now()
	if !b.gate.ready(now) {
		return
	}
	if err := b.pub.EnsureConnected(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		wait := b.gate.failed(now)
		b.logger.Warn().Err(err).Dur("retry_in", wait).Msg("mqtt connect failed")
		return
	}
	b.gate.reset()
}

func (b *Bridge) report(out Outcome) {
	switch {
	case out.Kind == KindReadError:
		b.logger.Error().Err(out.Err).Msg("serial read failed")
	case out.Published():
		b.lines.Add(1)
		b.published.Add(1)
		b.logger.Info().
			Str("topic", out.Record.Topic).
			Int("bytes", len(out.Record.Payload)).
			Msg("published")
	default:
		b.lines.Add(1)
		b.dropped.Add(1)
		ev := b.logger.Warn().Err(out.Err).Str("kind", out.Kind)
		if out.Record.Topic != "" {
			ev = ev.Str("topic", out.Record.Topic)
		}
		ev.Msg("record dropped")
	}
	for _, o := range b.observers {
		o.Observe(out)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
