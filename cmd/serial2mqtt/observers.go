package main

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"serial2mqtt/bridge"
	"serial2mqtt/monitor"
	"serial2mqtt/storage"
	"serial2mqtt/txmap"
)

// stateObserver keeps the transmitter counters, and their persisted copy
// when a store is configured.
type stateObserver struct {
	tx     *txmap.Map
	store  *storage.Store
	logger zerolog.Logger
}

func (o stateObserver) Observe(out bridge.Outcome) {
	switch {
	case out.Kind == bridge.KindReadError:
		return
	case out.Published():
		o.tx.Seen(out.Record.Topic, out.Record.Key, out.At)
		if o.store != nil {
			if err := o.store.AddPublished(out.Record.Topic, out.Record.Key, out.At); err != nil {
				o.logger.Error().Err(err).Msg("persist transmitter")
			}
		}
	default:
		o.tx.Dropped(out.Kind)
		if o.store != nil {
			if err := o.store.AddDropped(out.Kind); err != nil {
				o.logger.Error().Err(err).Msg("persist drop")
			}
		}
	}
}

func monitorObserver(mon *monitor.Server) bridge.Observer {
	return bridge.ObserverFunc(func(out bridge.Outcome) {
		mon.Broadcast(eventOf(out))
	})
}

func eventOf(out bridge.Outcome) monitor.Event {
	ev := monitor.Event{
		Time:      out.At,
		Topic:     out.Record.Topic,
		Published: out.Published(),
		Kind:      out.Kind,
	}
	if len(out.Record.Payload) > 0 {
		ev.Payload = json.RawMessage(out.Record.Payload)
	}
	if out.Err != nil {
		ev.Error = out.Err.Error()
	}
	return ev
}

func statusOf(b *bridge.Bridge) monitor.Status {
	if b == nil {
		return monitor.Status{}
	}
	c := b.Counters()
	return monitor.Status{
		Connected: b.Connected(),
		Lines:     c.Lines,
		Published: c.Published,
		Dropped:   c.Dropped,
	}
}
