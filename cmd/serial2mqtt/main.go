// Command serial2mqtt republishes JSON records read from a serial sensor
// receiver as MQTT messages.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"serial2mqtt/bridge"
	"serial2mqtt/config"
	"serial2mqtt/decoder"
	"serial2mqtt/internal/logging"
	"serial2mqtt/monitor"
	"serial2mqtt/mqtt"
	"serial2mqtt/serial"
	"serial2mqtt/storage"
	"serial2mqtt/txmap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger := logging.New(config.Default().Logging, os.Stderr)
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.Logging, os.Stderr)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("bridge stopped")
	}
	logger.Info().Msg("bye")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := newShutdown(cancel, os.Stdout, logger)
	defer stop.listen(ctx)()

	port, err := openPort(ctx, cfg.Serial)
	if err != nil {
		return err
	}
	if port == nil {
		return nil
	}
	defer port.Close()
	stop.closeOnSignal(port)
	logger.Info().Str("port", port.Name()).Int("baud", port.BaudRate()).Msg("serial port open")

	tx := txmap.New()
	state := stateObserver{tx: tx, logger: logger}
	if cfg.StateDB != "" {
		store, err := storage.Open(cfg.StateDB)
		if err != nil {
			return fmt.Errorf("open state db: %w", err)
		}
		defer store.Close()
		if err := store.Load(tx); err != nil {
			return err
		}
		state.store = store
	}
	observers := []bridge.Observer{state}

	pub := mqtt.NewPublisher(cfg.MQTT, logger)
	defer pub.Close()

	var (
		b   *bridge.Bridge
		mon *monitor.Server
	)
	if cfg.MonitorAddr != "" {
		mon = monitor.New(tx, func() monitor.Status { return statusOf(b) }, logger)
		observers = append(observers, monitorObserver(mon))
	}

	b = bridge.New(serial.NewLineReader(port, cfg.Serial.MaxLine), pub, bridge.Options{
		Decoder: decoder.Options{
			TopicKey:    cfg.Bridge.TopicKey,
			TopicPrefix: cfg.Bridge.TopicPrefix,
		},
		Echo:             cfg.Bridge.Echo,
		ReconnectInitial: cfg.Bridge.ReconnectInitial,
		ReconnectMax:     cfg.Bridge.ReconnectMax,
	}, logger, observers...)

	if mon != nil {
		go func() {
			if err := mon.ListenAndServe(ctx, cfg.MonitorAddr); err != nil {
				logger.Error().Err(err).Msg("monitor stopped")
			}
		}()
	}

	err = b.Run(ctx)
	c := b.Counters()
	logger.Info().
		Uint64("lines", c.Lines).
		Uint64("published", c.Published).
		Uint64("dropped", c.Dropped).
		Msg("bridge finished")
	return err
}
