package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harvestly/warden/pkg/model"
)

// DefaultJoinWait bounds how long Fanout waits for stragglers. A channel
// still in flight past this deadline is counted as failed; its goroutine
// finishes on its own.
const DefaultJoinWait = 30 * time.Second

// FanoutResult aggregates per-channel outcomes of one fanout.
type FanoutResult struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type registeredChannel struct {
	config  Config
	channel Channel
	streak  int // consecutive send failures, guarded by Dispatcher.mu
}

// Dispatcher fans alerts out to registered channels. Channels are
// dispatched concurrently and independently; one channel's failure or hang
// never blocks the others.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]*registeredChannel
	joinWait time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		channels: make(map[string]*registeredChannel),
		joinWait: DefaultJoinWait,
		logger:   logger,
	}
}

// Register adds a channel under its config. Registering a duplicate name or
// an inconsistent config is a setup error.
func (d *Dispatcher) Register(config Config, ch Channel) error {
	if config.Name == "" {
		config.Name = ch.Name()
	}
	if config.Name != ch.Name() {
		return fmt.Errorf("%w: config name %q does not match channel %q", ErrChannelConfig, config.Name, ch.Name())
	}
	if config.MinLevel != "" && config.MinLevel.Rank() < 0 {
		return fmt.Errorf("%w: unknown min level %q for channel %q", ErrChannelConfig, config.MinLevel, config.Name)
	}
	if config.MinLevel == "" {
		config.MinLevel = model.LevelInfo
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.channels[config.Name]; ok {
		return fmt.Errorf("%w: channel %q already registered", ErrChannelConfig, config.Name)
	}
	d.channels[config.Name] = &registeredChannel{config: config, channel: ch}
	return nil
}

// Unregister removes a channel by name.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.channels, name)
}

// Fanout delivers the alert to every matching channel concurrently and
// returns aggregate counts. It does not retry on the caller's behalf.
func (d *Dispatcher) Fanout(ctx context.Context, alert model.Alert) FanoutResult {
	d.mu.RLock()
	targets := make([]*registeredChannel, 0, len(d.channels))
	var skipped int
	for _, rc := range d.channels {
		if rc.config.ShouldNotify(&alert) {
			targets = append(targets, rc)
		} else {
			skipped++
		}
	}
	d.mu.RUnlock()

	result := FanoutResult{Skipped: skipped}
	if len(targets) == 0 {
		return result
	}

	type outcome struct {
		rc  *registeredChannel
		err error
	}
	results := make(chan outcome, len(targets))

	var wg sync.WaitGroup
	for _, rc := range targets {
		wg.Add(1)
		go func(rc *registeredChannel) {
			defer wg.Done()
			results <- outcome{rc: rc, err: rc.channel.Send(ctx, alert)}
		}(rc)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	deadline := time.NewTimer(d.joinWait)
	defer deadline.Stop()

	pending := len(targets)
	for pending > 0 {
		select {
		case out := <-results:
			pending--
			d.recordOutcome(&alert, out.rc, out.err, &result)
		case <-done:
			// Drain anything already buffered.
			for pending > 0 {
				select {
				case out := <-results:
					pending--
					d.recordOutcome(&alert, out.rc, out.err, &result)
				default:
					pending = 0
				}
			}
		case <-deadline.C:
			result.Failed += pending
			d.logger.Warn("fanout join timed out",
				"alert_id", alert.ID,
				"stragglers", pending,
			)
			return result
		}
	}
	return result
}

func (d *Dispatcher) recordOutcome(alert *model.Alert, rc *registeredChannel, err error, result *FanoutResult) {
	d.mu.Lock()
	if err != nil {
		rc.streak++
	} else {
		rc.streak = 0
	}
	d.mu.Unlock()

	if err != nil {
		result.Failed++
		d.logger.Error("channel delivery failed",
			"channel", rc.channel.Name(),
			"alert_id", alert.ID,
			"level", alert.Level,
			"error", err,
		)
		return
	}
	result.Sent++
	d.logger.Debug("channel delivery succeeded",
		"channel", rc.channel.Name(),
		"alert_id", alert.ID,
	)
}

// FailureStreak returns the consecutive delivery failures for a channel,
// or -1 if the channel is not registered. Health probes use this to make
// a flapping channel visible in the health report.
func (d *Dispatcher) FailureStreak(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rc, ok := d.channels[name]
	if !ok {
		return -1
	}
	return rc.streak
}

// Channels returns the names of all registered channels.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	return names
}
