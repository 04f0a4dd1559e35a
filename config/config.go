// Package config loads the process manager's knobs — restart policy,
// heartbeat, data channel, reconnect, shutdown — from a TOML file with
// github.com/BurntSushi/toml, and supplies this module's documented
// defaults for each.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// BackoffKind selects the restart/reconnect delay curve.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// RestartPolicy governs process respawn after a non-clean exit.
type RestartPolicy struct {
	Enabled     bool          `toml:"enabled"`
	MaxRestarts int           `toml:"max_restarts"`
	WindowMS    int64         `toml:"window_ms"`
	Backoff     BackoffKind   `toml:"backoff"`
	BaseDelayMS int64         `toml:"base_delay_ms"`
	MaxDelayMS  int64         `toml:"max_delay_ms"`
	Multiplier  float64       `toml:"multiplier"`
}

// Window returns WindowMS as a time.Duration.
func (p RestartPolicy) Window() time.Duration { return time.Duration(p.WindowMS) * time.Millisecond }

// DefaultRestartPolicy returns a policy enabled with exponential backoff.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		Enabled:     true,
		MaxRestarts: 5,
		WindowMS:    60_000,
		Backoff:     BackoffExponential,
		BaseDelayMS: 200,
		MaxDelayMS:  10_000,
		Multiplier:  2,
	}
}

// HeartbeatOptions governs the manager's periodic liveness ping, default
// interval >=1s.
type HeartbeatOptions struct {
	Enabled         bool  `toml:"enabled"`
	IntervalMS      int64 `toml:"interval_ms"`
	MissesAllowed   int   `toml:"misses_allowed"`
	ReplyTimeoutMS  int64 `toml:"reply_timeout_ms"`
}

func (h HeartbeatOptions) Interval() time.Duration { return time.Duration(h.IntervalMS) * time.Millisecond }
func (h HeartbeatOptions) ReplyTimeout() time.Duration {
	return time.Duration(h.ReplyTimeoutMS) * time.Millisecond
}

// DefaultHeartbeatOptions is the documented default: interval 1s, 3
// consecutive misses before the handle is declared dead.
func DefaultHeartbeatOptions() HeartbeatOptions {
	return HeartbeatOptions{Enabled: true, IntervalMS: 1000, MissesAllowed: 3, ReplyTimeoutMS: 2000}
}

// DataChannelOptions configures the optional second transport.
type DataChannelOptions struct {
	Enabled       bool   `toml:"enabled"`
	Serialization string `toml:"serialization"`
	Namespace     string `toml:"namespace"`
}

// SpawnOptions describes one worker process to launch.
type SpawnOptions struct {
	ExecutablePath string            `toml:"executable_path"`
	Args           []string          `toml:"args"`
	Cwd            string            `toml:"cwd"`
	Env            map[string]string `toml:"env"`
	DataChannel    DataChannelOptions `toml:"data_channel"`
	Restart        RestartPolicy      `toml:"restart"`
	Heartbeat      HeartbeatOptions   `toml:"heartbeat"`
	HandshakeTimeoutMS int64          `toml:"handshake_timeout_ms"`
}

func (s SpawnOptions) HandshakeTimeout() time.Duration {
	if s.HandshakeTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.HandshakeTimeoutMS) * time.Millisecond
}

// ReconnectOptions governs the data-channel reconnect manager's backoff
// and request queueing.
type ReconnectOptions struct {
	InitialDelayMS int64   `toml:"initial_delay_ms"`
	MaxDelayMS     int64   `toml:"max_delay_ms"`
	Multiplier     float64 `toml:"multiplier"`
	Jitter         float64 `toml:"jitter"`
	MaxAttempts    int     `toml:"max_attempts"` // <=0 means unbounded

	QueueRequests bool  `toml:"queue_requests"`
	MaxQueueSize  int   `toml:"max_queue_size"`
	QueueTimeoutMS int64 `toml:"queue_timeout_ms"`
}

func (r ReconnectOptions) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMS) * time.Millisecond
}
func (r ReconnectOptions) MaxDelay() time.Duration { return time.Duration(r.MaxDelayMS) * time.Millisecond }
func (r ReconnectOptions) QueueTimeout() time.Duration {
	return time.Duration(r.QueueTimeoutMS) * time.Millisecond
}

// DefaultReconnectOptions returns the documented default backoff curve and
// queue limits.
func DefaultReconnectOptions() ReconnectOptions {
	return ReconnectOptions{
		InitialDelayMS: 100,
		MaxDelayMS:     30_000,
		Multiplier:     2,
		Jitter:         0.1,
		MaxAttempts:    0,
		QueueRequests:  true,
		MaxQueueSize:   256,
		QueueTimeoutMS: 60_000,
	}
}

// ShutdownOptions governs the graceful shutdown state machine.
type ShutdownOptions struct {
	GracefulTimeoutMS int64 `toml:"graceful_timeout_ms"`
	ExitWaitMS        int64 `toml:"exit_wait_ms"`
}

func (s ShutdownOptions) GracefulTimeout() time.Duration {
	return time.Duration(s.GracefulTimeoutMS) * time.Millisecond
}
func (s ShutdownOptions) ExitWait() time.Duration { return time.Duration(s.ExitWaitMS) * time.Millisecond }

// DefaultShutdownOptions returns the documented default timings.
func DefaultShutdownOptions() ShutdownOptions {
	return ShutdownOptions{GracefulTimeoutMS: 5_000, ExitWaitMS: 2_000}
}

// ProcessManagerConfig is the top-level document loaded from TOML,
// enumerating every worker the manager should own plus the terminate-all
// deadline.
type ProcessManagerConfig struct {
	Workers               []SpawnOptions  `toml:"worker"`
	Reconnect             ReconnectOptions `toml:"reconnect"`
	Shutdown              ShutdownOptions  `toml:"shutdown"`
	TerminateAllDeadlineMS int64           `toml:"terminate_all_deadline_ms"`
}

func (c ProcessManagerConfig) TerminateAllDeadline() time.Duration {
	if c.TerminateAllDeadlineMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TerminateAllDeadlineMS) * time.Millisecond
}

// Default returns a ProcessManagerConfig with no workers and every
// sub-option set to its documented default, suitable as a base that Load
// overlays onto.
func Default() ProcessManagerConfig {
	return ProcessManagerConfig{
		Reconnect:              DefaultReconnectOptions(),
		Shutdown:               DefaultShutdownOptions(),
		TerminateAllDeadlineMS: 10_000,
	}
}

// Load reads and decodes a TOML document at path into a ProcessManagerConfig
// seeded with Default's values, so a document only needs to override what it
// changes.
func Load(path string) (ProcessManagerConfig, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return ProcessManagerConfig{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ProcessManagerConfig{}, fmt.Errorf("config: %s: unrecognized keys: %v", path, undecoded)
	}
	return cfg, nil
}
