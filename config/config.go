package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"grindstone.dev/grindstone/rpc/batching"
)

// Duration is a time.Duration written in config documents as a string such
// as "250ms" or "10s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Batching controls how barrier messages are grouped before delivery.
type Batching struct {
	MaxSize  int      `json:"maxSize"`
	MaxDelay Duration `json:"maxDelay"`
}

func (b Batching) Params() batching.EventBatcherParams {
	return batching.EventBatcherParams{
		MaxSize:  b.MaxSize,
		MaxDelay: b.MaxDelay.Std(),
	}
}

func (b Batching) validate() error {
	var err error
	if b.MaxSize < 0 {
		err = errors.Join(err, fmt.Errorf("batching.maxSize must not be negative but was %d", b.MaxSize))
	}
	if b.MaxSize > 1 && b.MaxDelay <= 0 {
		err = errors.Join(err, fmt.Errorf("batching.maxDelay is required when batching.maxSize is above 1"))
	}
	return err
}

var defaultBatching = Batching{
	MaxSize:  100,
	MaxDelay: Duration(5 * time.Millisecond),
}

// The object representing coordinator configuration.
type CoordinatorConfig struct {
	RPCAddr           string   `json:"rpcAddr"`
	AdminAddr         string   `json:"adminAddr"`
	HeartbeatDeadline Duration `json:"heartbeatDeadline"`
	Batching          Batching `json:"batching"`
	LogLevel          string   `json:"logLevel"`
}

func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		RPCAddr:           "127.0.0.1:8081",
		AdminAddr:         "127.0.0.1:8080",
		HeartbeatDeadline: Duration(10 * time.Second),
		Batching:          defaultBatching,
		LogLevel:          "info",
	}
}

func (c *CoordinatorConfig) Validate() (err error) {
	if c.RPCAddr == "" {
		err = errors.Join(err, fmt.Errorf("rpcAddr is required"))
	}
	if c.HeartbeatDeadline <= 0 {
		err = errors.Join(err, fmt.Errorf("heartbeatDeadline must be positive"))
	}
	if _, levelErr := ParseLogLevel(c.LogLevel); levelErr != nil {
		err = errors.Join(err, levelErr)
	}
	return errors.Join(err, c.Batching.validate())
}

// The object representing worker configuration.
type WorkerConfig struct {
	Addr             string   `json:"addr"`
	Host             string   `json:"host"` // Optional, resolved from the node's address when empty
	CoordinatorAddr  string   `json:"coordinatorAddr"`
	RegisterInterval Duration `json:"registerInterval"`
	Batching         Batching `json:"batching"`
	LogLevel         string   `json:"logLevel"`
}

func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Addr:             ":0",
		CoordinatorAddr:  "127.0.0.1:8081",
		RegisterInterval: Duration(3 * time.Second),
		Batching:         defaultBatching,
		LogLevel:         "info",
	}
}

func (c *WorkerConfig) Validate() (err error) {
	if c.CoordinatorAddr == "" {
		err = errors.Join(err, fmt.Errorf("coordinatorAddr is required"))
	}
	if c.RegisterInterval <= 0 {
		err = errors.Join(err, fmt.Errorf("registerInterval must be positive"))
	}
	if _, levelErr := ParseLogLevel(c.LogLevel); levelErr != nil {
		err = errors.Join(err, levelErr)
	}
	return errors.Join(err, c.Batching.validate())
}

func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("invalid logLevel %q: %w", level, err)
	}
	return l, nil
}
