package websocket

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Named process-wide defaults.
const (
	// DefaultKeepAliveInterval is the advisory ping cadence a surrounding
	// layer should use; the core never schedules pings itself.
	DefaultKeepAliveInterval = 30 * time.Second

	// DefaultCloseTimeout bounds how long CloseWithCode waits for the
	// peer's confirming Close frame before forcing state to Closed.
	DefaultCloseTimeout = 1000 * time.Millisecond

	// FragmentLength is the payload size of every non-terminal outbound
	// fragment.
	FragmentLength = 1016

	// defaultMaxFramePayload bounds a single inbound frame's declared
	// length; an implementation choice, not an RFC requirement.
	defaultMaxFramePayload = 32 * 1024 * 1024

	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096
)

// Config tunes a Conn's resource limits and timeouts. The zero value
// resolves to the named defaults via Normalize, so passing nil/zero Config
// to Upgrade is always safe.
//
// Loadable from YAML (e.g. a deployment config file) via LoadConfig, the
// same way a surrounding service would tune these without a recompile.
type Config struct {
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	CloseTimeout      time.Duration `yaml:"close_timeout"`
	MaxFramePayload   int64         `yaml:"max_frame_payload"`
	ReadBufferSize    int           `yaml:"read_buffer_size"`
	WriteBufferSize   int           `yaml:"write_buffer_size"`

	// MaxQueuedMessages caps the event queue (0 = unbounded). Exceeding it
	// closes the connection with CloseMessageTooBig.
	MaxQueuedMessages int `yaml:"max_queued_messages"`

	// EnableCompression negotiates permessage-deflate during Upgrade.
	EnableCompression bool `yaml:"enable_compression"`
}

// Normalize returns a copy of cfg with every zero field replaced by its
// named default. A nil receiver yields all-default Config.
func (cfg *Config) Normalize() *Config {
	out := Config{}
	if cfg != nil {
		out = *cfg
	}

	if out.KeepAliveInterval == 0 {
		out.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if out.CloseTimeout == 0 {
		out.CloseTimeout = DefaultCloseTimeout
	}
	if out.MaxFramePayload == 0 {
		out.MaxFramePayload = defaultMaxFramePayload
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = defaultReadBufferSize
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = defaultWriteBufferSize
	}

	return &out
}

// LoadConfig reads a YAML document from path and returns a normalized
// Config. Missing fields fall back to the named defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return cfg.Normalize(), nil
}
