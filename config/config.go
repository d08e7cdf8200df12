package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	RoleHub    = "hub"
	RoleClient = "client"
	RolePeer   = "peer"
)

var ErrInvalidConfig = errors.New("invalid config")

// Duration is a time.Duration stored as a Go duration string ("5s", "150ms").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the configuration for a meshlink node
type Config struct {
	// Default config file location
	configFile string

	Node struct {
		Role                string   `json:"role"`                  // hub, client or peer
		Interface           string   `json:"interface"`             // Restrict local address lookup to this interface, empty for any
		LocalAddressTimeout Duration `json:"local_address_timeout"` // Give up when no local address shows up in time
		AdvertisedAddress   string   `json:"advertised_address"`    // Overrides the resolved local address
	} `json:"node"`

	// Discovery settings define the datagram channel used for announcements
	Discovery struct {
		BroadcastAddress string   `json:"broadcast_address"` // Empty derives the directed broadcast of the local subnet
		Port             int      `json:"port"`
		AnnounceInterval Duration `json:"announce_interval"`
		AnnounceJitter   Duration `json:"announce_jitter"`
		TTL              Duration `json:"ttl"`
		LocateTimeout    Duration `json:"locate_timeout"`  // Per attempt, clients only
		LocateAttempts   int      `json:"locate_attempts"` // Clients give up after this many silent attempts, 0 retries forever
	} `json:"discovery"`

	Stream struct {
		Port         int      `json:"port"`
		Frequency    float64  `json:"frequency"` // Sends per second
		Limit        uint64   `json:"limit"`     // 0 sends forever
		QueueSize    int      `json:"queue_size"`
		WriteTimeout Duration `json:"write_timeout"`
		DialTimeout  Duration `json:"dial_timeout"`
	} `json:"stream"`

	DataStore struct {
		MessageLogPath string `json:"messages"` // Empty disables the message log
	} `json:"datastore"`

	Control struct {
		ListenAddress string `json:"listen"` // Empty disables the control endpoint
	} `json:"control"`

	Metrics struct {
		ListenAddress string `json:"listen"` // Empty disables the metrics endpoint
	} `json:"metrics"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Node.Role = RolePeer
	cfg.Node.LocalAddressTimeout = Duration(30 * time.Second)

	cfg.Discovery.Port = 50001
	cfg.Discovery.AnnounceInterval = Duration(5 * time.Second)
	cfg.Discovery.TTL = Duration(10 * time.Second)
	cfg.Discovery.LocateTimeout = Duration(15 * time.Second)
	cfg.Discovery.LocateAttempts = 8

	cfg.Stream.Port = 50000
	cfg.Stream.Frequency = 10
	cfg.Stream.QueueSize = 64
	cfg.Stream.WriteTimeout = Duration(5 * time.Second)
	cfg.Stream.DialTimeout = Duration(3 * time.Second)

	cfg.DataStore.MessageLogPath = "/tmp/meshlink/messages"

	cfg.Control.ListenAddress = "127.0.0.1:50002"

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) File() string {
	return c.configFile
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	// We'll marshall our structure to JSON and write it into a file
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}

func (c *Config) Validate() error {
	switch c.Node.Role {
	case RoleHub, RoleClient, RolePeer:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, c.Node.Role)
	}
	if !validPort(c.Discovery.Port) || !validPort(c.Stream.Port) {
		return fmt.Errorf("%w: ports must be within 1-65535", ErrInvalidConfig)
	}
	if c.Stream.Frequency <= 0 {
		return fmt.Errorf("%w: stream frequency must be positive", ErrInvalidConfig)
	}
	if c.Discovery.AnnounceInterval <= 0 || c.Discovery.TTL <= 0 {
		return fmt.Errorf("%w: announce interval and ttl must be positive", ErrInvalidConfig)
	}
	if c.Stream.WriteTimeout <= 0 || c.Stream.DialTimeout <= 0 {
		return fmt.Errorf("%w: stream write and dial timeouts must be positive", ErrInvalidConfig)
	}
	if c.Discovery.TTL < c.Discovery.AnnounceInterval {
		log.Warnf("Config: ttl %v is shorter than the announce interval %v, peers will flap",
			c.Discovery.TTL.Std(), c.Discovery.AnnounceInterval.Std())
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
