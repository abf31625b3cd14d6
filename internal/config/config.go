package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ryandielhenn/zephyrgossip/pkg/gossip"
)

// DefaultGossipPort is appended to addresses given without a port.
const DefaultGossipPort = "7946"

// Config holds the process configuration of a gossip node.
type Config struct {
	SelfAddr       string // UDP endpoint, also the node's identity
	IntroducerAddr string // empty: resolve through etcd, or self when no etcd
	HTTPAddr       string

	TickInterval  time.Duration
	FailTimeout   time.Duration
	RemoveTimeout time.Duration
	GossipFanout  int
	QueueSize     int

	JoinRetryMax int // 0 disables join retries; -1 retries forever

	EtcdEndpoints []string
	EtcdTTL       int64

	LogDev bool
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		SelfAddr:      "127.0.0.1:7946",
		HTTPAddr:      ":8080",
		TickInterval:  gossip.DefaultTickInterval,
		FailTimeout:   gossip.DefaultFailTimeout,
		RemoveTimeout: gossip.DefaultRemoveTimeout,
		GossipFanout:  gossip.DefaultGossipFanout,
		QueueSize:     gossip.DefaultQueueSize,
		EtcdTTL:       10,
	}
}

// FromEnv overlays environment variables on Default. getenv is usually
// os.Getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	c := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("SELF_ADDR", &c.SelfAddr)
	str("INTRODUCER_ADDR", &c.IntroducerAddr)
	str("HTTP_ADDR", &c.HTTPAddr)
	dur("TICK_INTERVAL", &c.TickInterval)
	dur("T_FAIL", &c.FailTimeout)
	dur("T_REMOVE", &c.RemoveTimeout)
	num("GOSSIP_FANOUT", &c.GossipFanout)
	num("QUEUE_SIZE", &c.QueueSize)
	num("JOIN_RETRY_MAX", &c.JoinRetryMax)

	c.SelfAddr = NormalizeHostPort(c.SelfAddr, DefaultGossipPort)
	if c.IntroducerAddr != "" {
		c.IntroducerAddr = NormalizeHostPort(c.IntroducerAddr, DefaultGossipPort)
	}

	if v := getenv("ETCD_ENDPOINTS"); v != "" {
		c.EtcdEndpoints = ParseEndpoints(v)
	}
	ttl := int(c.EtcdTTL)
	num("ETCD_TTL", &ttl)
	c.EtcdTTL = int64(ttl)

	if v := getenv("LOG_DEV"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_DEV: %w", err))
		}
		c.LogDev = b
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// NormalizeHostPort cuts a udp:// prefix from the input address and adds a
// default port.
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "udp://"); ok {
		addr = rest
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return addr + ":" + defPort
}

// ParseEndpoints splits a comma-separated endpoint list, skipping blanks.
func ParseEndpoints(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks ranges and that every address parses.
func (c *Config) Validate() error {
	if _, err := gossip.ParseNodeID(c.SelfAddr); err != nil {
		return fmt.Errorf("SELF_ADDR: %w", err)
	}
	if c.IntroducerAddr != "" {
		if _, err := gossip.ParseNodeID(c.IntroducerAddr); err != nil {
			return fmt.Errorf("INTRODUCER_ADDR: %w", err)
		}
	}
	if c.TickInterval <= 0 || c.FailTimeout <= 0 || c.RemoveTimeout <= 0 {
		return fmt.Errorf("TICK_INTERVAL, T_FAIL and T_REMOVE must be positive (got %s, %s, %s)",
			c.TickInterval, c.FailTimeout, c.RemoveTimeout)
	}
	if c.FailTimeout < c.TickInterval {
		return fmt.Errorf("T_FAIL (%s) must be at least one TICK_INTERVAL (%s)", c.FailTimeout, c.TickInterval)
	}
	if c.GossipFanout <= 0 {
		return fmt.Errorf("GOSSIP_FANOUT must be positive, got %d", c.GossipFanout)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be positive, got %d", c.QueueSize)
	}
	if c.JoinRetryMax < -1 {
		return fmt.Errorf("JOIN_RETRY_MAX must be -1, 0 or positive, got %d", c.JoinRetryMax)
	}
	if len(c.EtcdEndpoints) > 0 && c.EtcdTTL <= 0 {
		return fmt.Errorf("ETCD_TTL must be positive, got %d", c.EtcdTTL)
	}
	return nil
}

// Self is the node identity derived from SelfAddr.
func (c *Config) Self() gossip.NodeID {
	id, _ := gossip.ParseNodeID(c.SelfAddr)
	return id
}

// GossipConfig translates the process settings into engine settings. The
// introducer is resolved by the caller.
func (c *Config) GossipConfig(introducer gossip.NodeID) gossip.Config {
	gc := gossip.Config{
		Self:          c.Self(),
		Introducer:    introducer,
		TickInterval:  c.TickInterval,
		FailTimeout:   c.FailTimeout,
		RemoveTimeout: c.RemoveTimeout,
		GossipFanout:  c.GossipFanout,
	}
	switch {
	case c.JoinRetryMax < 0:
		gc.JoinRetry = &gossip.JoinRetry{MaxWait: 30 * c.TickInterval}
	case c.JoinRetryMax > 0:
		gc.JoinRetry = &gossip.JoinRetry{MaxWait: 30 * c.TickInterval, MaxAttempts: c.JoinRetryMax + 1}
	}
	return gc
}
