package common

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Defaults of the proxy configuration
const (
	DefaultListenAddr        = "127.0.0.1:23432"
	DefaultBackendAddr       = "127.0.0.1:11211"
	DefaultStatsAddr         = "127.0.0.1:42024"
	DefaultBufferSize        = 2048
	DefaultMaxSessions       = 32768
	DefaultDialTimeoutMillis = 1000
	DefaultPollEvents        = 1024
	DefaultReservoirSize     = 16384
)

// --------------------------------------------------------------------------
// Proxy configuration struct
// --------------------------------------------------------------------------

// ProxyConfig holds all configuration parameters of the proxy
type ProxyConfig struct {
	// ListenAddr is the address clients connect to
	ListenAddr string
	// BackendAddr is the address every client is relayed to
	BackendAddr string
	// StatsAddr serves /metrics, /stats and /healthz, empty disables it
	StatsAddr string

	// relay settings
	BufferSize        int
	MaxSessions       int
	TCPNoDelay        bool
	DialTimeoutMillis int
	PollEvents        int

	// stats settings
	ReservoirSize int

	// Logging configuration
	LogLevel string
	// Trace logs every readiness event of the reactor
	Trace bool
}

// DefaultProxyConfig returns a configuration with every default applied
func DefaultProxyConfig() *ProxyConfig {
	return &ProxyConfig{
		ListenAddr:        DefaultListenAddr,
		BackendAddr:       DefaultBackendAddr,
		StatsAddr:         DefaultStatsAddr,
		BufferSize:        DefaultBufferSize,
		MaxSessions:       DefaultMaxSessions,
		TCPNoDelay:        true,
		DialTimeoutMillis: DefaultDialTimeoutMillis,
		PollEvents:        DefaultPollEvents,
		ReservoirSize:     DefaultReservoirSize,
		LogLevel:          "info",
	}
}

// DialTimeout returns the backend dial timeout as a duration
func (c *ProxyConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMillis) * time.Millisecond
}

// Validate checks the configuration for values the proxy cannot run with
func (c *ProxyConfig) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("invalid listen address %q: %w", c.ListenAddr, err))
	}
	if _, _, err := net.SplitHostPort(c.BackendAddr); err != nil {
		errs = append(errs, fmt.Errorf("invalid backend address %q: %w", c.BackendAddr, err))
	}
	if c.StatsAddr != "" {
		if _, _, err := net.SplitHostPort(c.StatsAddr); err != nil {
			errs = append(errs, fmt.Errorf("invalid stats address %q: %w", c.StatsAddr, err))
		}
	}
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer size must be positive, got %d", c.BufferSize))
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("max sessions must be positive, got %d", c.MaxSessions))
	}
	if c.DialTimeoutMillis < 0 {
		errs = append(errs, fmt.Errorf("dial timeout must not be negative, got %d", c.DialTimeoutMillis))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// String returns a formatted string representation of the configuration
func (c *ProxyConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Proxy")
	addField("Listen Address", c.ListenAddr)
	addField("Backend Address", c.BackendAddr)
	addField("Dial Timeout", fmt.Sprintf("%d ms", c.DialTimeoutMillis))

	addSection("Relay")
	addField("Buffer Size", fmt.Sprintf("%d bytes", c.BufferSize))
	addField("Max Sessions", strconv.Itoa(c.MaxSessions))
	addField("TCP No Delay", strconv.FormatBool(c.TCPNoDelay))
	addField("Poll Events", strconv.Itoa(c.PollEvents))

	addSection("Stats")
	if c.StatsAddr == "" {
		addField("Endpoint", "disabled")
	} else {
		addField("Endpoint", c.StatsAddr)
	}
	addField("Reservoir Size", strconv.Itoa(c.ReservoirSize))

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Reactor Trace", strconv.FormatBool(c.Trace))

	return sb.String()
}

// --------------------------------------------------------------------------
// Harness client configuration struct
// --------------------------------------------------------------------------

// ClientMode selects the protocol the harness client speaks
type ClientMode string

const (
	ClientModeEcho  ClientMode = "echo"
	ClientModeRedis ClientMode = "redis"
)

// ClientConfig configures the test harness client
type ClientConfig struct {
	// Target is the proxy address the client dials
	Target string
	// Messages are sent in order, one at a time, per round
	Messages []string
	// Count is the number of rounds per connection
	Count int
	// Connections is the number of concurrent connections
	Connections int
	// TimeoutSecond bounds every single exchange
	TimeoutSecond int
	Mode          ClientMode
}

// Timeout returns the exchange timeout as a duration
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Target", c.Target)
	addField("Mode", string(c.Mode))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Rounds", strconv.Itoa(c.Count))
	addField("Connections", strconv.Itoa(max(1, c.Connections)))

	if c.Mode != ClientModeRedis {
		addSection("Messages")
		for i, msg := range c.Messages {
			sb.WriteString(fmt.Sprintf("  %d: %q\n", i+1, msg))
		}
	}

	return sb.String()
}
