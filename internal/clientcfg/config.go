// Package clientcfg loads and validates a ClusterClient's configuration
// from YAML, following the same Load/ApplyDefaults/Validate shape the rest
// of this codebase's configuration uses.
package clientcfg

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClusterClientConfig is the top-level configuration for a cluster client,
// covering seed discovery, connection policy, read routing, and the
// background refresh/reconnect schedule (spec.md §6).
type ClusterClientConfig struct {
	Nodes    []NodeConfig `yaml:"nodes"`
	Username string       `yaml:"username"`
	Password string       `yaml:"password"`
	TLS      bool         `yaml:"tls"`

	// DatabaseID is sent as SELECT on every new connection; ClientName is
	// sent as CLIENT SETNAME. Both are optional, server-side bookkeeping
	// conveniences, not routing inputs.
	DatabaseID int    `yaml:"databaseId"`
	ClientName string `yaml:"clientName"`
	// Protocol selects RESP2 or RESP3 for the diagnostics client
	// (internal/diagnostics); the hand-rolled core wire client is RESP2-only
	// regardless of this setting (spec.md §1).
	Protocol string `yaml:"protocol"`

	ReadFrom         string `yaml:"readFrom"` // "primary", "preferReplica", "replicaOnly", "azAffinity", "azAffinityReplicasAndPrimary"
	ClientAZ         string `yaml:"clientAz"`
	ConnectionTimeout string `yaml:"connectionTimeout"`
	ResponseTimeout  string `yaml:"responseTimeout"`

	Retry     RetryConfig     `yaml:"retry"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Reconnect ReconnectConfig `yaml:"reconnect"`

	path string
}

// NodeConfig is one seed address the client may use to discover the rest
// of the cluster.
type NodeConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr formats the node as host:port.
func (n NodeConfig) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// RetryConfig bounds per-request retry behavior (internal/dispatcher).
type RetryConfig struct {
	NumberOfRetries int `yaml:"numberOfRetries"`
}

// RefreshConfig tunes the background refresh engine (internal/refresh).
type RefreshConfig struct {
	MinInterval        string  `yaml:"minInterval"`
	RatePerSecond      float64 `yaml:"ratePerSecond"`
	PeriodicCheckEvery string  `yaml:"periodicCheckEvery"`
	// ConnectionsValidationEvery tunes Engine.PeriodicConnectionValidation
	// (spec.md §4.F): how often slot-less addresses are dropped and live
	// connections are pinged for staleness.
	ConnectionsValidationEvery string `yaml:"connectionsValidationEvery"`
}

// ReconnectConfig tunes the per-address reconnect backoff
// (internal/refresh's reconnectLoop).
type ReconnectConfig struct {
	BaseDelay string `yaml:"baseDelay"`
	MaxDelay  string `yaml:"maxDelay"`
}

// ValidationError collects every configuration problem found, instead of
// failing on the first one.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid cluster client configuration")
	if e.Path != "" {
		b.WriteString(" (")
		b.WriteString(e.Path)
		b.WriteString(")")
	}
	for _, err := range e.Errors {
		b.WriteString("\n  - ")
		b.WriteString(err)
	}
	return b.String()
}

// Load reads and validates a ClusterClientConfig from a YAML file at path.
func Load(path string) (*ClusterClientConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg ClusterClientConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.path = path
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in every field Load doesn't require the caller to
// set explicitly.
func (c *ClusterClientConfig) ApplyDefaults() {
	if c.ReadFrom == "" {
		c.ReadFrom = "primary"
	}
	if c.ConnectionTimeout == "" {
		c.ConnectionTimeout = "3s"
	}
	if c.ResponseTimeout == "" {
		c.ResponseTimeout = "1s"
	}
	if c.Retry.NumberOfRetries <= 0 {
		c.Retry.NumberOfRetries = 4
	}
	if c.Refresh.MinInterval == "" {
		c.Refresh.MinInterval = "1s"
	}
	if c.Refresh.RatePerSecond <= 0 {
		c.Refresh.RatePerSecond = 1
	}
	if c.Refresh.PeriodicCheckEvery == "" {
		c.Refresh.PeriodicCheckEvery = "30s"
	}
	if c.Refresh.ConnectionsValidationEvery == "" {
		c.Refresh.ConnectionsValidationEvery = "60s"
	}
	if c.Reconnect.BaseDelay == "" {
		c.Reconnect.BaseDelay = "20ms"
	}
	if c.Reconnect.MaxDelay == "" {
		c.Reconnect.MaxDelay = "5s"
	}
	if c.Protocol == "" {
		c.Protocol = "resp3"
	}
}

// Validate ensures the configuration is internally consistent and usable.
func (c *ClusterClientConfig) Validate() error {
	var errs []string

	if len(c.Nodes) == 0 {
		errs = append(errs, "nodes: at least one seed node is required")
	}
	for i, n := range c.Nodes {
		if n.Host == "" {
			errs = append(errs, fmt.Sprintf("nodes[%d].host is required", i))
		}
		if n.Port <= 0 || n.Port > 65535 {
			errs = append(errs, fmt.Sprintf("nodes[%d].port must be in 1-65535", i))
		}
	}

	switch c.ReadFrom {
	case "primary", "preferReplica", "replicaOnly", "azAffinity", "azAffinityReplicasAndPrimary":
	default:
		errs = append(errs, fmt.Sprintf("readFrom %q is not a recognized read policy", c.ReadFrom))
	}
	if strings.HasPrefix(c.ReadFrom, "azAffinity") && c.ClientAZ == "" {
		errs = append(errs, "clientAz is required when readFrom uses AZ affinity")
	}

	if _, err := time.ParseDuration(c.ConnectionTimeout); err != nil {
		errs = append(errs, "connectionTimeout: "+err.Error())
	}
	if _, err := time.ParseDuration(c.ResponseTimeout); err != nil {
		errs = append(errs, "responseTimeout: "+err.Error())
	}
	if c.Retry.NumberOfRetries < 0 {
		errs = append(errs, "retry.numberOfRetries must be >= 0")
	}
	if _, err := time.ParseDuration(c.Refresh.MinInterval); err != nil {
		errs = append(errs, "refresh.minInterval: "+err.Error())
	}
	if _, err := time.ParseDuration(c.Refresh.PeriodicCheckEvery); err != nil {
		errs = append(errs, "refresh.periodicCheckEvery: "+err.Error())
	}
	if c.Refresh.RatePerSecond <= 0 {
		errs = append(errs, "refresh.ratePerSecond must be > 0")
	}
	if _, err := time.ParseDuration(c.Refresh.ConnectionsValidationEvery); err != nil {
		errs = append(errs, "refresh.connectionsValidationEvery: "+err.Error())
	}
	if _, err := time.ParseDuration(c.Reconnect.BaseDelay); err != nil {
		errs = append(errs, "reconnect.baseDelay: "+err.Error())
	}
	if _, err := time.ParseDuration(c.Reconnect.MaxDelay); err != nil {
		errs = append(errs, "reconnect.maxDelay: "+err.Error())
	}
	if c.DatabaseID < 0 {
		errs = append(errs, "databaseId must be >= 0")
	}
	switch c.Protocol {
	case "", "resp2", "resp3":
	default:
		errs = append(errs, fmt.Sprintf("protocol %q is not one of resp2, resp3", c.Protocol))
	}

	if len(errs) > 0 {
		return &ValidationError{Path: c.path, Errors: errs}
	}
	return nil
}

// SeedAddrs returns every configured node's host:port.
func (c *ClusterClientConfig) SeedAddrs() []string {
	out := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		out[i] = n.Addr()
	}
	return out
}

// ConnectTimeout parses ConnectionTimeout; callers only reach here after
// Validate has already confirmed it parses.
func (c *ClusterClientConfig) ConnectTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ConnectionTimeout)
	return d
}

// ResponseTimeoutDuration parses ResponseTimeout.
func (c *ClusterClientConfig) ResponseTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ResponseTimeout)
	return d
}

// RefreshMinInterval parses Refresh.MinInterval.
func (c *ClusterClientConfig) RefreshMinInterval() time.Duration {
	d, _ := time.ParseDuration(c.Refresh.MinInterval)
	return d
}

// PeriodicCheckInterval parses Refresh.PeriodicCheckEvery.
func (c *ClusterClientConfig) PeriodicCheckInterval() time.Duration {
	d, _ := time.ParseDuration(c.Refresh.PeriodicCheckEvery)
	return d
}

// ConnectionsValidationInterval parses Refresh.ConnectionsValidationEvery.
func (c *ClusterClientConfig) ConnectionsValidationInterval() time.Duration {
	d, _ := time.ParseDuration(c.Refresh.ConnectionsValidationEvery)
	return d
}

// ReconnectBaseDelay parses Reconnect.BaseDelay.
func (c *ClusterClientConfig) ReconnectBaseDelay() time.Duration {
	d, _ := time.ParseDuration(c.Reconnect.BaseDelay)
	return d
}

// ReconnectMaxDelay parses Reconnect.MaxDelay.
func (c *ClusterClientConfig) ReconnectMaxDelay() time.Duration {
	d, _ := time.ParseDuration(c.Reconnect.MaxDelay)
	return d
}
