package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	ProtoUDP = "udp"
	ProtoTCP = "tcp"

	DefaultPort = 5060

	// disables the outbound proxy / UA identification strings
	None = "NONE"
)

type Config struct {
	SIP     SIPConfig     `yaml:"sip"`
	Timers  TimerConfig   `yaml:"timers"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Auth    AuthConfig    `yaml:"auth"`
}

type SIPConfig struct {
	ViaAddr        string   `yaml:"via_addr"`
	HostPort       int      `yaml:"host_port"`
	Transports     []string `yaml:"transports"`
	OutboundProxy  string   `yaml:"outbound_proxy"`
	MaxConnections int      `yaml:"max_connections"`
	Rport          bool     `yaml:"rport"`
	ForceRport     bool     `yaml:"force_rport"`
	UserAgent      string   `yaml:"user_agent"`
	Server         string   `yaml:"server"`
	DefaultExpires int      `yaml:"default_expires"`
	MaxForwards    int      `yaml:"max_forwards"`
	EarlyDialog    bool     `yaml:"early_dialog"`
	DNSServer      string   `yaml:"dns_server"`
}

type TimerConfig struct {
	T1                 time.Duration `yaml:"t1"`
	T2                 time.Duration `yaml:"t2"`
	T4                 time.Duration `yaml:"t4"`
	TransactionTimeout time.Duration `yaml:"transaction_timeout"`
	ClearingTimeout    time.Duration `yaml:"clearing_timeout"`
	TryingDelay        time.Duration `yaml:"trying_delay"`
}

type LogConfig struct {
	Name  string `yaml:"name"`
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type AuthConfig struct {
	Username string `yaml:"username"`
	Realm    string `yaml:"realm"`
	Password string `yaml:"password"`
}

func Default() Config {
	return Config{
		SIP: SIPConfig{
			HostPort:       DefaultPort,
			Transports:     []string{ProtoUDP, ProtoTCP},
			MaxConnections: 32,
			Rport:          true,
			UserAgent:      "gbsip",
			Server:         "gbsip",
			DefaultExpires: 3600,
			MaxForwards:    70,
		},
		Timers: TimerConfig{
			T1:                 500 * time.Millisecond,
			T2:                 4 * time.Second,
			T4:                 5 * time.Second,
			TransactionTimeout: 64 * 500 * time.Millisecond,
			ClearingTimeout:    5 * time.Second,
			TryingDelay:        0,
		},
		Log: LogConfig{
			Name:  "gbsip",
			Level: "info",
			Env:   "prod",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
	}
}

// NewConfig parses a YAML document on top of Default.
func NewConfig(body string) (*Config, error) {
	conf := Default()
	if body != "" {
		if err := yaml.Unmarshal([]byte(body), &conf); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}

	return &conf, nil
}

// Load reads the YAML file at path (may be empty), loads envFiles into the
// process environment and applies GBSIP_* overrides.
func Load(path string, envFiles ...string) (*Config, error) {
	var body string
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		body = string(content)
	}

	conf, err := NewConfig(body)
	if err != nil {
		return nil, err
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			return nil, errors.Wrapf(err, "load env file %s", f)
		}
	}

	if err := conf.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "env %s", key)
			}
			*dst = n
		}
		return nil
	}
	boolean := func(key string, dst *bool) error {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errors.Wrapf(err, "env %s", key)
			}
			*dst = b
		}
		return nil
	}

	str("GBSIP_VIA_ADDR", &c.SIP.ViaAddr)
	str("GBSIP_OUTBOUND_PROXY", &c.SIP.OutboundProxy)
	str("GBSIP_DNS_SERVER", &c.SIP.DNSServer)
	str("GBSIP_LOG_LEVEL", &c.Log.Level)
	str("GBSIP_AUTH_USERNAME", &c.Auth.Username)
	str("GBSIP_AUTH_REALM", &c.Auth.Realm)
	str("GBSIP_AUTH_PASSWORD", &c.Auth.Password)
	if v, ok := lookup("GBSIP_TRANSPORTS"); ok {
		c.SIP.Transports = strings.Split(v, ",")
	}

	if err := integer("GBSIP_HOST_PORT", &c.SIP.HostPort); err != nil {
		return err
	}
	if err := integer("GBSIP_MAX_CONNECTIONS", &c.SIP.MaxConnections); err != nil {
		return err
	}
	if err := boolean("GBSIP_RPORT", &c.SIP.Rport); err != nil {
		return err
	}
	if err := boolean("GBSIP_FORCE_RPORT", &c.SIP.ForceRport); err != nil {
		return err
	}

	return boolean("GBSIP_METRICS_ENABLED", &c.Metrics.Enabled)
}

func (c *Config) Validate() error {
	if len(c.SIP.Transports) == 0 {
		return errors.New("config: at least one transport is required")
	}
	for i, proto := range c.SIP.Transports {
		proto = strings.ToLower(strings.TrimSpace(proto))
		if proto != ProtoUDP && proto != ProtoTCP {
			return fmt.Errorf("config: unsupported transport %q", proto)
		}
		c.SIP.Transports[i] = proto
	}
	if c.SIP.HostPort <= 0 || c.SIP.HostPort > 65535 {
		return fmt.Errorf("config: invalid host_port %d", c.SIP.HostPort)
	}

	t := c.Timers
	if t.T1 <= 0 || t.T2 <= 0 || t.T4 <= 0 || t.TransactionTimeout <= 0 || t.ClearingTimeout <= 0 {
		return errors.New("config: timers must be positive")
	}
	if t.T2 < t.T1 {
		return fmt.Errorf("config: t2 (%s) must not be shorter than t1 (%s)", t.T2, t.T1)
	}
	if c.SIP.MaxConnections <= 0 {
		c.SIP.MaxConnections = 32
	}

	return nil
}

// DefaultTransport is the first configured transport.
func (c SIPConfig) DefaultTransport() string {
	if len(c.Transports) == 0 {
		return ProtoUDP
	}
	return strings.ToLower(c.Transports[0])
}

func (c SIPConfig) Supports(proto string) bool {
	for _, p := range c.Transports {
		if strings.EqualFold(p, proto) {
			return true
		}
	}
	return false
}

// Outbound returns the outbound proxy host and port. ok is false when no
// proxy is configured.
func (c SIPConfig) Outbound() (host string, port int, ok bool) {
	proxy := strings.TrimSpace(c.OutboundProxy)
	if proxy == "" || strings.EqualFold(proxy, None) || strings.EqualFold(proxy, "NO-OUTBOUND") {
		return "", 0, false
	}

	h, p, err := net.SplitHostPort(proxy)
	if err != nil {
		return proxy, DefaultPort, true
	}
	n, err := strconv.Atoi(p)
	if err != nil || n <= 0 {
		n = DefaultPort
	}

	return h, n, true
}

// UserAgentInfo returns "" when identification is disabled.
func (c SIPConfig) UserAgentInfo() string {
	return identification(c.UserAgent, "NO-UA-INFO")
}

func (c SIPConfig) ServerInfo() string {
	return identification(c.Server, "NO-SERVER-INFO")
}

func identification(v, disabled string) string {
	if strings.EqualFold(v, None) || strings.EqualFold(v, disabled) {
		return ""
	}
	return v
}
