package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

// Interval accepts either whole milliseconds (250) or a Go duration
// string ("250ms", "1s").
type Interval struct {
	time.Duration
}

func (i *Interval) UnmarshalYAML(n *yaml.Node) error {
	var raw any
	if err := n.Decode(&raw); err != nil {
		return err
	}
	d, err := parseInterval(raw)
	if err != nil {
		return errors.Wrapf(err, "line %d", n.Line)
	}
	i.Duration = d
	return nil
}

func parseInterval(raw any) (time.Duration, error) {
	var d time.Duration
	switch v := raw.(type) {
	case string:
		if digits, ok := integerString(v); ok {
			ms, err := cast.ToInt64E(digits)
			if err != nil {
				return 0, errors.Wrapf(err, "invalid interval %q", v)
			}
			d = time.Duration(ms) * time.Millisecond
			break
		}
		parsed, err := cast.ToDurationE(v)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid interval %q", v)
		}
		d = parsed
	default:
		ms, err := cast.ToInt64E(v)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid interval %v", v)
		}
		d = time.Duration(ms) * time.Millisecond
	}
	if d < 0 {
		return 0, errors.Errorf("interval %s is negative", d)
	}
	return d, nil
}

// integerString reports whether s is an optionally signed run of digits,
// which cast would otherwise read as nanoseconds. The returned form has
// leading zeros removed so cast does not take it for octal.
func integerString(s string) (string, bool) {
	s = strings.TrimSpace(s)
	sign := ""
	if s != "" && (s[0] == '-' || s[0] == '+') {
		sign, s = s[:1], s[1:]
	}
	if s == "" {
		return "", false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		s = "0"
	}
	return sign + s, true
}

type Pacing struct {
	Interval  *Interval `yaml:"interval"`
	MaxKeys   int       `yaml:"max_keys"`
	KeyHeader string    `yaml:"key_header"`
}

type Client struct {
	ID       string    `yaml:"id"`
	Secret   string    `yaml:"secret"`
	Interval *Interval `yaml:"interval"` // nil keeps pacing.interval
}

type Loop struct {
	Interval   *Interval `yaml:"interval"`
	Iterations int       `yaml:"iterations"` // 0 runs until cancelled
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Pacing        Pacing        `yaml:"pacing"`
	Clients       []Client      `yaml:"clients"`
	Loop          Loop          `yaml:"loop"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

// ClientIntervals maps client ID to its pacing interval, for clients that
// override the default.
func (r *Root) ClientIntervals() map[string]time.Duration {
	out := map[string]time.Duration{}
	for _, c := range r.Clients {
		if c.ID != "" && c.Interval != nil {
			out[c.ID] = c.Interval.Duration
		}
	}
	return out
}

// Secrets maps client secret to client ID.
func (r *Root) Secrets() map[string]string {
	out := map[string]string{}
	for _, c := range r.Clients {
		if c.Secret != "" && c.ID != "" {
			out[c.Secret] = c.ID
		}
	}
	return out
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Root {
	var cfg Root
	applyDefaults(&cfg)
	return &cfg
}

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(b)
}

func Parse(b []byte) (*Root, error) {
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Root) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Pacing.Interval == nil {
		cfg.Pacing.Interval = &Interval{time.Second}
	}
	if cfg.Pacing.MaxKeys <= 0 {
		cfg.Pacing.MaxKeys = 10000
	}
	if cfg.Pacing.KeyHeader == "" {
		cfg.Pacing.KeyHeader = "X-Client-ID"
	}
	if cfg.Loop.Interval == nil {
		cfg.Loop.Interval = &Interval{time.Second}
	}
	if cfg.Loop.Iterations < 0 {
		cfg.Loop.Iterations = 0
	}
}
