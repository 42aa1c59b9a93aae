package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Branch roles understood by the aggregation policy.
const (
	RoleGeneral     = "general"
	RoleSpecialized = "specialized"
)

// Config is the complete orchestrator configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Branches  []BranchConfig  `yaml:"branches"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Session   SessionConfig   `yaml:"session"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Policy    PolicyConfig    `yaml:"policy"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds the orchestrator's listen address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PublicURL is advertised in the manifest. Defaults to http://host:port.
	PublicURL string `yaml:"public_url"`

	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// BranchConfig describes one remote skill.
type BranchConfig struct {
	Name        string         `yaml:"name"`
	DisplayName string         `yaml:"display_name"`
	URL         string         `yaml:"url"`
	Role        string         `yaml:"role"`
	Params      map[string]any `yaml:"params"`
	Retries     int            `yaml:"retries"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// WorkflowConfig tunes the engine and dispatcher.
type WorkflowConfig struct {
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
	MaxTurns          int `yaml:"max_turns"`
	MaxQueryLength    int `yaml:"max_query_length"`

	// BranchTimeout bounds the whole fan-out barrier.
	BranchTimeout    time.Duration `yaml:"-"`
	BranchTimeoutRaw string        `yaml:"branch_timeout"`
}

// SessionConfig selects the session backend.
type SessionConfig struct {
	Backend  string         `yaml:"backend"`
	Redis    RedisConfig    `yaml:"redis"`
	Document DocumentConfig `yaml:"document"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// RedisConfig locates the TTL cache.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	SSL      bool   `yaml:"ssl"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DocumentConfig locates the durable store.
type DocumentConfig struct {
	Path       string `yaml:"path"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// GatewayConfig configures the connection gateway and its HTTP front.
type GatewayConfig struct {
	// AgentServerURL is the orchestrator's persistent endpoint.
	AgentServerURL string `yaml:"agent_server_url"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// Addr returns host:port.
func (g GatewayConfig) Addr() string {
	return net.JoinHostPort(g.Host, strconv.Itoa(g.Port))
}

// SynthesisConfig selects the optional LLM synthesizer.
type SynthesisConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Instructions string `yaml:"instructions"`
	Stream       bool   `yaml:"stream"`
}

// Enabled reports whether a synthesizer should be built.
func (s SynthesisConfig) Enabled() bool {
	return s.Provider != "" && s.Provider != "none"
}

// DenyRule excludes a topic from being answered.
type DenyRule struct {
	Name    string   `yaml:"name"`
	Phrases []string `yaml:"phrases"`
}

// PolicyConfig is the aggregator's rule table.
type PolicyConfig struct {
	Denylist            []DenyRule `yaml:"denylist"`
	NotSupportedMessage string     `yaml:"not_supported_message"`
	NotFoundSentinels   []string   `yaml:"not_found_sentinels"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the stock configuration: the conversation and
// form-support branches on localhost, in-memory sessions, no synthesis.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8002, ShutdownTimeoutRaw: "15s", ShutdownTimeout: 15 * time.Second},
		Branches: []BranchConfig{
			{
				Name:        "ConversationAgentA2A",
				DisplayName: "Conversation Agent",
				URL:         "http://localhost:8000",
				Role:        RoleGeneral,
				TimeoutRaw:  "30s",
				Timeout:     30 * time.Second,
			},
			{
				Name:        "FormSupportAgentA2A",
				DisplayName: "Form Support Agent",
				URL:         "http://localhost:8001",
				Role:        RoleSpecialized,
				Params:      map[string]any{"step_number": "step2-Eligibility"},
				TimeoutRaw:  "30s",
				Timeout:     30 * time.Second,
			},
		},
		Workflow: WorkflowConfig{
			MaxConcurrentRuns: 10,
			MaxTurns:          50,
			MaxQueryLength:    4000,
			BranchTimeoutRaw:  "60s",
			BranchTimeout:     60 * time.Second,
		},
		Session: SessionConfig{
			Backend: "memory",
			TTLRaw:  "1h",
			TTL:     time.Hour,
			Redis:   RedisConfig{Host: "localhost", Port: 6379},
			Document: DocumentConfig{
				Path:       "data",
				Database:   "AgentMemoryDB",
				Collection: "Conversations",
			},
		},
		Gateway: GatewayConfig{
			AgentServerURL:    "ws://localhost:8002/ws",
			Host:              "0.0.0.0",
			Port:              8003,
			RequestTimeoutRaw: "120s",
			RequestTimeout:    120 * time.Second,
		},
		Synthesis: SynthesisConfig{Provider: "none"},
		Policy: PolicyConfig{
			NotFoundSentinels: []string{"Not found", "No results found"},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads a configuration file from path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration over the defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds the configuration from environment variables over the
// defaults.
func FromEnv() (*Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not a number", key, v))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}

	str("CONVERSATION_AGENT_A2A_URL", &cfg.Branches[0].URL)
	str("FORM_SUPPORT_AGENT_A2A_URL", &cfg.Branches[1].URL)
	if v, ok := lookup("FORM_STEP_NUMBER"); ok && v != "" {
		cfg.Branches[1].Params["step_number"] = v
	}
	str("BRANCH_TIMEOUT", &cfg.Workflow.BranchTimeoutRaw)

	str("SESSION_BACKEND", &cfg.Session.Backend)
	str("SESSION_TTL", &cfg.Session.TTLRaw)
	str("REDIS_HOST", &cfg.Session.Redis.Host)
	num("REDIS_PORT", &cfg.Session.Redis.Port)
	str("REDIS_PASSWORD", &cfg.Session.Redis.Password)
	flag("REDIS_SSL", &cfg.Session.Redis.SSL)
	num("REDIS_DB", &cfg.Session.Redis.DB)
	str("DOCUMENT_DB_PATH", &cfg.Session.Document.Path)
	str("DOCUMENT_DB_NAME", &cfg.Session.Document.Database)
	str("DOCUMENT_COLLECTION", &cfg.Session.Document.Collection)

	str("AGENT_SERVER_WS_URL", &cfg.Gateway.AgentServerURL)
	num("GATEWAY_PORT", &cfg.Gateway.Port)

	str("SYNTHESIS_PROVIDER", &cfg.Synthesis.Provider)
	str("SYNTHESIS_MODEL", &cfg.Synthesis.Model)
	switch cfg.Synthesis.Provider {
	case "openai":
		str("OPENAI_API_KEY", &cfg.Synthesis.APIKey)
	case "anthropic":
		str("ANTHROPIC_API_KEY", &cfg.Synthesis.APIKey)
	}

	if v, ok := lookup("DENYLIST_PHRASES"); ok && v != "" {
		cfg.Policy.Denylist = append(cfg.Policy.Denylist, DenyRule{Name: "env", Phrases: splitList(v)})
	}
	str("NOT_SUPPORTED_MESSAGE", &cfg.Policy.NotSupportedMessage)

	str("HOST", &cfg.Server.Host)
	num("PORT", &cfg.Server.Port)
	str("PUBLIC_URL", &cfg.Server.PublicURL)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	if len(errs) > 0 {
		return nil, fmt.Errorf("reading environment: %s", strings.Join(errs, "; "))
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	if c.Server.PublicURL == "" {
		host := c.Server.Host
		if host == "0.0.0.0" || host == "" {
			host = "localhost"
		}
		c.Server.PublicURL = "http://" + net.JoinHostPort(host, strconv.Itoa(c.Server.Port))
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(re.FindStringSubmatch(match)[1])
	})
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks required fields and returns the first problem found.
func (c *Config) Validate() error {
	if len(c.Branches) == 0 {
		return fmt.Errorf("at least one branch is required")
	}
	seen := make(map[string]bool, len(c.Branches))
	roles := make(map[string]string)
	for i, b := range c.Branches {
		if b.Name == "" {
			return fmt.Errorf("branches[%d].name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate branch name %q", b.Name)
		}
		seen[b.Name] = true
		u, err := url.Parse(b.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("branch %s: url %q must be an absolute http(s) URL", b.Name, b.URL)
		}
		switch b.Role {
		case "":
		case RoleGeneral, RoleSpecialized:
			if other, dup := roles[b.Role]; dup {
				return fmt.Errorf("branches %s and %s both have role %s", other, b.Name, b.Role)
			}
			roles[b.Role] = b.Name
		default:
			return fmt.Errorf("branch %s: unknown role %q", b.Name, b.Role)
		}
		if b.Retries < 0 {
			return fmt.Errorf("branch %s: retries must not be negative", b.Name)
		}
	}

	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.Redis.Host == "" {
			return fmt.Errorf("session.redis.host is required for the redis backend")
		}
	case "document":
		if c.Session.Document.Path == "" {
			return fmt.Errorf("session.document.path is required for the document backend")
		}
	default:
		return fmt.Errorf("session.backend must be memory, redis or document, got %q", c.Session.Backend)
	}

	switch c.Synthesis.Provider {
	case "", "none":
	case "openai", "anthropic":
		if c.Synthesis.APIKey == "" {
			return fmt.Errorf("synthesis.api_key is required for provider %s", c.Synthesis.Provider)
		}
	default:
		return fmt.Errorf("synthesis.provider must be none, openai or anthropic, got %q", c.Synthesis.Provider)
	}

	if c.Gateway.AgentServerURL != "" {
		u, err := url.Parse(c.Gateway.AgentServerURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("gateway.agent_server_url %q must be a ws(s) URL", c.Gateway.AgentServerURL)
		}
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Workflow.MaxConcurrentRuns < 0 {
		return fmt.Errorf("workflow.max_concurrent_runs must not be negative")
	}
	if c.Workflow.MaxTurns < 0 {
		return fmt.Errorf("workflow.max_turns must not be negative")
	}
	if c.Workflow.MaxQueryLength < 0 {
		return fmt.Errorf("workflow.max_query_length must not be negative")
	}
	return nil
}

// BranchByRole returns the name of the branch with the given role.
func (c *Config) BranchByRole(role string) string {
	for _, b := range c.Branches {
		if b.Role == role {
			return b.Name
		}
	}
	return ""
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	parse := func(name, raw string, dst *time.Duration) error {
		if raw == "" {
			return nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", name, raw, err)
		}
		*dst = d
		return nil
	}

	if err := parse("server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	if err := parse("workflow.branch_timeout", cfg.Workflow.BranchTimeoutRaw, &cfg.Workflow.BranchTimeout); err != nil {
		return err
	}
	if err := parse("session.ttl", cfg.Session.TTLRaw, &cfg.Session.TTL); err != nil {
		return err
	}
	if err := parse("gateway.request_timeout", cfg.Gateway.RequestTimeoutRaw, &cfg.Gateway.RequestTimeout); err != nil {
		return err
	}
	for i := range cfg.Branches {
		b := &cfg.Branches[i]
		if err := parse("branches."+b.Name+".timeout", b.TimeoutRaw, &b.Timeout); err != nil {
			return err
		}
	}
	return nil
}
