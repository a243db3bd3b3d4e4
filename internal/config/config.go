package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"efileflow/internal/rolecode"
)

// Config models efile.yml.
type Config struct {
	Routing   Routing         `yaml:"routing"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
	RateLimit RateLimit       `yaml:"rate_limit"`
	Directory DirectoryCache  `yaml:"directory"`
}

// Routing holds the role sets the routing rules are evaluated against.
type Routing struct {
	TeamMemberRoles       rolecode.Set `yaml:"team_member_roles"`
	ExternalTierRoles     rolecode.Set `yaml:"external_tier_roles"`
	Escalations           []Escalation `yaml:"escalations"`
	PageAddingRoles       rolecode.Set `yaml:"page_adding_roles"`
	PageAddingDepartments []string     `yaml:"page_adding_departments"`
	AssistantTeamRoles    rolecode.Set `yaml:"assistant_team_roles"`
	AssistantManagerRoles rolecode.Set `yaml:"assistant_manager_roles"`
}

// Escalation is a role pair that always needs a signature when marked.
type Escalation struct {
	From rolecode.Set `yaml:"from"`
	To   rolecode.Set `yaml:"to"`
}

// Matches reports whether marking from one role to another hits this escalation.
func (e Escalation) Matches(fromRole, toRole string) bool {
	return e.From.MatchesAny(fromRole) && e.To.MatchesAny(toRole)
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type RateLimit struct {
	Requests      int    `yaml:"requests"`
	WindowSeconds int    `yaml:"window_seconds"`
	// RedisAddr shares the limiter across server replicas when set.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// Window returns the limiter window, defaulting to one minute.
func (r RateLimit) Window() time.Duration {
	if r.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(r.WindowSeconds) * time.Second
}

type DirectoryCache struct {
	Size       int `yaml:"size"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

func (d DirectoryCache) TTL() time.Duration {
	if d.TTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(d.TTLSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with efile init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	r := c.Routing
	if len(r.TeamMemberRoles) == 0 {
		return fmt.Errorf("routing.team_member_roles is required")
	}
	if len(r.ExternalTierRoles) == 0 {
		return fmt.Errorf("routing.external_tier_roles is required")
	}
	if len(r.AssistantTeamRoles) == 0 {
		return fmt.Errorf("routing.assistant_team_roles is required")
	}
	sets := map[string]rolecode.Set{
		"team_member_roles":       r.TeamMemberRoles,
		"external_tier_roles":     r.ExternalTierRoles,
		"page_adding_roles":       r.PageAddingRoles,
		"assistant_team_roles":    r.AssistantTeamRoles,
		"assistant_manager_roles": r.AssistantManagerRoles,
	}
	for name, set := range sets {
		for _, p := range set {
			if rolecode.Normalize(strings.TrimSuffix(p, "*")) == "" {
				return fmt.Errorf("routing.%s has empty role pattern", name)
			}
		}
	}
	for i, esc := range r.Escalations {
		if len(esc.From) == 0 || len(esc.To) == 0 {
			return fmt.Errorf("routing.escalations[%d] needs from and to roles", i)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	if c.RateLimit.Requests < 0 || c.RateLimit.WindowSeconds < 0 {
		return fmt.Errorf("rate_limit values must be >= 0")
	}
	if c.Directory.Size < 0 || c.Directory.TTLSeconds < 0 {
		return fmt.Errorf("directory cache values must be >= 0")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "efile.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in routing policy.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `routing:
  # Roles that circulate files inside a creator's team without signing.
  team_member_roles: [AEE, DAO, AO, ACCOUNT*, SUB_ENGINEER]
  external_tier_roles: [SE, CE, CFO, COO, CEO]
  escalations:
    - from: [RE, XEN]
      to: [SE]
    - from: [ADMINISTRATIVE_OFFICER, ADMIN_OFFICER]
      to: [DIRECTOR_MEDICAL_SERVICES, DMS]
  page_adding_roles: [SE, CE, DCE, IAO_II, ADLFA]
  page_adding_departments: [BUDGET, BILLING]
  assistant_team_roles: [AO, ASSISTANT, SE_ASSISTANT]
  assistant_manager_roles: [SE, CE]

webhooks: []

rate_limit:
  requests: 120
  window_seconds: 60
  # redis_addr: localhost:6379

directory:
  size: 1024
  ttl_seconds: 30
`
