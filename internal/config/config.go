package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"buildledger/internal/domain"
)

// FileName is the workspace config file.
const FileName = "buildledger.yml"

// Config models buildledger.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"project"`
	Admin struct {
		ActorID string `yaml:"actor_id"`
	} `yaml:"admin"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		AllowLegacyActorHeader bool `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// Webhook is one external observer of the audit log.
type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Project.ID) == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if strings.TrimSpace(c.Admin.ActorID) == "" {
		return fmt.Errorf("config.admin.actor_id is required")
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	known := map[string]bool{"*": true}
	for _, k := range domain.EventKinds {
		known[k] = true
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhooks[%d].url must be an absolute http(s) url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, evt := range hook.Events {
			if !known[evt] {
				return fmt.Errorf("webhooks[%d] references unknown event kind %s", i, evt)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID, adminID string) string {
	return fmt.Sprintf(defaultTemplate, projectID, projectID, adminID)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with bl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID, adminID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID, adminID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Project.Name == "" {
		c.Project.Name = c.Project.ID
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v0"
	}
	for i := range c.Webhooks {
		if c.Webhooks[i].TimeoutSeconds == 0 {
			c.Webhooks[i].TimeoutSeconds = 5
		}
	}
}

// WriteDefault writes the default config unless one already exists.
func WriteDefault(workspace, projectID, adminID string) (string, bool, error) {
	path := Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, false, err
	}
	if err := os.WriteFile(path, []byte(GenerateDefault(projectID, adminID)), 0o644); err != nil {
		return path, false, err
	}
	return path, true, nil
}

const defaultTemplate = `project:
  id: %s
  name: "%s"

admin:
  actor_id: %s

server:
  addr: 127.0.0.1:8080
  base_path: /v0

auth:
  allow_legacy_actor_header: false

# webhooks:
#   - url: https://observer.example/hook
#     events: [milestone.approved, delivery.logged]
#     secret: change-me
#     timeout_seconds: 5
webhooks: []
`
