package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration
type Config struct {
	// ListenAddress is the HTTP address the RPC surface binds to.
	ListenAddress string `yaml:"listen_address"`

	// OwnerID is the user id promoted to admin on first sign-in.
	OwnerID string `yaml:"owner_id"`

	Database  DatabaseConfig  `yaml:"database"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Cache     CacheConfig     `yaml:"cache"`
	Lineage   LineageConfig   `yaml:"lineage"`
}

// DatabaseConfig holds the SQLite settings
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// WorkflowConfig holds the webhook endpoints of the external workflow engine
type WorkflowConfig struct {
	ChatURL      string        `yaml:"chat_url"`
	TaskURL      string        `yaml:"task_url"`
	KnowledgeURL string        `yaml:"knowledge_url"`
	Timeout      time.Duration `yaml:"timeout"`

	// RequestsPerMinute caps calls per webhook. Zero disables throttling.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Audit records every webhook call in the database.
	Audit bool `yaml:"audit"`

	// EngineUserID is the identity the engine signs in as when it reports task status.
	EngineUserID string `yaml:"engine_user_id"`

	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// KnowledgeConfig holds the ingestion result store settings
type KnowledgeConfig struct {
	// BadgerPath is the result store directory. Empty keeps results in memory.
	BadgerPath string `yaml:"badger_path"`
	AutoIngest bool   `yaml:"auto_ingest"`
}

// CacheConfig holds the Redis settings for the public agent catalogue
type CacheConfig struct {
	RedisURL      string        `yaml:"redis_url"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// LineageConfig holds the Dgraph settings for the remix lineage graph
type LineageConfig struct {
	DgraphAlphaURL string `yaml:"dgraph_alpha_url"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddress: ":3000",
		Database: DatabaseConfig{
			Path:        "~/.helios/helios.db",
			BusyTimeout: 5 * time.Second,
		},
		Workflow: WorkflowConfig{
			ChatURL:           "https://n8n.the-develop.net/webhook/helios-chat",
			TaskURL:           "https://n8n.the-develop.net/webhook/helios-task",
			KnowledgeURL:      "https://n8n.the-develop.net/webhook/helios-knowledge",
			Timeout:           30 * time.Second,
			RequestsPerMinute: 120,
			Audit:             true,
			Workers:           4,
			QueueSize:         256,
		},
		Knowledge: KnowledgeConfig{
			BadgerPath: "~/.helios/knowledge",
			AutoIngest: true,
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return config, nil
}

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	fields := map[string]*string{
		"LISTEN_ADDR":               &c.ListenAddress,
		"OWNER_OPEN_ID":             &c.OwnerID,
		"DATABASE_PATH":             &c.Database.Path,
		"N8N_CHAT_WEBHOOK_URL":      &c.Workflow.ChatURL,
		"N8N_TASK_WEBHOOK_URL":      &c.Workflow.TaskURL,
		"N8N_KNOWLEDGE_WEBHOOK_URL": &c.Workflow.KnowledgeURL,
		"N8N_ENGINE_USER_ID":        &c.Workflow.EngineUserID,
		"BADGER_PATH":               &c.Knowledge.BadgerPath,
		"REDIS_URL":                 &c.Cache.RedisURL,
		"REDIS_PASSWORD":            &c.Cache.RedisPassword,
		"DGRAPH_ALPHA_URL":          &c.Lineage.DgraphAlphaURL,
	}
	for key, field := range fields {
		if v, ok := lookup(key); ok {
			*field = v
		}
	}

	if v, ok := lookup("WORKFLOW_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid WORKFLOW_TIMEOUT %q: %w", v, err)
		}
		c.Workflow.Timeout = d
	}

	if v, ok := lookup("KNOWLEDGE_AUTO_INGEST"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid KNOWLEDGE_AUTO_INGEST %q: %w", v, err)
		}
		c.Knowledge.AutoIngest = b
	}

	return nil
}

// BindFlags registers command-line overrides on flagSet. Defaults are the current field values.
func (c *Config) BindFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.ListenAddress, "listen", c.ListenAddress, "HTTP listen address")
	flagSet.StringVar(&c.OwnerID, "owner-id", c.OwnerID, "user id granted the admin role")
	flagSet.StringVar(&c.Database.Path, "db", c.Database.Path, "path to the SQLite database")
	flagSet.StringVar(&c.Workflow.ChatURL, "chat-webhook", c.Workflow.ChatURL, "chat workflow webhook URL")
	flagSet.StringVar(&c.Workflow.TaskURL, "task-webhook", c.Workflow.TaskURL, "task workflow webhook URL")
	flagSet.StringVar(&c.Workflow.KnowledgeURL, "knowledge-webhook", c.Workflow.KnowledgeURL, "knowledge workflow webhook URL")
	flagSet.StringVar(&c.Workflow.EngineUserID, "engine-user-id", c.Workflow.EngineUserID, "user id the workflow engine reports task status as")
	flagSet.DurationVar(&c.Workflow.Timeout, "webhook-timeout", c.Workflow.Timeout, "timeout for a single webhook call")
	flagSet.StringVar(&c.Knowledge.BadgerPath, "knowledge-dir", c.Knowledge.BadgerPath, "ingestion result store directory (empty for in-memory)")
	flagSet.StringVar(&c.Cache.RedisURL, "redis", c.Cache.RedisURL, "Redis address for the public agent cache (empty disables)")
	flagSet.StringVar(&c.Lineage.DgraphAlphaURL, "dgraph", c.Lineage.DgraphAlphaURL, "Dgraph alpha gRPC address for remix lineage (empty disables)")
}

// Validate checks that the required fields are set
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen_address is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Workflow.ChatURL == "" || c.Workflow.TaskURL == "" || c.Workflow.KnowledgeURL == "" {
		return fmt.Errorf("workflow chat_url, task_url and knowledge_url are required")
	}
	if c.Workflow.RequestsPerMinute < 0 {
		return fmt.Errorf("workflow.requests_per_minute must not be negative")
	}
	return nil
}
