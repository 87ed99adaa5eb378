package config

import (
	"os"
	"time"
)

// Config contains all the configuration for the exporter CLI
type Config struct {
	// Endpoint settings
	Mode   string
	Site   string
	APIKey string
	Agent  AgentSettings

	// Upload settings
	Tags          map[string]string
	UploadTimeout time.Duration
	Debug         bool
}

// NewDefault returns a new default config
func NewDefault() *Config {
	return &Config{
		Mode:          string(ModeAgent),
		Site:          "datadoghq.com",
		Tags:          make(map[string]string),
		UploadTimeout: 30 * time.Second,
	}
}

// Configuration resolves the CLI settings into the configuration tuple the
// exporter understands. Agent settings are resolved against the local
// filesystem for the default unix socket.
func (c *Config) Configuration() Configuration {
	switch Mode(c.Mode) {
	case ModeAgentless:
		return Configuration{Mode: ModeAgentless, Site: c.Site, APIKey: c.APIKey}
	case ModeAgent:
		return Configuration{Mode: ModeAgent, BaseURL: ResolveAgentURL(c.Agent, socketExists)}
	default:
		return Configuration{Mode: Mode(c.Mode)}
	}
}

func socketExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode()&os.ModeSocket != 0
}
