package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds process-level configuration read from the environment.
// The JSON config file (see Store) is seeded from these values on first run.
type Settings struct {
	Port        int      `envconfig:"PORT" default:"3456"`
	AICommand   string   `envconfig:"AI_COMMAND" default:"claude"`
	AllowedDirs []string `envconfig:"ALLOWED_DIRS" default:""`
	DataPath    string   `envconfig:"DATA_PATH" default:"."`

	// IdleTimeoutSeconds is the HTTP server idle timeout. The variable name
	// is kept for compatibility with existing deployments.
	IdleTimeoutSeconds int `envconfig:"BUN_IDLE_TIMEOUT" default:"120"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
