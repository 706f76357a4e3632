// Package config parses the node's process configuration with
// ardanlabs/conf: defaults baked into struct tags, overridable by
// environment variables and command-line flags.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/ardanlabs/conf/v3"
)

// Prefix is the environment-variable prefix conf.Parse uses, e.g.
// RUNCHAIN_NODE_LISTEN_PORT.
const Prefix = "RUNCHAIN"

// Config holds every tunable the node's process configuration exposes.
type Config struct {
	conf.Version

	Node struct {
		ListenPort       int           `conf:"default:0"`
		PowWorkers       int           `conf:"default:0"` // 0 means runtime.NumCPU()
		DifficultyPrefix string        `conf:"default:000000"`
		BatchCap         int           `conf:"default:16"`
		BatchTimer       time.Duration `conf:"default:3s"`
		AnnounceTick     time.Duration `conf:"default:2s"`
		SyncTimeout      time.Duration `conf:"default:3s"`
		TopicID          string        `conf:"default:RUNCHAINNET"`
		BootstrapPeers   []string      `conf:"default:"` // multiaddrs of peers to dial on startup, for joining across subnets where mDNS can't reach
	}
}

// Parse parses os.Args and the environment into a Config, applying the
// conf package's defaults first. A returned help string with a nil error
// means usage was requested; the caller should print it and exit 0.
func Parse(build string) (Config, string, error) {
	cfg := Config{
		Version: conf.Version{
			Build: build,
			Desc:  "runchainnet miner node",
		},
	}

	help, err := conf.Parse(Prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			return Config{}, help, nil
		}
		return Config{}, "", fmt.Errorf("config: parsing: %w", err)
	}
	return cfg, "", nil
}

// DifficultyPrefixBytes decodes the configured hex difficulty prefix.
func (c Config) DifficultyPrefixBytes() ([]byte, error) {
	b, err := hex.DecodeString(c.Node.DifficultyPrefix)
	if err != nil {
		return nil, fmt.Errorf("config: difficulty prefix %q is not valid hex: %w", c.Node.DifficultyPrefix, err)
	}
	return b, nil
}

// Workers returns the configured worker count, defaulting to the host's
// logical CPU count when left at 0.
func (c Config) Workers() int {
	if c.Node.PowWorkers > 0 {
		return c.Node.PowWorkers
	}
	return runtime.NumCPU()
}
