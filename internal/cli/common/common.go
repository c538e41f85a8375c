package common

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/retroscrape/internal/config"
)

const (
	// ConfigFlag is the CLI flag name used to specify an explicit config path.
	ConfigFlag = "config"
	// ConfigEnv names a config file when no flag can be passed, as for the launcher shim.
	ConfigEnv = "RETROSCRAPE_CONFIG"

	defaultConfigName = "config.json"
	systemConfigPath  = "/etc/retroscrape.json"
)

// LoadConfig resolves the configuration file respecting precedence rules.
func LoadConfig(explicit string) (*config.Config, error) {
	if explicit == "" {
		explicit = strings.TrimSpace(os.Getenv(ConfigEnv))
	}
	if explicit != "" {
		return config.Load(explicit)
	}

	searchPaths := make([]string, 0, 3)
	if wd, err := os.Getwd(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(wd, defaultConfigName))
	}
	if exe, err := os.Executable(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(filepath.Dir(exe), defaultConfigName))
	}

	searchPaths = append(searchPaths, systemConfigPath)

	return config.LoadFirst(searchPaths...)
}
