// kissml is configured through flags. Every flag that wasn't given on the command line can also be set through a
// `KISSML_<FLAG_NAME>` environment variable or an entry in the YAML config file named by -config_file.
// Precedence: command line > environment > config file > default.

package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nobletooth/kissml/pkg/utils"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to the upper-cased flag name to form its environment variable.
const EnvPrefix = "KISSML_"

var (
	configFilePath = flag.String("config_file", "", "Path to a YAML file mapping flag names to values. Empty skips it.")
	cacheDir       = flag.String("cache_dir", "",
		"Root directory of the on-disk cache. Defaults to $KISSML_CACHE_DIR, then ~/.kissml.")
	cacheCapacity = flag.Int("cache_capacity", 10_000,
		"Maximum number of entries per cache instance before eviction kicks in; <= 0 disables eviction.")
)

// EnvName returns the environment variable consulted for the given flag, e.g. KISSML_CACHE_DIR for cache_dir.
func EnvName(flagName string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// InitFlags parses the command line and fills every flag that wasn't set explicitly from the environment and
// the config file. It should be called after defining all flags and before using them.
func InitFlags() {
	flag.Parse()
	path := *configFilePath
	if envPath, found := os.LookupEnv(EnvName("config_file")); found && !utils.ExplicitFlags(flag.CommandLine)["config_file"] {
		path = envPath
	}
	if err := applyOverrides(flag.CommandLine, os.LookupEnv, path); err != nil {
		slog.Error("Failed to apply configuration overrides.", "error", err)
	}
}

// applyOverrides sets the flags of flagSet that weren't visited from env (first) and the YAML file (second).
func applyOverrides(flagSet *flag.FlagSet, lookupEnv func(string) (string, bool), yamlPath string) error {
	explicit := utils.ExplicitFlags(flagSet)

	fileValues, fileErr := readConfigFile(yamlPath)
	for name := range fileValues {
		if flagSet.Lookup(name) == nil {
			slog.Warn("Config file sets an unknown flag.", "flag", name, "path", yamlPath)
		}
	}

	var errs []error
	if fileErr != nil {
		errs = append(errs, fileErr)
	}
	flagSet.VisitAll(func(f *flag.Flag) {
		if explicit[f.Name] {
			return
		}
		source := "env"
		value, found := lookupEnv(EnvName(f.Name))
		if !found {
			source = "config_file"
			value, found = fileValues[f.Name]
		}
		if !found {
			return
		}
		if err := flagSet.Set(f.Name, value); err != nil {
			errs = append(errs, fmt.Errorf("failed to set flag %s from %s: %w", f.Name, source, err))
			return
		}
		slog.Debug("Flag overridden.", "flag", f.Name, "source", source)
	})
	return errors.Join(errs...)
}

// readConfigFile loads a flat YAML mapping of flag name to scalar value. An empty path yields no values.
func readConfigFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Config file does not exist.", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for name, value := range raw {
		switch value.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("config file %s: flag %s must be a scalar", path, name)
		case nil:
			values[name] = ""
		default:
			values[name] = fmt.Sprint(value)
		}
	}
	return values, nil
}

// CacheDir resolves the cache root: -cache_dir, then $KISSML_CACHE_DIR, then ~/.kissml.
// A leading "~/" is expanded to the user's home directory.
func CacheDir() (string, error) {
	dir := *cacheDir
	if dir == "" {
		dir = os.Getenv(EnvName("cache_dir"))
	}
	if dir == "" {
		dir = "~/.kissml"
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return filepath.Abs(dir)
}

// CacheCapacity is the per instance entry limit; non-positive values disable eviction.
func CacheCapacity() int {
	return *cacheCapacity
}
