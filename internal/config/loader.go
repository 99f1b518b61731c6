package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/blockrun/proxy/internal/types"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:default} patterns in a string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		varName := submatch[1]
		defaultVal := ""
		if len(submatch) >= 3 {
			defaultVal = submatch[2]
		}
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return defaultVal
	})
}

// LoadFile reads a YAML file, expands env vars, and unmarshals into dest.
func LoadFile(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), dest); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// loadOptionalFile behaves like LoadFile but treats a missing file as
// "keep dest's current value" rather than an error, so scoring.yaml and
// overrides.yaml may be omitted to accept types.DefaultScoringConfig /
// DefaultOverrides.
func loadOptionalFile(path string, dest interface{}) error {
	err := LoadFile(path, dest)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Loader manages configuration loading and hot-reload via fsnotify.
// Three required files live under configDir: proxy.yaml (Config),
// routing.yaml (RoutingConfig), pricing.yaml (PricingConfig).
// scoring.yaml and overrides.yaml are optional overlays on top of
// types.DefaultScoringConfig/DefaultOverrides.
type Loader struct {
	configDir string
	mu        sync.RWMutex
	cfg       *Config
	routing   *RoutingConfig
	pricing   *PricingConfig
	scoring   types.ScoringConfig
	overrides types.Overrides
	watchers  []func()
	logger    *slog.Logger
}

func NewLoader(configDir string, logger *slog.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger,
	}
}

func (l *Loader) Load() error {
	cfg := DefaultConfig()
	if err := LoadFile(l.configDir+"/proxy.yaml", cfg); err != nil {
		return fmt.Errorf("load proxy config: %w", err)
	}

	routing := &RoutingConfig{}
	if err := LoadFile(l.configDir+"/routing.yaml", routing); err != nil {
		return fmt.Errorf("load routing config: %w", err)
	}

	pricing := &PricingConfig{}
	if err := LoadFile(l.configDir+"/pricing.yaml", pricing); err != nil {
		return fmt.Errorf("load pricing config: %w", err)
	}

	scoring := types.DefaultScoringConfig()
	if err := loadOptionalFile(l.configDir+"/scoring.yaml", &scoring); err != nil {
		return fmt.Errorf("load scoring config: %w", err)
	}

	overrides := types.DefaultOverrides()
	if err := loadOptionalFile(l.configDir+"/overrides.yaml", &overrides); err != nil {
		return fmt.Errorf("load overrides config: %w", err)
	}

	routing.WarnMissingPricing(*pricing, l.logger)

	l.mu.Lock()
	l.cfg = cfg
	l.routing = routing
	l.pricing = pricing
	l.scoring = scoring
	l.overrides = overrides
	l.mu.Unlock()

	l.logger.Info("configuration loaded", "dir", l.configDir)
	return nil
}

func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *Loader) Routing() *RoutingConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.routing
}

func (l *Loader) Pricing() *PricingConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pricing
}

func (l *Loader) Scoring() types.ScoringConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.scoring
}

func (l *Loader) Overrides() types.Overrides {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.overrides
}

// OnReload registers a callback that fires after config is reloaded.
func (l *Loader) OnReload(fn func()) {
	l.watchers = append(l.watchers, fn)
}

// Watch starts watching the config directory for changes and reloads on modification.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(l.configDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", l.configDir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					l.logger.Info("config file changed, reloading", "file", event.Name)
					if err := l.Load(); err != nil {
						l.logger.Error("failed to reload config", "error", err)
						continue
					}
					for _, fn := range l.watchers {
						fn()
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("fsnotify error", "error", err)
			}
		}
	}()

	return nil
}
