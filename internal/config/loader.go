// Package config loads gospace configuration from defaults, an optional
// YAML file, GOSPACE_ environment variables and runtime overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/gospace/pkg/did"
)

// AppName names the config directory and the environment prefix.
const AppName = "gospace"

const envPrefix = "GOSPACE_"

type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Space   did.DID       `mapstructure:"space"`
	Service ServiceConfig `mapstructure:"service"`
	Store   StoreConfig   `mapstructure:"store"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type AgentConfig struct {
	// Store is the path of the agent's SQLite database.
	Store string `mapstructure:"store"`
}

type ServiceConfig struct {
	// Provider is the DID usage reports are attributed to.
	Provider did.DID `mapstructure:"provider"`
	// RateLimit caps service requests per second; 0 disables the limit.
	RateLimit float64 `mapstructure:"rate_limit"`
	// PageSize is the default upload page size.
	PageSize int `mapstructure:"page_size"`
	// Timeout bounds a whole command invocation; 0 disables it.
	Timeout time.Duration `mapstructure:"timeout"`
}

type StoreConfig struct {
	Backend  string `mapstructure:"backend"`
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Profile  string `mapstructure:"profile"`
	Path     string `mapstructure:"path"`
}

// envSpec maps one environment variable onto a config path.
type envSpec struct {
	Name string
	Path []string
}

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// SetConfigFile selects an explicit config file. An empty path restores the
// default user config location.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Load builds the configuration. Precedence, highest first: runtime
// overrides, environment, config file, defaults.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v, explicit); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(strings.Join(spec.Path, "."), spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		didHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("agent.store", defaultStorePath())
	v.SetDefault("space", "")
	v.SetDefault("service.provider", "did:web:gospace.local")
	v.SetDefault("service.rate_limit", 0)
	v.SetDefault("service.page_size", 100)
	v.SetDefault("service.timeout", "0s")
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.bucket", "")
	v.SetDefault("store.region", "")
	v.SetDefault("store.endpoint", "")
	v.SetDefault("store.profile", "")
	v.SetDefault("store.path", defaultBucketPath())
}

func getEnvSpecs() []envSpec {
	return []envSpec{
		{Name: envPrefix + "LOG_LEVEL", Path: []string{"logging", "level"}},
		{Name: envPrefix + "AGENT_STORE", Path: []string{"agent", "store"}},
		{Name: envPrefix + "SPACE", Path: []string{"space"}},
		{Name: envPrefix + "PROVIDER", Path: []string{"service", "provider"}},
		{Name: envPrefix + "RATE_LIMIT", Path: []string{"service", "rate_limit"}},
		{Name: envPrefix + "PAGE_SIZE", Path: []string{"service", "page_size"}},
		{Name: envPrefix + "TIMEOUT", Path: []string{"service", "timeout"}},
		{Name: envPrefix + "STORE_BACKEND", Path: []string{"store", "backend"}},
		{Name: envPrefix + "BUCKET", Path: []string{"store", "bucket"}},
		{Name: envPrefix + "REGION", Path: []string{"store", "region"}},
		{Name: envPrefix + "ENDPOINT", Path: []string{"store", "endpoint"}},
		{Name: envPrefix + "PROFILE", Path: []string{"store", "profile"}},
		{Name: envPrefix + "STORE_PATH", Path: []string{"store", "path"}},
	}
}

func readConfigFile(v *viper.Viper, explicit string) error {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	for _, path := range getUserConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// getUserConfigPaths lists candidate config files, most specific first.
func getUserConfigPaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, AppName, "config.yaml"))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, AppName, "config.yaml")
		if len(paths) == 0 || paths[0] != p {
			paths = append(paths, p)
		}
	}
	return paths
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", AppName)
	}
	return filepath.Join(os.TempDir(), AppName)
}

func defaultStorePath() string {
	return filepath.Join(defaultStateDir(), "agent.db")
}

func defaultBucketPath() string {
	return filepath.Join(defaultStateDir(), "bucket")
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := m[k].(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = m[k]
	}
	return out
}

// didHookFunc validates strings decoded into did.DID fields. Empty strings
// stay undefined.
func didHookFunc() mapstructure.DecodeHookFuncType {
	didType := reflect.TypeOf(did.DID(""))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != didType || from.Kind() != reflect.String {
			return data, nil
		}
		s := strings.TrimSpace(reflect.ValueOf(data).String())
		if s == "" {
			return did.DID(""), nil
		}
		return did.Parse(s)
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level))
	}
	switch c.Store.Backend {
	case "s3":
		if c.Store.Bucket == "" {
			errs = append(errs, errors.New("store.bucket is required for the s3 backend"))
		}
	case "file":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend: unsupported value %q (use s3 or file)", c.Store.Backend))
	}
	if c.Service.RateLimit < 0 {
		errs = append(errs, errors.New("service.rate_limit must be >= 0"))
	}
	if c.Service.PageSize < 0 {
		errs = append(errs, errors.New("service.page_size must be >= 0"))
	}
	if c.Service.Timeout < 0 {
		errs = append(errs, errors.New("service.timeout must be >= 0"))
	}
	if c.Agent.Store == "" {
		errs = append(errs, errors.New("agent.store is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
