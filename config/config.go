// Package config loads the settings the core reads from (spec §6):
// scheduler sizing, frontend views, error handlers, middleware chain,
// and scheduling priorities. The routing table is not a setting:
// routes are registered in code on a router.Router.
package config

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/viewdeck/viewdeck/viewerrors"
)

// Settings holds every configuration key the core recognizes.
type Settings struct {
	MaxWorkers int `mapstructure:"max_workers"`

	FrontendView     string `mapstructure:"frontend_view"`
	CoreFrontendView string `mapstructure:"core_frontend_view"`

	Error404Handler         string `mapstructure:"error_404_handler"`
	Error404FallbackHandler string `mapstructure:"error_404_fallback_handler"`
	Error500Handler         string `mapstructure:"error_500_handler"`
	Error500FallbackHandler string `mapstructure:"error_500_fallback_handler"`

	// Middlewares is an ordered list of handler-registry names, resolved
	// to capabilities at startup (see handlerregistry.Registry).
	Middlewares []string `mapstructure:"middlewares"`

	DefaultViewPriority          int `mapstructure:"default_view_priority"`
	DefaultMultiUserViewPriority int `mapstructure:"default_multi_user_view_priority"`
	RequestMiddlewarePriority    int `mapstructure:"request_middleware_priority"`
}

// SetDefaults installs the core's default values into v, mirroring the
// teacher's am.SetDefaults layering (env > config file > these defaults).
func SetDefaults(v *viper.Viper) {
	v.SetDefault("max_workers", 10)
	v.SetDefault("frontend_view", "")
	v.SetDefault("core_frontend_view", "")
	v.SetDefault("error_404_handler", "")
	v.SetDefault("error_404_fallback_handler", "")
	v.SetDefault("error_500_handler", "")
	v.SetDefault("error_500_fallback_handler", "")
	v.SetDefault("middlewares", []string{})
	// Lower number == higher priority, following the teacher's worker
	// pool convention of scheduling cheap control-plane work ahead of
	// view bodies.
	v.SetDefault("default_view_priority", 10)
	v.SetDefault("default_multi_user_view_priority", 5)
	v.SetDefault("request_middleware_priority", 0)
}

var (
	mu       sync.Mutex
	instance *viper.Viper
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("VIEWDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads settings from the TOML/YAML/JSON file at path (any format
// viper auto-detects by extension) and returns the unmarshaled Settings.
// An empty path loads defaults and environment overrides only.
func Load(path string) (*Settings, error) {
	mu.Lock()
	defer mu.Unlock()

	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, viewerrors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, viewerrors.Wrap(err, "failed to unmarshal settings")
	}

	instance = v
	return &settings, nil
}

// Watch installs an fsnotify watcher on path and invokes onChange with
// freshly-unmarshaled Settings every time the file is rewritten. It is
// used to hot-swap the middleware chain and scheduling priorities
// without a process restart.
func Watch(path string, onChange func(*Settings)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, viewerrors.Wrap(err, "failed to create config watcher")
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, viewerrors.Wrapf(err, "failed to watch config file %s", path)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				settings, loadErr := Load(path)
				if loadErr != nil {
					continue
				}
				onChange(settings)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() error {
		close(done)
		return watcher.Close()
	}, nil
}
