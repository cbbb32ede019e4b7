/*
Ambient configuration bootstrap.

This engine's domain configuration (cameras, streaming, recording, storage
settings) is durable and lives in internal/configstore, not here. What
remains ambient — the logging setup, the database path, and the debug flag
— is loaded the same way a Viper-backed ConfigManager loads its YAML, using
Viper with environment-variable overrides and an fsnotify watch for live
log-level changes, generalized down from a much larger Server/MediaMTX/Camera/Security/Storage Config
struct (ServerConfig/MediaMTXConfig/CameraConfig/...), none of which maps
onto this engine's domain.
*/

package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Ambient holds the bootstrap settings needed before the configuration
// store can be opened: where its database lives, how verbose logging
// should be, and the subscription hub's bind address.
type Ambient struct {
	DatabasePath string `mapstructure:"database_path"`
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
	LogFilePath  string `mapstructure:"log_file_path"`
	HTTPAddr     string `mapstructure:"http_addr"`
	Debug        bool   `mapstructure:"debug"`
}

// DefaultAmbient mirrors the documented ambient defaults.
func DefaultAmbient() Ambient {
	return Ambient{
		DatabasePath: "./IT_RNVR.db",
		LogLevel:     "info",
		LogFormat:    "json",
		LogFilePath:  "./nvrengine.log",
		HTTPAddr:     ":8080",
		Debug:        false,
	}
}

// Loader loads the ambient bootstrap configuration from an optional YAML
// file (NVRENGINE_-prefixed environment variables still override),
// and notifies subscribers when the file changes on disk.
type Loader struct {
	v *viper.Viper

	mu   sync.Mutex
	subs []func(Ambient)
}

// NewLoader constructs a loader with defaults applied. configPath may be
// empty, in which case only defaults and environment variables apply.
func NewLoader(configPath string) (*Loader, Ambient, error) {
	v := viper.New()
	v.SetEnvPrefix("NVRENGINE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	def := DefaultAmbient()
	v.SetDefault("database_path", def.DatabasePath)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("log_file_path", def.LogFilePath)
	v.SetDefault("http_addr", def.HTTPAddr)
	v.SetDefault("debug", def.Debug)

	l := &Loader{v: v}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, Ambient{}, fmt.Errorf("read ambient config %q: %w", configPath, err)
		}
	}

	var cfg Ambient
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, Ambient{}, fmt.Errorf("unmarshal ambient config: %w", err)
	}

	return l, cfg, nil
}

// Watch begins an fsnotify watch on the loaded config file, if any, and
// invokes fn with the freshly reloaded Ambient on every write.
func (l *Loader) Watch(fn func(Ambient)) error {
	configFile := l.v.ConfigFileUsed()
	if configFile == "" {
		return nil
	}

	l.mu.Lock()
	l.subs = append(l.subs, fn)
	l.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	if err := watcher.Add(configFile); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file %q: %w", configFile, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := l.v.ReadInConfig(); err != nil {
					continue
				}
				var cfg Ambient
				if err := l.v.Unmarshal(&cfg); err != nil {
					continue
				}
				l.mu.Lock()
				subs := append([]func(Ambient){}, l.subs...)
				l.mu.Unlock()
				for _, sub := range subs {
					sub(cfg)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return nil
}
