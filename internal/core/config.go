package core

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BaseDirName    = ".config/zsh-tool"
	ConfigFileName = "config"
	ConfigFileType = "yaml"
)

// Config is the process-global, viper-backed configuration. It is populated
// once in InitializeConfig and hot-reloaded by WatchConfig afterwards.
var Config *viper.Viper

var globalFlagsToConfigKey = map[string]string{
	"config-path": "config_path",
	"verbose":     "verbose",
}

// envBoundKeys lists the config keys that map onto a documented environment
// variable override (SPEC_FULL.md §6 table). The env var name is the
// upper-cased key with no prefix, matching the original implementation.
var envBoundKeys = []string{
	"neverhang_timeout_default",
	"neverhang_timeout_max",
	"alan_db_path",
	"alan_manopt_enabled",
	"alan_manopt_timeout",
}

func GetConfigDir() string {
	return Config.GetString("config_path")
}

func GetAlanDBPath() string {
	return expandTilde(Config.GetString("alan_db_path"))
}

func GetNeverhangTimeoutDefault() int   { return Config.GetInt("neverhang_timeout_default") }
func GetNeverhangTimeoutMax() int       { return Config.GetInt("neverhang_timeout_max") }
func GetNeverhangFailureThreshold() int { return Config.GetInt("neverhang_failure_threshold") }
func GetNeverhangRecoveryTimeout() int  { return Config.GetInt("neverhang_recovery_timeout") }
func GetNeverhangSampleWindow() int     { return Config.GetInt("neverhang_sample_window") }
func GetYieldAfterDefault() float64     { return Config.GetFloat64("yield_after_default") }
func GetAlanDecayHalfLifeHours() int    { return Config.GetInt("alan_decay_half_life_hours") }
func GetAlanPruneThreshold() float64    { return Config.GetFloat64("alan_prune_threshold") }
func GetAlanMaxEntries() int            { return Config.GetInt("alan_max_entries") }
func GetAlanPruneIntervalHours() int    { return Config.GetInt("alan_prune_interval_hours") }
func GetAlanRecentWindowMinutes() int   { return Config.GetInt("alan_recent_window_minutes") }
func GetAlanStreakThreshold() int       { return Config.GetInt("alan_streak_threshold") }
func GetAlanManoptEnabled() bool        { return Config.GetBool("alan_manopt_enabled") }
func GetAlanManoptTimeout() float64     { return Config.GetFloat64("alan_manopt_timeout") }
func GetAlanManoptFailTrigger() int     { return Config.GetInt("alan_manopt_fail_trigger") }
func GetAlanManoptFailPresent() int     { return Config.GetInt("alan_manopt_fail_present") }
func GetTruncateOutputAt() int          { return Config.GetInt("truncate_output_at") }
func GetPipestatusMarker() string       { return Config.GetString("pipestatus_marker") }

// InitializeConfig wires configuration the way the teacher repo does: a
// fresh *viper.Viper, defaults for every tunable, a YAML config file that is
// created with defaults on first run, documented env-var overrides, and
// binding of the root command's persistent flags.
func InitializeConfig(cmd *cobra.Command) ([]string, error) {
	Config = viper.New()

	configPath := defaultConfigPath()
	if cmd != nil && cmd.Flags().Lookup("config-path") != nil {
		if v, err := cmd.Flags().GetString("config-path"); err == nil && v != "" {
			configPath = v
		}
	}
	Config.Set("config_path", configPath)
	Config.AddConfigPath(configPath)
	Config.SetConfigName(ConfigFileName)
	Config.SetConfigType(ConfigFileType)

	setDefaults(Config)

	Config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Config.AutomaticEnv()
	for _, key := range envBoundKeys {
		_ = Config.BindEnv(key, strings.ToUpper(key))
	}

	var messages []string
	if err := Config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if mkErr := os.MkdirAll(configPath, 0o755); mkErr != nil {
				return messages, mkErr
			}
			if wErr := Config.SafeWriteConfig(); wErr != nil {
				messages = append(messages, "zsh-tool: could not write default config: "+wErr.Error())
			}
		} else {
			return messages, err
		}
	}

	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			configKey, ok := globalFlagsToConfigKey[f.Name]
			if !ok {
				return
			}
			if !f.Changed && Config.IsSet(configKey) {
				_ = cmd.Flags().Set(f.Name, Config.GetString(configKey))
			}
		})
	}

	return messages, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("verbose", 0)
	v.SetDefault("neverhang_timeout_default", 3600)
	v.SetDefault("neverhang_timeout_max", 600)
	v.SetDefault("neverhang_failure_threshold", 3)
	v.SetDefault("neverhang_recovery_timeout", 300)
	v.SetDefault("neverhang_sample_window", 3600)
	v.SetDefault("yield_after_default", 2.0)
	v.SetDefault("alan_db_path", filepath.Join("~", BaseDirName, "alan.db"))
	v.SetDefault("alan_decay_half_life_hours", 24)
	v.SetDefault("alan_prune_threshold", 0.01)
	v.SetDefault("alan_max_entries", 10000)
	v.SetDefault("alan_prune_interval_hours", 6)
	v.SetDefault("alan_recent_window_minutes", 10)
	v.SetDefault("alan_streak_threshold", 3)
	v.SetDefault("alan_manopt_enabled", true)
	v.SetDefault("alan_manopt_timeout", 2.0)
	v.SetDefault("alan_manopt_fail_trigger", 2)
	v.SetDefault("alan_manopt_fail_present", 3)
	v.SetDefault("truncate_output_at", 30000)
	v.SetDefault("pipestatus_marker", "___ZSH_PIPESTATUS_MARKER_f9a8b7c6___")
}

// WatchConfig watches the config file for changes and hot-reloads NEVERHANG
// and A.L.A.N. tunables in place, the way the teacher's daemon watches its
// own config file: a debounced fsnotify watcher that re-adds itself after
// editors' atomic rename/remove/create writes.
func WatchConfig() {
	configFile := filepath.Join(GetConfigDir(), ConfigFileName+"."+ConfigFileType)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("zsh-tool: failed to create config watcher", slog.Any("err", err))
		return
	}
	if err := watcher.Add(configFile); err != nil {
		slog.Warn("zsh-tool: failed to watch config file", slog.Any("err", err), slog.String("path", configFile))
		watcher.Close()
		return
	}

	var mu sync.Mutex
	var timer *time.Timer

	go func() {
		defer watcher.Close()
		for event := range watcher.Events {
			if event.Op&(fsnotify.Rename|fsnotify.Remove|fsnotify.Create) != 0 {
				go func() {
					for attempt := 0; attempt < 5; attempt++ {
						if attempt > 0 {
							time.Sleep(time.Duration(10<<uint(attempt-1)) * time.Millisecond)
						}
						watcher.Remove(configFile)
						if err := watcher.Add(configFile); err == nil {
							return
						}
					}
				}()
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(500*time.Millisecond, func() {
				if err := Config.ReadInConfig(); err != nil {
					slog.Warn("zsh-tool: config reload failed", slog.Any("err", err))
					return
				}
				slog.Info("zsh-tool: configuration reloaded", slog.String("file", configFile))
			})
			mu.Unlock()
		}
	}()
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return BaseDirName
	}
	return filepath.Join(home, BaseDirName)
}

func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
