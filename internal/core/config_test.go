package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestDefaultConfigValues(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = viper.New()
	setDefaults(Config)
	Config.Set("config_path", "/tmp/test-zsh-tool")

	cases := []struct {
		name string
		got  any
		want any
	}{
		{"neverhang_timeout_default", GetNeverhangTimeoutDefault(), 3600},
		{"neverhang_timeout_max", GetNeverhangTimeoutMax(), 600},
		{"neverhang_failure_threshold", GetNeverhangFailureThreshold(), 3},
		{"neverhang_recovery_timeout", GetNeverhangRecoveryTimeout(), 300},
		{"neverhang_sample_window", GetNeverhangSampleWindow(), 3600},
		{"yield_after_default", GetYieldAfterDefault(), 2.0},
		{"alan_decay_half_life_hours", GetAlanDecayHalfLifeHours(), 24},
		{"alan_prune_threshold", GetAlanPruneThreshold(), 0.01},
		{"alan_max_entries", GetAlanMaxEntries(), 10000},
		{"alan_prune_interval_hours", GetAlanPruneIntervalHours(), 6},
		{"alan_recent_window_minutes", GetAlanRecentWindowMinutes(), 10},
		{"alan_streak_threshold", GetAlanStreakThreshold(), 3},
		{"alan_manopt_enabled", GetAlanManoptEnabled(), true},
		{"alan_manopt_timeout", GetAlanManoptTimeout(), 2.0},
		{"alan_manopt_fail_trigger", GetAlanManoptFailTrigger(), 2},
		{"alan_manopt_fail_present", GetAlanManoptFailPresent(), 3},
		{"truncate_output_at", GetTruncateOutputAt(), 30000},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestPipestatusMarkerMatchesOriginal(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = viper.New()
	setDefaults(Config)

	want := "___ZSH_PIPESTATUS_MARKER_f9a8b7c6___"
	if got := GetPipestatusMarker(); got != want {
		t.Errorf("pipestatus_marker = %q, want %q", got, want)
	}
}

func TestConfigFromYAMLFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("yield_after_default: 5.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	Config = viper.New()
	setDefaults(Config)
	Config.SetConfigFile(path)
	if err := Config.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error: %v", err)
	}

	if got := GetYieldAfterDefault(); got != 5.0 {
		t.Errorf("yield_after_default = %v, want 5.0", got)
	}
	// Unset keys still fall back to defaults.
	if got := GetAlanDecayHalfLifeHours(); got != 24 {
		t.Errorf("alan_decay_half_life_hours = %v, want 24", got)
	}
}

func TestConfigEnvOverride(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	t.Setenv("NEVERHANG_TIMEOUT_DEFAULT", "60")

	Config = viper.New()
	setDefaults(Config)
	Config.AutomaticEnv()
	for _, key := range envBoundKeys {
		_ = Config.BindEnv(key, strings.ToUpper(key))
	}

	if got := GetNeverhangTimeoutDefault(); got != 60 {
		t.Errorf("neverhang_timeout_default = %v, want 60 (env override)", got)
	}
}

func TestExpandTilde(t *testing.T) {
	home, _ := os.UserHomeDir()
	cases := map[string]string{
		"~":            home,
		"~/foo/bar":    filepath.Join(home, "foo/bar"),
		"/abs/path":    "/abs/path",
		"relative/dir": "relative/dir",
	}
	for in, want := range cases {
		if got := expandTilde(in); got != want {
			t.Errorf("expandTilde(%q) = %q, want %q", in, got, want)
		}
	}
}
