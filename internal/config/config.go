package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds deerzone runtime configuration loaded from TOML.
type Config struct {
	ConfigVersion int             `toml:"config_version"`
	API           APIConfig       `toml:"api"`
	Vote          VoteConfig      `toml:"vote"`
	Telegram      TelegramConfig  `toml:"telegram"`
	Admin         AdminConfig     `toml:"admin"`
	Player        PlayerConfig    `toml:"player"`
	UI            UIConfig        `toml:"ui"`
	Selection     SelectionConfig `toml:"selection"`
	Log           LogConfig       `toml:"log"`
}

// APIConfig points the client at the chart API.
type APIConfig struct {
	BaseURL   string `toml:"base_url"`
	TimeoutMS int    `toml:"timeout_ms"`
}

// VoteConfig holds voting limits. The cap differs between deployments, so
// it is configuration, not a constant.
type VoteConfig struct {
	MaxSelection int `toml:"max_selection"`
}

// TelegramConfig locates the session credential when the host wrapper
// cannot export it through the environment.
type TelegramConfig struct {
	InitDataFile string `toml:"init_data_file"`
}

// AdminConfig names the environment variable carrying the admin token.
// The token itself never lives in the config file.
type AdminConfig struct {
	TokenEnv string `toml:"token_env"`
}

type PlayerConfig struct {
	MPVPath       string `toml:"mpv_path"`
	IPC           string `toml:"ipc"`
	InitialVolume int    `toml:"initial_volume"`
}

type UIConfig struct {
	Theme   string `toml:"theme"`
	NoEmoji bool   `toml:"no_emoji"`
}

// LogConfig controls the file logger. Level is one of debug, info, warn,
// error.
type LogConfig struct {
	Level string `toml:"level"`
}

// SelectionConfig controls persistence of the pending ballot.
type SelectionConfig struct {
	// Persist is a pointer so an absent key defaults to on while an
	// explicit `persist = false` still turns it off.
	Persist *bool  `toml:"persist"`
	DBPath  string `toml:"db_path"`
}

// Enabled reports whether ballot persistence is on.
func (s SelectionConfig) Enabled() bool {
	return s.Persist == nil || *s.Persist
}

// Load reads configuration from disk. If path is empty, a default
// OS-specific location is used.
func Load(path string) (*Config, string, error) {
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = defaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return nil, cfgPath, err
	}

	return &cfg, cfgPath, nil
}

func defaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	base := filepath.Join(dir, "deerzone")
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(base, "config.toml"), nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.TimeoutMS == 0 {
		cfg.API.TimeoutMS = 8000
	}
	if cfg.Vote.MaxSelection == 0 {
		cfg.Vote.MaxSelection = 10
	}
	if cfg.Admin.TokenEnv == "" {
		cfg.Admin.TokenEnv = "DEERZONE_ADMIN_TOKEN"
	}
	if cfg.Player.MPVPath == "" {
		cfg.Player.MPVPath = "mpv"
	}
	if cfg.Player.InitialVolume == 0 {
		cfg.Player.InitialVolume = 70
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = "deer"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate performs semantic validation of the loaded config.
func Validate(cfg Config) error {
	if cfg.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if cfg.Vote.MaxSelection < 1 || cfg.Vote.MaxSelection > 100 {
		return fmt.Errorf("vote.max_selection must be 1-100")
	}
	if cfg.Player.InitialVolume < 0 || cfg.Player.InitialVolume > 100 {
		return fmt.Errorf("player.initial_volume must be 0-100")
	}
	if _, err := os.Stat(cfg.Player.MPVPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, lookErr := execLookPath(cfg.Player.MPVPath); lookErr != nil {
				return fmt.Errorf("mpv not found (%s): %w", cfg.Player.MPVPath, lookErr)
			}
		}
	}
	return nil
}

// AdminToken resolves the admin token from the configured environment
// variable. Empty when not set.
func (c Config) AdminToken() string {
	return os.Getenv(c.Admin.TokenEnv)
}

// Timeout returns the API timeout as a duration.
func (c Config) Timeout() time.Duration {
	d := time.Duration(c.API.TimeoutMS) * time.Millisecond
	if d == 0 {
		d = 8 * time.Second
	}
	return d
}

// DeadlineContext returns a context bounded by the API timeout.
func (c Config) DeadlineContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.Timeout())
}

// execLookPath is a test seam.
var execLookPath = func(file string) (string, error) {
	return exec.LookPath(file)
}
