// Package config provides shared configuration functionality using Viper
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvDevelopment = "development"

type LauncherConfig struct {
	AppRoot         string        `mapstructure:"app_root"`
	BotPath         string        `mapstructure:"bot_path"`
	Hostname        string        `mapstructure:"hostname"`
	Port            int           `mapstructure:"port"`
	FrontendDir     string        `mapstructure:"frontend_dir"`
	Interpreter     string        `mapstructure:"interpreter"`
	EntryPoint      string        `mapstructure:"entry_point"`
	FatalMarker     string        `mapstructure:"fatal_marker"`
	QuitOnLastClose bool          `mapstructure:"quit_on_last_close"`
	BridgeSecret    string        `mapstructure:"bridge_secret"`
	ControlPort     int           `mapstructure:"control_port"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
}

type CtlConfig struct {
	Address string        `mapstructure:"address"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Config holds common configuration values shared across all services
type Config struct {
	// Basic configuration
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Launcher LauncherConfig `mapstructure:"launcher"`
	Ctl      CtlConfig      `mapstructure:"ctl"`
}

func setLauncherDefaults(v *viper.Viper) {
	v.SetDefault("launcher.app_root", "")
	v.SetDefault("launcher.bot_path", "")
	v.SetDefault("launcher.hostname", "127.0.0.1")
	v.SetDefault("launcher.port", 8090)
	v.SetDefault("launcher.frontend_dir", "")
	v.SetDefault("launcher.interpreter", "python")
	v.SetDefault("launcher.entry_point", "./pokecli.py")
	v.SetDefault("launcher.fatal_marker", "ERROR")
	v.SetDefault("launcher.quit_on_last_close", true)
	v.SetDefault("launcher.bridge_secret", "")
	v.SetDefault("launcher.control_port", 7894)
	v.SetDefault("launcher.lock_timeout", 5*time.Second)
}

func setCtlDefaults(v *viper.Viper) {
	v.SetDefault("ctl.address", "http://127.0.0.1:8090")
	v.SetDefault("ctl.token", "")
	v.SetDefault("ctl.timeout", 10*time.Second)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")
	v.SetDefault("log_level", "info")

	setLauncherDefaults(v)
	setCtlDefaults(v)
}

func ConfigureViper() {
	// Values can be pulled from env variables with a `GOFBOT_` prefix
	viper.SetEnvPrefix("GOFBOT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetConfigName("launcher")
	viper.AddConfigPath(".")
}

func init() {
	ConfigureViper()
}

// LoadDotEnv loads a .env file into the process environment if one is present
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		slog.Debug("No .env file loaded, relying on environment variables", "error", err)
	}
}

// Load loads shared configuration using Viper with defaults
func Load(configPath string, overrideStr string) (*Config, error) {
	setDefaults(viper.GetViper())

	// If a custom config path is provided, use it
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	err := viper.ReadInConfig()
	if err != nil {
		// Ignore file not found errors (config is optional)
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("read config file %q: %w", viper.ConfigFileUsed(), err)
		}
		slog.Info("No config file found, using defaults")
	} else {
		slog.Info("Loaded config file", "path", viper.ConfigFileUsed())
	}

	// Process override flag if provided (highest precedence)
	if overrideStr != "" {
		for _, pair := range strings.Split(overrideStr, ",") {
			parts := strings.SplitN(pair, ":", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("invalid override %q, expected key:value", pair)
			}
			viper.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// BindFlags binds pflags to viper keys. bindFlags is a map of pflag names to viper keys.
func BindFlags(flags *pflag.FlagSet, bindFlags map[string]string) error {
	for flagName, viperKey := range bindFlags {
		f := flags.Lookup(flagName)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flagName)
		}
		if err := viper.BindPFlag(viperKey, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", flagName, err)
		}
	}
	return nil
}

// ResolveAppRoot returns the configured app root, or the directory holding the
// running executable.
func (c *Config) ResolveAppRoot() string {
	if c.Launcher.AppRoot != "" {
		return c.Launcher.AppRoot
	}
	exe, err := os.Executable()
	if err != nil {
		wd, _ := os.Getwd()
		return wd
	}
	return filepath.Dir(exe)
}

// ResolveBotPath returns the bot directory. Development builds keep the bot
// under dist/ next to the sources.
func (c *Config) ResolveBotPath() string {
	if c.Launcher.BotPath != "" {
		return c.Launcher.BotPath
	}
	root := c.ResolveAppRoot()
	if c.Environment == EnvDevelopment {
		return filepath.Join(root, "dist", "gofbot")
	}
	return filepath.Join(root, "gofbot")
}
