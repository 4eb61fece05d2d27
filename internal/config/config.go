package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type SignalConfig struct {
	SendQueue    int           `mapstructure:"send_queue"`
	Backpressure string        `mapstructure:"backpressure"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

type PresenceConfig struct {
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
}

type AuthConfig struct {
	// Mode is "session" (identity from the signed cookie) or "open"
	// (identity taken from join_room, no room access rule).
	Mode       string `mapstructure:"mode"`
	RoomPrefix string `mapstructure:"room_prefix"`
}

type StorageConfig struct {
	Path       string `mapstructure:"path"`
	ImportJSON string `mapstructure:"import_json"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	LogLevel    string        `mapstructure:"log_level"`
	Secret      string        `mapstructure:"secret"`
	SessionName string        `mapstructure:"session_name"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	PongWait    time.Duration `mapstructure:"pong_wait"`
	WriteWait   time.Duration `mapstructure:"write_wait"`

	Signal     SignalConfig   `mapstructure:"signal"`
	Presence   PresenceConfig `mapstructure:"presence"`
	Auth       AuthConfig     `mapstructure:"auth"`
	Storage    StorageConfig  `mapstructure:"storage"`
	ICEServers []ICEServer    `mapstructure:"ice_servers"`
}

// WebRTCICEServers converts the configured list into the form handed to
// browsers.
func (c *Config) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			continue
		}
		ice := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			ice.Credential = s.Credential
		}
		out = append(out, ice)
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "change-me")
	v.SetDefault("session_name", "session")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "25s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")

	v.SetDefault("signal.send_queue", 64)
	v.SetDefault("signal.backpressure", "drop")
	v.SetDefault("signal.rate_limit", 50)
	v.SetDefault("signal.rate_interval", "1s")

	v.SetDefault("presence.sweep_interval", "30s")
	v.SetDefault("presence.inactivity_timeout", "90s")

	v.SetDefault("auth.mode", "session")
	v.SetDefault("auth.room_prefix", "ZindakiRoom_")

	v.SetDefault("storage.path", "data/confer.db")
	v.SetDefault("storage.import_json", "lessons.json")

	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CONFER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// FileName is the config file selected by CONFIG_ENV (default "dev").
func FileName() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/config.%s.yaml", env)
}

// Loader keeps the viper instance around so the file can be watched.
type Loader struct {
	v    *viper.Viper
	file string
}

// LoadFile reads file, falling back to defaults when it is missing.
func LoadFile(file string) (*Loader, *Config, error) {
	v := newViper()
	v.SetConfigFile(file)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Err(err).Str("module", "config").Str("file", file).Msg("config file not loaded, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", file).Msg("loaded config")
	}

	l := &Loader{v: v, file: file}
	cfg, err := l.decode()
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("auth", cfg.Auth.Mode).Msg("config ready")
	return l, cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Auth.Mode {
	case "session", "open":
	default:
		return fmt.Errorf("auth.mode: unknown value %q", c.Auth.Mode)
	}
	if c.Signal.SendQueue <= 0 {
		return fmt.Errorf("signal.send_queue must be positive, got %d", c.Signal.SendQueue)
	}
	if c.Presence.SweepInterval <= 0 || c.Presence.InactivityTimeout <= 0 {
		return fmt.Errorf("presence timings must be positive")
	}
	return nil
}

// Watch calls fn with the re-read config whenever the file changes. Invalid
// edits are logged and skipped.
func (l *Loader) Watch(fn func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			log.Error().Err(err).Str("module", "config").Str("file", e.Name).Msg("reload rejected")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Str("op", e.Op.String()).Msg("config reloaded")
		fn(cfg)
	})
	l.v.WatchConfig()
}
