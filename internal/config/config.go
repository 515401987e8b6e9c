package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`
	LogLevel   string `mapstructure:"log_level"`

	Signaling Signaling `mapstructure:"signaling"`
	Peer      Peer      `mapstructure:"peer"`
	Media     Media     `mapstructure:"media"`
	Identity  Identity  `mapstructure:"identity"`
	Call      Call      `mapstructure:"call"`
}

type Signaling struct {
	URL        string        `mapstructure:"url"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	ReadLimit  int64         `mapstructure:"read_limit"`
}

type Peer struct {
	URL             string        `mapstructure:"url"`
	Key             string        `mapstructure:"key"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	OpenTimeout     time.Duration `mapstructure:"open_timeout"`
	HeartbeatPeriod time.Duration `mapstructure:"heartbeat_period"`
	ICEServers      []string      `mapstructure:"ice_servers"`
}

type Media struct {
	// Source is one of "devices", "file" or "null".
	Source    string `mapstructure:"source"`
	VideoFile string `mapstructure:"video_file"`
	AudioFile string `mapstructure:"audio_file"`
	Loop      bool   `mapstructure:"loop"`
	Audio     bool   `mapstructure:"audio"`
	Video     bool   `mapstructure:"video"`
}

type Identity struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Call holds the parameters of a headless join.
type Call struct {
	Room  string `mapstructure:"room"`
	User  string `mapstructure:"user"`
	Name  string `mapstructure:"name"`
	Token string `mapstructure:"token"`
}

// New returns a viper instance with every default registered and the
// environment bound, before any file is read. Flags are bound on top of it.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("MEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("config_env", "CONFIG_ENV")

	v.SetDefault("config_env", "dev")
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "meetclient-dev-secret")
	v.SetDefault("log_level", "info")

	v.SetDefault("signaling.url", "ws://localhost:3001/ws")
	v.SetDefault("signaling.ping_period", "54s")
	v.SetDefault("signaling.write_wait", "5s")
	v.SetDefault("signaling.read_limit", 32768)

	v.SetDefault("peer.url", "ws://localhost:9000/peerjs")
	v.SetDefault("peer.key", "peerjs")
	v.SetDefault("peer.call_timeout", "15s")
	v.SetDefault("peer.open_timeout", "10s")
	v.SetDefault("peer.heartbeat_period", "5s")
	v.SetDefault("peer.ice_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	})

	v.SetDefault("media.source", "null")
	v.SetDefault("media.video_file", "")
	v.SetDefault("media.audio_file", "")
	v.SetDefault("media.loop", true)
	v.SetDefault("media.audio", true)
	v.SetDefault("media.video", true)

	v.SetDefault("identity.jwt_secret", "")

	v.SetDefault("call.room", "")
	v.SetDefault("call.user", "")
	v.SetDefault("call.name", "")
	v.SetDefault("call.token", "")
	return v
}

// Load reads .env, then config/config.<env>.yaml, into v. A missing file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("module", "config").Err(err).Msg("failed to read .env")
	}

	env := v.GetString("config_env")
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("media", cfg.Media.Source).Msg("config ready")
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// ApplyLogLevel sets the global zerolog level. Unknown names fall back to info.
func ApplyLogLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

// Watch re-applies log_level whenever the loaded file changes. Other keys need a restart.
func Watch(v *viper.Viper) {
	file := v.ConfigFileUsed()
	if file == "" {
		return
	}
	if _, err := os.Stat(file); err != nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		lvl := ApplyLogLevel(v.GetString("log_level"))
		log.Info().Str("module", "config").Str("file", e.Name).Str("op", e.Op.String()).Str("level", lvl.String()).Msg("config reloaded")
	})
	v.WatchConfig()
}
