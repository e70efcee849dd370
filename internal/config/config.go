package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Backend struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Session struct {
	DefaultID  string `mapstructure:"default_id"`
	NamePrefix string `mapstructure:"name_prefix"`
}

type Publisher struct {
	Width     int  `mapstructure:"width"`
	Height    int  `mapstructure:"height"`
	FrameRate int  `mapstructure:"frame_rate"`
	Mirror    bool `mapstructure:"mirror"`
	Audio     bool `mapstructure:"audio"`
	Video     bool `mapstructure:"video"`
}

type RTC struct {
	ICEServers []string      `mapstructure:"ice_servers"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
}

type JoinLimit struct {
	Count    int           `mapstructure:"count"`
	Interval time.Duration `mapstructure:"interval"`
}

type Config struct {
	Mode       string    `mapstructure:"mode"`
	Port       int       `mapstructure:"port"`
	StaticPath string    `mapstructure:"static_path"`
	Secret     string    `mapstructure:"secret"`
	LogLevel   string    `mapstructure:"log_level"`
	Backend    Backend   `mapstructure:"backend"`
	Session    Session   `mapstructure:"session"`
	Publisher  Publisher `mapstructure:"publisher"`
	RTC        RTC       `mapstructure:"rtc"`
	JoinLimit  JoinLimit `mapstructure:"join_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("log_level", "info")
	v.SetDefault("backend.url", "http://localhost:5000")
	v.SetDefault("backend.timeout", "10s")
	v.SetDefault("session.default_id", "SessionA")
	v.SetDefault("session.name_prefix", "Participant")
	v.SetDefault("publisher.width", 640)
	v.SetDefault("publisher.height", 480)
	v.SetDefault("publisher.frame_rate", 30)
	v.SetDefault("publisher.mirror", false)
	v.SetDefault("publisher.audio", true)
	v.SetDefault("publisher.video", true)
	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("rtc.ping_period", "54s")
	v.SetDefault("join_limit.count", 5)
	v.SetDefault("join_limit.interval", "10s")
}

// Flags declares the command line overrides bound on top of the config file.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("vidcall", pflag.ContinueOnError)
	fs.Int("port", 0, "HTTP listen port")
	fs.String("mode", "", "gin mode: debug or release")
	fs.String("log-level", "", "zerolog level")
	fs.String("backend-url", "", "session backend base URL")
	fs.String("session-id", "", "default session id")
	return fs
}

var flagKeys = map[string]string{
	"port":        "port",
	"mode":        "mode",
	"log-level":   "log_level",
	"backend-url": "backend.url",
	"session-id":  "session.default_id",
}

// Load reads config/config.<CONFIG_ENV>.yaml, then applies changed flags
// from fs. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("VIDCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Backend: %s\n", cfg.Mode, cfg.Port, cfg.Backend.URL)
	return &cfg, nil
}
