package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ochat/internal/logging"
)

// Tor modes accepted in tor.mode.
const (
	TorEmbedded = "embedded"
	TorExternal = "external"
	TorMemory   = "memory"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home       string `mapstructure:"home"` // data directory, e.g. $HOME/.ochat
	Passphrase string `mapstructure:"passphrase"`
	// DisplayName is offered to peers with requests.
	DisplayName string `mapstructure:"display_name"`

	Tor       TorConfig       `mapstructure:"tor"`
	Transport TransportConfig `mapstructure:"transport"`
	Handshake HandshakeConfig `mapstructure:"handshake"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Message   MessageConfig   `mapstructure:"message"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Storage   StorageConfig   `mapstructure:"storage"`
	API       APIConfig       `mapstructure:"api"`
	Log       logging.Config  `mapstructure:"log"`
}

type TorConfig struct {
	Mode             string        `mapstructure:"mode"`
	Port             int           `mapstructure:"port"`
	ExePath          string        `mapstructure:"exe_path"`
	DataDir          string        `mapstructure:"data_dir"`
	Verbose          bool          `mapstructure:"verbose"`
	SocksAddr        string        `mapstructure:"socks_addr"`
	HiddenServiceDir string        `mapstructure:"hidden_service_dir"`
	ListenHost       string        `mapstructure:"listen_host"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	BootstrapTimeout time.Duration `mapstructure:"bootstrap_timeout"`
}

type TransportConfig struct {
	MaxFrame        int           `mapstructure:"max_frame"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	FramesPerSecond float64       `mapstructure:"frames_per_second"`
	FrameBurst      int           `mapstructure:"frame_burst"`
}

type HandshakeConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type DeliveryConfig struct {
	SendTimeout            time.Duration `mapstructure:"send_timeout"`
	AutoRetries            int           `mapstructure:"auto_retries"`
	Backoff                time.Duration `mapstructure:"backoff"`
	MaxBackoff             time.Duration `mapstructure:"max_backoff"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
}

type MessageConfig struct {
	ChunkSize       int           `mapstructure:"chunk_size"`
	MaxFileSize     int64         `mapstructure:"max_file_size"`
	TypingInterval  time.Duration `mapstructure:"typing_interval"`
	TransferTimeout time.Duration `mapstructure:"transfer_timeout"`
	PruneInterval   time.Duration `mapstructure:"prune_interval"`
}

type PresenceConfig struct {
	// Interval between reachability probes of confirmed contacts; 0 disables them.
	Interval time.Duration `mapstructure:"interval"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, file or memory
}

type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	// Empty defaults make the keys visible to AutomaticEnv during Unmarshal.
	for _, k := range []string{"home", "passphrase", "display_name", "tor.exe_path", "tor.data_dir", "tor.hidden_service_dir", "log.file"} {
		v.SetDefault(k, "")
	}

	v.SetDefault("tor.mode", TorEmbedded)
	v.SetDefault("tor.port", 11009)
	v.SetDefault("tor.socks_addr", "127.0.0.1:9050")
	v.SetDefault("tor.listen_host", "127.0.0.1")
	v.SetDefault("tor.dial_timeout", "45s")
	v.SetDefault("tor.bootstrap_timeout", "3m")

	v.SetDefault("transport.max_frame", 1<<20)
	v.SetDefault("transport.write_timeout", "30s")
	v.SetDefault("transport.frames_per_second", 50)

	v.SetDefault("handshake.timeout", "72h")
	v.SetDefault("handshake.sweep_interval", "1m")

	v.SetDefault("delivery.send_timeout", "30s")
	v.SetDefault("delivery.auto_retries", 2)
	v.SetDefault("delivery.backoff", "2s")
	v.SetDefault("delivery.max_backoff", "30s")
	v.SetDefault("delivery.max_consecutive_failures", 3)

	v.SetDefault("message.chunk_size", 32<<10)
	v.SetDefault("message.max_file_size", 64<<20)
	v.SetDefault("message.typing_interval", "2s")
	v.SetDefault("message.transfer_timeout", "10m")
	v.SetDefault("message.prune_interval", "1m")

	v.SetDefault("presence.interval", "1m")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("api.listen", "127.0.0.1:7657")
	v.SetDefault("log.level", "info")
}

// LoadConfig merges defaults, ochat.yaml in the home directory, OCHAT_*
// environment variables and flags, in increasing priority. A flag named
// after a section binds to a key in it, so --api-listen sets api.listen and
// --tor-dial-timeout sets tor.dial_timeout.
func LoadConfig(v *viper.Viper, flags *pflag.FlagSet) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("OCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(FlagKey(f.Name), f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})
		if bindErr != nil {
			return Config{}, bindErr
		}
	}

	home := v.GetString("home")
	if home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return Config{}, err
		}
		home = filepath.Join(dir, ".ochat")
		v.Set("home", home)
	}

	v.SetConfigName("ochat")
	v.SetConfigType("yaml")
	v.AddConfigPath(home)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

var sections = map[string]bool{
	"tor": true, "transport": true, "handshake": true, "delivery": true, "message": true,
	"presence": true, "storage": true, "api": true, "log": true,
}

// FlagKey maps a flag name to its config key.
func FlagKey(name string) string {
	if section, rest, ok := strings.Cut(name, "-"); ok && sections[section] {
		return section + "." + strings.ReplaceAll(rest, "-", "_")
	}
	return strings.ReplaceAll(name, "-", "_")
}

// Validate rejects values the services cannot run with.
func (c Config) Validate() error {
	switch c.Tor.Mode {
	case TorEmbedded, TorMemory:
	case TorExternal:
		if c.Tor.HiddenServiceDir == "" {
			return errors.New("tor.hidden_service_dir is required in external mode")
		}
	default:
		return fmt.Errorf("unknown tor.mode %q", c.Tor.Mode)
	}
	if c.Tor.Port <= 0 || c.Tor.Port > 65535 {
		return fmt.Errorf("tor.port %d out of range", c.Tor.Port)
	}
	if c.Message.ChunkSize <= 0 {
		return errors.New("message.chunk_size must be positive")
	}
	if c.Transport.MaxFrame > 0 && c.Message.ChunkSize > c.Transport.MaxFrame/2 {
		return fmt.Errorf("message.chunk_size %d does not fit transport.max_frame %d", c.Message.ChunkSize, c.Transport.MaxFrame)
	}
	return nil
}
