package studyroom

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	// Port is the port number to listen on. The default is 8080.
	Port int `mapstructure:"port" validate:"required,port"`
	// Host is the interface to listen on. The default is 0.0.0.0.
	Host string `mapstructure:"host" validate:"required"`
	// MaxConnections caps concurrent websocket connections. 0 disables the cap.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0"`
	// RateLimitWindowMS and RateLimitMax allow RateLimitMax messages per
	// user in every window.
	RateLimitWindowMS int `mapstructure:"rate_limit_window_ms" validate:"gt=0"`
	RateLimitMax      int `mapstructure:"rate_limit_max" validate:"gt=0"`

	// AuthSecret signs and verifies HS256 tokens. It must be base64 encoded.
	// The default is a random 32 byte secret, which only suits development.
	AuthSecret Base64Encoded `mapstructure:"auth_secret" validate:"required"`
	// DatabaseURL is a SQLite file path or a postgres:// URL.
	DatabaseURL string `mapstructure:"database_url" validate:"required"`
	// RedisURL enables the redis change feed for room messages when set.
	RedisURL       string   `mapstructure:"redis_url" validate:"omitempty,url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	PresenceStaleAfter time.Duration `mapstructure:"presence_stale_after" validate:"gt=0"`
	// PresenceSweepInterval is how often stale presence is swept. 0 disables the sweeper.
	PresenceSweepInterval time.Duration `mapstructure:"presence_sweep_interval" validate:"gte=0"`
	// BannedWords replaces the built-in sanitizer word list when set.
	BannedWords    []string `mapstructure:"banned_words"`
	SendBufferSize int      `mapstructure:"send_buffer_size" validate:"gt=0"`

	// TLSCertFile and TLSKeyFile serve https and wss when both are set.
	TLSCertFile string `mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=text json"`

	valid bool
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMS) * time.Millisecond
}

type Base64Encoded []byte

func (b *Base64Encoded) UnmarshalText(text []byte) error {
	dec, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}
	*b = dec
	return nil
}

func setDefaults(v *viper.Viper) error {
	v.SetDefault("port", 8080)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("max_connections", 1000)
	v.SetDefault("rate_limit_window_ms", 60000)
	v.SetDefault("rate_limit_max", 100)

	// generate a random secret key
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	v.SetDefault("auth_secret", base64.StdEncoding.EncodeToString(secret))
	v.SetDefault("database_url", "./studyroom.db")
	v.SetDefault("redis_url", "")
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("presence_stale_after", 5*time.Minute)
	v.SetDefault("presence_sweep_interval", time.Minute)
	v.SetDefault("banned_words", []string{})
	v.SetDefault("send_buffer_size", 256)
	v.SetDefault("tls_cert_file", "")
	v.SetDefault("tls_key_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	return nil
}

type loadOptions struct {
	envFiles   []string
	configPath string
}

type LoadOption func(*loadOptions)

// WithEnvFiles loads the given dotenv files instead of ./.env.
func WithEnvFiles(files ...string) LoadOption {
	return func(o *loadOptions) {
		o.envFiles = files
	}
}

// WithConfigPath searches path for config.yaml instead of the working directory.
func WithConfigPath(path string) LoadOption {
	return func(o *loadOptions) {
		o.configPath = path
	}
}

// LoadConfig loads the configuration from defaults, an optional config.yaml,
// an optional .env file and the environment, in increasing precedence.
// Missing files are not an error. Values are checked by Validate.
func LoadConfig(opts ...LoadOption) (*Config, error) {
	o := loadOptions{envFiles: []string{".env"}, configPath: "."}
	for _, opt := range opts {
		opt(&o)
	}

	// godotenv never overrides variables that are already set
	for _, f := range o.envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(o.configPath)
	v.AutomaticEnv()
	if err := setDefaults(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	config.AllowedOrigins = trimAll(config.AllowedOrigins)
	config.BannedWords = trimAll(config.BannedWords)
	return config, nil
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, s := range values {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := validate.Struct(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

// FormatValidationErrors renders the validation errors of a Config in
// English, one per line and sorted.
func FormatValidationErrors(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errs.Translate(trans)

	var sb strings.Builder
	for _, v := range slices.Sorted(maps.Values(translated)) {
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return sb.String()
}
