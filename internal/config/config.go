package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	NotifierNone    = "none"
	NotifierWebhook = "webhook"
	NotifierAMQP    = "amqp"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Schedule ScheduleConfig
	Payment  PaymentConfig
	Gateway  GatewayConfig
	Notifier NotifierConfig
	Dispatch DispatchConfig
	LogLevel string
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

type StoreConfig struct {
	// Driver is postgres or memory.
	Driver string
	// MemorySeed is an optional JSON file loaded into the memory store.
	MemorySeed string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
	// MaxConns of zero keeps the pgxpool default.
	MaxConns int32
}

func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     p.Name,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}

type AuthConfig struct {
	JWTSecret      string
	TokenTTL       time.Duration
	SchedulerToken string
}

type ScheduleConfig struct {
	Location          *time.Location
	CasualWindowHours float64
	LateGrace         time.Duration
	Lookahead         time.Duration
	Threshold         time.Duration
}

type PaymentConfig struct {
	CardFeePercent  float64
	CardLinks       bool
	MonthlyFeeCents int64
}

type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type NotifierConfig struct {
	Driver     string
	WebhookURL string
	SharedKey  string
	AMQPURL    string
	Queue      string
}

type DispatchConfig struct {
	Concurrency int64
	Timeout     time.Duration
}

type reader struct {
	op  string
	err error
}

func (r *reader) getString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func (r *reader) getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" || r.err != nil {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.err = fmt.Errorf("%s: invalid %s: %w", r.op, key, err)
		return def
	}
	return n
}

func (r *reader) getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" || r.err != nil {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.err = fmt.Errorf("%s: invalid %s: %w", r.op, key, err)
		return def
	}
	return f
}

func (r *reader) getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" || r.err != nil {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.err = fmt.Errorf("%s: invalid %s: %w", r.op, key, err)
		return def
	}
	return b
}

func (r *reader) getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" || r.err != nil {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.err = fmt.Errorf("%s: invalid %s: %w", r.op, key, err)
		return def
	}
	return d
}

// getList reads a comma separated list, dropping empty items.
func (r *reader) getList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getHours reads a fractional number of hours, e.g. PROMOTE_THRESHOLD_HOURS=4.5.
func (r *reader) getHours(key string, def time.Duration) time.Duration {
	h := r.getFloat(key, def.Hours())
	return time.Duration(h * float64(time.Hour))
}

// New reads the configuration from the environment, loading a .env file
// first when one exists.
func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	r := &reader{op: op}

	cfg := &Config{
		Server: ServerConfig{
			Host:        r.getString("SERVER_HOST", "localhost"),
			Port:        r.getInt("SERVER_PORT", 8080),
			CORSOrigins: r.getList("CORS_ALLOW_ORIGINS"),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(r.getString("STORE_DRIVER", StoreDriverPostgres)),
			MemorySeed: r.getString("MEMORY_SEED", ""),
		},
		Postgres: PostgresConfig{
			User:     r.getString("POSTGRES_USER", ""),
			Password: r.getString("POSTGRES_PASSWORD", ""),
			Name:     r.getString("POSTGRES_DB", ""),
			Host:     r.getString("POSTGRES_HOST", "localhost"),
			Port:     r.getInt("POSTGRES_PORT", 5432),
			SSLMode:  r.getString("POSTGRES_SSLMODE", "disable"),
			MaxConns: int32(r.getInt("POSTGRES_MAX_CONNS", 0)),
		},
		Redis: RedisConfig{
			Enabled:  r.getBool("REDIS_ENABLED", true),
			Addr:     r.getString("REDIS_ADDR", "localhost:6380"),
			Password: r.getString("REDIS_PASSWORD", ""),
			DB:       r.getInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:      r.getString("JWT_SECRET", ""),
			TokenTTL:       r.getDuration("JWT_TTL", 24*time.Hour),
			SchedulerToken: r.getString("SCHEDULER_TOKEN", ""),
		},
		Schedule: ScheduleConfig{
			CasualWindowHours: r.getFloat("CASUAL_WINDOW_HOURS", 4),
			LateGrace:         r.getDuration("LATE_GRACE", time.Hour),
			Lookahead:         r.getHours("PROMOTE_LOOKAHEAD_HOURS", 24*time.Hour),
			Threshold:         r.getHours("PROMOTE_THRESHOLD_HOURS", 4*time.Hour+30*time.Minute),
		},
		Payment: PaymentConfig{
			CardFeePercent:  r.getFloat("CARD_FEE_PERCENT", 0),
			CardLinks:       r.getBool("CARD_LINKS_ENABLED", false),
			MonthlyFeeCents: int64(r.getInt("MONTHLY_FEE_CENTS", 0)),
		},
		Gateway: GatewayConfig{
			BaseURL: r.getString("GATEWAY_BASE_URL", ""),
			APIKey:  r.getString("GATEWAY_API_KEY", ""),
			Timeout: r.getDuration("GATEWAY_TIMEOUT", 10*time.Second),
		},
		Notifier: NotifierConfig{
			Driver:     strings.ToLower(r.getString("NOTIFIER_DRIVER", NotifierNone)),
			WebhookURL: r.getString("NOTIFIER_WEBHOOK_URL", ""),
			SharedKey:  r.getString("NOTIFIER_SHARED_KEY", ""),
			AMQPURL:    r.getString("NOTIFIER_AMQP_URL", ""),
			Queue:      r.getString("NOTIFIER_AMQP_QUEUE", "pelada.notifications"),
		},
		Dispatch: DispatchConfig{
			Concurrency: int64(r.getInt("DISPATCH_CONCURRENCY", 16)),
			Timeout:     r.getDuration("DISPATCH_TIMEOUT", 15*time.Second),
		},
		LogLevel: strings.ToLower(r.getString("LOG_LEVEL", "info")),
	}
	if r.err != nil {
		return nil, r.err
	}

	loc, err := time.LoadLocation(r.getString("EVENT_TIMEZONE", "America/Sao_Paulo"))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid EVENT_TIMEZONE: %w", op, err)
	}
	cfg.Schedule.Location = loc

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Postgres.User == "" {
			return errors.New("missing POSTGRES_USER")
		}
		if c.Postgres.Password == "" {
			return errors.New("missing POSTGRES_PASSWORD")
		}
		if c.Postgres.Name == "" {
			return errors.New("missing POSTGRES_DB")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Notifier.Driver {
	case NotifierNone:
	case NotifierWebhook:
		if c.Notifier.WebhookURL == "" {
			return errors.New("missing NOTIFIER_WEBHOOK_URL")
		}
	case NotifierAMQP:
		if c.Notifier.AMQPURL == "" {
			return errors.New("missing NOTIFIER_AMQP_URL")
		}
	default:
		return fmt.Errorf("unknown NOTIFIER_DRIVER %q", c.Notifier.Driver)
	}

	if c.Postgres.MaxConns < 0 {
		return errors.New("POSTGRES_MAX_CONNS must not be negative")
	}
	if c.Payment.CardFeePercent < 0 {
		return errors.New("CARD_FEE_PERCENT must not be negative")
	}
	if c.Schedule.Lookahead < 0 || c.Schedule.Threshold < 0 {
		return errors.New("promotion lookahead and threshold must not be negative")
	}

	return nil
}
