package server

import (
	"net/http"
	"strconv"
	"time"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Server instance
type config struct {
	httpServer     *http.Server
	allowedOrigins []string
	cookieSecure   bool
	timeout        time.Duration
	timeoutMsg     string
	afterShutdown  []func()
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	Host              string        `env:"HOST" envDefault:"0.0.0.0"`
	Port              uint16        `env:"PORT" envDefault:"5000"`
	JWTSecret         string        `env:"JWT_SECRET,required"`
	TokenTTL          time.Duration `env:"TOKEN_TTL" envDefault:"168h"`
	CookieSecure      bool          `env:"COOKIE_SECURE" envDefault:"false"`
	AllowedOrigins    []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	PresenceThreshold time.Duration `env:"PRESENCE_THRESHOLD" envDefault:"30s"`
	PageSize          int           `env:"PAGE_SIZE" envDefault:"20"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
}

// Addr returns host:port the server listens on
func (cfg EnvConfig) Addr() string {
	return cfg.Host + ":" + strconv.FormatUint(uint64(cfg.Port), 10)
}

// WithEnvConfig enables processing exported EnvConfig struct to acts as a source of config parameters for http.Server
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		c.httpServer.Addr = cfg.Addr()
		c.allowedOrigins = cfg.AllowedOrigins
		c.cookieSecure = cfg.CookieSecure
		if cfg.RequestTimeout > 0 {
			c.timeout = cfg.RequestTimeout
		}
	})
}

// AllowedOrigins sets origins accepted by CORS and websocket upgrade, "*" accepts any origin
func AllowedOrigins(origins ...string) Option {
	return optionFunc(func(c *config) {
		c.allowedOrigins = origins
	})
}

// ReadTimeout sets read timeout for http.Server
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.ReadTimeout = d
	})
}

// RegisterAfterShutdown registers a function to call after http.Server shutdown
// f will not be called in separated goroutine
func RegisterAfterShutdown(f func()) Option {
	return optionFunc(func(c *config) {
		c.afterShutdown = append(c.afterShutdown, f)
	})
}

// TimeoutHandler wraps each /api handler in http.TimeoutHandler with provided duration and message.
// Websocket endpoint is not wrapped since http.TimeoutHandler does not support hijacking.
func TimeoutHandler(d time.Duration, msg string) Option {
	return optionFunc(func(c *config) {
		c.timeout = d
		c.timeoutMsg = msg
	})
}
