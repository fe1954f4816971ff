package harness

import (
	"log/slog"
	"time"

	"github.com/klaviyo/incidentio-mcp/mcp"
)

type config struct {
	log             *slog.Logger
	clientInfo      mcp.ImplementationInfo
	protocolVersion string
	callTimeout     time.Duration
	env             map[string]string
	grace           time.Duration
}

func defaultConfig() config {
	return config{
		log:             slog.New(slog.DiscardHandler),
		clientInfo:      mcp.ImplementationInfo{Name: "incidentio-mcp-harness", Version: "0.1.0"},
		protocolVersion: mcp.LatestProtocolVersion,
		callTimeout:     30 * time.Second,
	}
}

// Option customizes a Client.
type Option func(*config)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClientInfo sets the clientInfo advertised during initialize.
func WithClientInfo(name, version string) Option {
	return func(c *config) {
		c.clientInfo = mcp.ImplementationInfo{Name: name, Version: version}
	}
}

// WithProtocolVersion overrides the advertised protocol version.
func WithProtocolVersion(v string) Option {
	return func(c *config) {
		if v != "" {
			c.protocolVersion = v
		}
	}
}

// WithCallTimeout sets the default per-request deadline applied when
// the caller's context carries none.
func WithCallTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithEnv overlays environment variables onto the spawned server's
// environment. Only meaningful with Dial.
func WithEnv(env map[string]string) Option {
	return func(c *config) {
		if c.env == nil {
			c.env = make(map[string]string)
		}
		for k, v := range env {
			c.env[k] = v
		}
	}
}

// WithGracePeriod sets the session close grace period. Only meaningful
// with Dial.
func WithGracePeriod(d time.Duration) Option {
	return func(c *config) {
		c.grace = d
	}
}
