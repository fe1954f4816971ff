package session

import (
	"log/slog"
	"time"
)

// Option customizes a Session.
type Option func(*Session)

// WithEnv overlays environment variables onto the child's inherited
// environment, e.g. an API key the server under test requires.
func WithEnv(env map[string]string) Option {
	return func(s *Session) {
		for k, v := range env {
			s.env[k] = v
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithGracePeriod sets how long Close waits for the child to exit after
// its stdin is closed before killing it.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.grace = d
		}
	}
}
