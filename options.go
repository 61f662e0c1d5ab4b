package ephemeralpg

import (
	"time"

	"github.com/melih/ephemeral-postgres/internal/core/domain"
)

// Option customizes a single Start or WithInstance call.
type Option func(*domain.Config)

// WithDatabase sets the database created on startup. Default "mydb".
func WithDatabase(name string) Option {
	return func(c *domain.Config) { c.Database = name }
}

// WithUser sets the superuser name. Default "postgres".
func WithUser(user string) Option {
	return func(c *domain.Config) { c.User = user }
}

// WithPassword sets the superuser password. Default "postgres".
func WithPassword(password string) Option {
	return func(c *domain.Config) { c.Password = password }
}

// WithPort binds the server to a fixed host port. Without it the runtime picks a free one.
func WithPort(port int) Option {
	return func(c *domain.Config) { c.Port = port }
}

// WithVersion selects the image tag, e.g. "16" or "9.6". Default "latest".
func WithVersion(version string) Option {
	return func(c *domain.Config) { c.Version = version }
}

// WithWaitTime bounds how long Start waits for the server to accept queries. Zero skips the
// wait and returns as soon as the container runs. Default 30s.
func WithWaitTime(d time.Duration) Option {
	return func(c *domain.Config) { c.WaitTime = &d }
}

// WithImage selects the image repository. Default "postgres".
func WithImage(image string) Option {
	return func(c *domain.Config) { c.Image = image }
}

// WithLabel adds a label to the container.
func WithLabel(key, value string) Option {
	return func(c *domain.Config) {
		if c.Labels == nil {
			c.Labels = map[string]string{}
		}
		c.Labels[key] = value
	}
}
