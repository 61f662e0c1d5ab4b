package domain

import (
	"maps"
	"strconv"
	"time"
)

const (
	DefaultImage    = "postgres"
	DefaultVersion  = "latest"
	DefaultDatabase = "mydb"
	DefaultUser     = "postgres"
	DefaultPassword = "postgres"
	DefaultWaitTime = 30 * time.Second

	// InternalPort is the port postgres listens on inside the container.
	InternalPort = 5432

	// ManagedLabelKey marks every container started by this module. The service stores the
	// owner's process ID as the value.
	ManagedLabelKey = "ephemeral-postgres"

	envDatabase = "POSTGRES_DB"
	envUser     = "POSTGRES_USER"
	envPassword = "POSTGRES_PASSWORD"
)

// Config describes the instance a caller wants. Zero-valued string fields and a nil WaitTime mean
// "use the default"; call WithDefaults once to obtain the resolved record.
type Config struct {
	Image    string
	Version  string
	Database string
	User     string
	Password string
	// Port is the requested host port. 0 asks the runtime for any free port.
	Port int
	// WaitTime bounds the readiness wait. nil means DefaultWaitTime, 0 skips readiness.
	WaitTime *time.Duration
	Labels   map[string]string
}

// WithDefaults returns a copy of c with every unset field resolved.
func (c Config) WithDefaults() Config {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.User == "" {
		c.User = DefaultUser
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
	if c.WaitTime == nil {
		d := DefaultWaitTime
		c.WaitTime = &d
	} else {
		d := *c.WaitTime
		c.WaitTime = &d
	}
	c.Labels = maps.Clone(c.Labels)
	return c
}

// Wait returns the readiness budget, treating an unresolved config as the default.
func (c Config) Wait() time.Duration {
	if c.WaitTime == nil {
		return DefaultWaitTime
	}
	return *c.WaitTime
}

// ImageRef is the full image reference, e.g. postgres:16.
func (c Config) ImageRef() string {
	return c.Image + ":" + c.Version
}

// PortKey is the runtime port key for the internal postgres port.
func PortKey() string {
	return strconv.Itoa(InternalPort) + "/tcp"
}

// ContainerSpec translates a resolved config into the creation request sent to the runtime.
func (c Config) ContainerSpec() ContainerSpec {
	labels := maps.Clone(c.Labels)
	if labels == nil {
		labels = map[string]string{}
	}
	if _, ok := labels[ManagedLabelKey]; !ok {
		labels[ManagedLabelKey] = ""
	}
	return ContainerSpec{
		Image: c.ImageRef(),
		Env: map[string]string{
			envDatabase: c.Database,
			envUser:     c.User,
			envPassword: c.Password,
		},
		Ports:      map[string]int{PortKey(): c.Port},
		Labels:     labels,
		AutoRemove: true,
	}
}

// Instance is the handle to a started postgres container.
type Instance struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Image        string    `json:"image"`
	HostPort     int       `json:"host_port"`
	InternalPort int       `json:"internal_port"`
	URI          string    `json:"uri"`
	StartedAt    time.Time `json:"started_at"`
	Config       Config    `json:"-"`
}

// ProbeURI is the URI used from inside the container, targeting the internal port.
func (i *Instance) ProbeURI() string {
	return BuildEndpoint(i.Config.User, i.Config.Password, LoopbackHost, i.InternalPort, i.Config.Database)
}
