package temporalx

import "strings"

const (
	DefaultNamespace = "chatcore"
	DefaultTaskQueue = "chatcore"
	// DefaultSweepCron runs the orphan attachment sweep every 15 minutes.
	DefaultSweepCron = "*/15 * * * *"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string
	SweepCron string

	AutoRegisterNamespace bool

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string
}

// Enabled reports whether a Temporal frontend is configured. Without one the
// app runs background work in-process.
func (c Config) Enabled() bool { return strings.TrimSpace(c.Address) != "" }

func (c Config) WithDefaults() Config {
	c.Address = strings.TrimSpace(c.Address)
	c.Namespace = stringsOr(c.Namespace, DefaultNamespace)
	c.TaskQueue = stringsOr(c.TaskQueue, DefaultTaskQueue)
	c.SweepCron = stringsOr(c.SweepCron, DefaultSweepCron)
	return c
}

func (c Config) mtls() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}

func stringsOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}
