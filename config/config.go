package config

import (
	"os"
	"path/filepath"
	"sync"

	"emperror.dev/errors"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v2"
)

// DefaultLocation is the default location for the configuration file when
// one is not passed on the command line.
const DefaultLocation = "/etc/rapid-fs/config.yml"

var (
	mu sync.RWMutex

	_config *Configuration
)

// Configuration is the root configuration object for the daemon.
type Configuration struct {
	// The location from which this configuration instance was instantiated.
	path string

	// Determines if the daemon should be running in debug mode. This value is
	// ignored if the debug flag is passed through the command line arguments.
	Debug bool `yaml:"debug"`

	System SystemConfiguration `yaml:"system"`
}

// SystemConfiguration defines basic system configuration settings.
type SystemConfiguration struct {
	// The root directory where daemon data is stored.
	RootDirectory string `default:"/var/lib/rapid-fs" yaml:"root_directory"`

	// Directory where logs are stored.
	LogDirectory string `default:"/var/log/rapid-fs" yaml:"log_directory"`

	// Directory where tenant storage roots and the domain registry live.
	Data string `default:"/var/lib/rapid-fs/volumes" yaml:"data"`

	// The maximum length in bytes accepted for a single client-supplied path
	// before normalization rejects it outright.
	MaxPathLength int `default:"4096" yaml:"max_path_length"`

	// The amount of time in seconds that can elapse between disk usage checks
	// for a tenant. Setting a higher number can result in better IO
	// performance at an increased risk of a tenant overshooting its limit
	// between walks. Zero disables usage tracking entirely.
	DiskCheckInterval int64 `default:"150" yaml:"disk_check_interval"`

	// How verified handles are opened on Linux: "openat2" forces the syscall
	// (failing on old kernels), "openat" forces the fallback re-validation
	// path, and "auto" probes the kernel once at startup.
	OpenatMode string `default:"auto" yaml:"openat_mode"`

	// Denylist patterns applied to every tenant in addition to any
	// per-tenant patterns.
	DenylistFiles []string `yaml:"denylist_files"`
}

// Set the global configuration instance.
func Set(c *Configuration) {
	mu.Lock()
	_config = c
	mu.Unlock()
}

// Get returns the global configuration instance. When nothing has been
// loaded yet a defaulted configuration is stored and returned, so library
// consumers that never call FromFile still get sane values. The resulting
// value is a copy, modifying it will not affect the stored configuration.
// Use Update for that.
func Get() *Configuration {
	mu.RLock()
	cfg := _config
	mu.RUnlock()
	if cfg == nil {
		c, err := NewAtPath(DefaultLocation)
		if err != nil {
			panic(err)
		}
		Set(c)
		cfg = c
	}
	c := *cfg
	return &c
}

// Update performs an in-situ update of the global configuration object by
// locking a mutex and then utilizing the provided function to modify it.
func Update(callback func(c *Configuration)) {
	mu.Lock()
	callback(_config)
	mu.Unlock()
}

// NewAtPath creates a new struct with defaults applied and sets the path
// where it should be stored. This function does not modify the currently
// stored global configuration.
func NewAtPath(path string) (*Configuration, error) {
	var c Configuration
	// Values set in the configuration file take priority over these.
	if err := defaults.Set(&c); err != nil {
		return nil, errors.Wrap(err, "config: failed to set default values")
	}
	c.path = path
	return &c, nil
}

// FromFile reads the configuration from the provided file and stores it in
// the global singleton for this instance.
func FromFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "config: could not read configuration file")
	}
	c, err := NewAtPath(path)
	if err != nil {
		return err
	}

	// Replace environment variables within the configuration file with their
	// values from the host system.
	b = []byte(os.ExpandEnv(string(b)))

	if err := yaml.Unmarshal(b, c); err != nil {
		return errors.Wrap(err, "config: could not decode configuration file")
	}

	Set(c)
	return nil
}

// WriteToDisk writes the configuration to the disk at the path it was read
// from. The runtime-only path field is never serialized.
func WriteToDisk(c *Configuration) error {
	if c.path == "" {
		return errors.New("config: cannot write configuration, no path defined in struct")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "config: failed to marshal configuration")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errors.Wrap(err, "config: failed to create containing directory")
	}
	return errors.Wrap(os.WriteFile(c.path, b, 0o600), "config: failed to write configuration to disk")
}
