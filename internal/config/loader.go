package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults
const (
	DefaultTimeout          = 30 * time.Second
	DefaultGracefulStop     = 30 * time.Second
	DefaultVTSTimeout       = 10 * time.Second
	DefaultMaxIdleConns     = 100
	DefaultUserAgent        = "vurun/1.0"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "console"
	DefaultServiceName      = "vurun"
	DefaultLogMaxSize       = 100
	DefaultLogMaxBackups    = 3
	DefaultLogMaxAgeInDays  = 28
	DefaultExecutor         = "constant-vus"
	DefaultRequestMethod    = "GET"
	DefaultVirtualUserCount = 1
)

// LoadConfig reads, parses, defaults and validates a configuration file.
func LoadConfig(path string) (*TestConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg, err := ParseConfig(data, path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig decodes YAML or JSON depending on the filename extension.
// Unknown fields are rejected.
func ParseConfig(data []byte, filename string) (*TestConfig, error) {
	var cfg TestConfig

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("error parsing JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("error parsing YAML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(filename))
	}

	return &cfg, nil
}

// ApplyDefaults fills in zero values.
func (c *TestConfig) ApplyDefaults() {
	if c.Execution.Executor == "" {
		c.Execution.Executor = DefaultExecutor
	}
	if c.Execution.VUs == 0 {
		c.Execution.VUs = DefaultVirtualUserCount
	}
	if c.Execution.GracefulStop == 0 {
		c.Execution.GracefulStop = Duration(DefaultGracefulStop)
	}

	if c.Settings.Timeout == 0 {
		c.Settings.Timeout = Duration(DefaultTimeout)
	}
	if c.Settings.MaxIdleConnsPerHost == 0 {
		c.Settings.MaxIdleConnsPerHost = DefaultMaxIdleConns
	}
	if c.Settings.UserAgent == "" {
		c.Settings.UserAgent = DefaultUserAgent
	}

	if c.VTS != nil && c.VTS.Timeout == 0 {
		c.VTS.Timeout = Duration(DefaultVTSTimeout)
	}

	defaultSteps(c.Script.Initialize)
	for i := range c.Script.Actions {
		defaultSteps(c.Script.Actions[i].Steps)
	}
	defaultSteps(c.Script.Finalize)

	c.Logger.ApplyDefaults()
}

func defaultSteps(steps []StepConfig) {
	for i := range steps {
		if r := steps[i].Request; r != nil {
			if r.Method == "" {
				r.Method = DefaultRequestMethod
			}
			r.Method = strings.ToUpper(r.Method)
		}
	}
}

// ApplyDefaults fills in zero values of the logger configuration.
func (l *LoggerConfig) ApplyDefaults() {
	if l.Level == "" {
		l.Level = DefaultLogLevel
	}
	if l.Format == "" {
		l.Format = DefaultLogFormat
	}
	if l.ServiceName == "" {
		l.ServiceName = DefaultServiceName
	}
	if l.MaxSize == 0 {
		l.MaxSize = DefaultLogMaxSize
	}
	if l.MaxBackups == 0 {
		l.MaxBackups = DefaultLogMaxBackups
	}
	if l.MaxAge == 0 {
		l.MaxAge = DefaultLogMaxAgeInDays
	}
}
