package config

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vango-dev/acceptd/internal/errors"
	"github.com/vango-dev/acceptd/pkg/response"
	"github.com/vango-dev/acceptd/pkg/server"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "acceptd.json"

	// DefaultAddress is the default bind address.
	DefaultAddress = "0.0.0.0"

	// DefaultPort is the default TCP port.
	DefaultPort = 8080

	// DefaultAdminAddress is the default admin HTTP address.
	DefaultAdminAddress = "127.0.0.1:9090"
)

// Response sources.
const (
	SourceDefault = "default"
	SourceFile    = "file"
	SourceS3      = "s3"
)

// Config represents the complete acceptd.json configuration.
type Config struct {
	// Address is the IP address to bind.
	Address string `json:"address,omitempty"`

	// Port is the TCP port to bind.
	Port int `json:"port,omitempty"`

	// Backlog is the listen backlog.
	Backlog int `json:"backlog,omitempty"`

	// Workers is the number of request handlers.
	Workers int `json:"workers,omitempty"`

	// PollInterval bounds each accept-loop wait (e.g., "1s").
	PollInterval string `json:"pollInterval,omitempty"`

	// ReadBufferSize is the size of the single request read.
	ReadBufferSize int `json:"readBufferSize,omitempty"`

	// ReadTimeout is the request read deadline. "0" disables it.
	ReadTimeout string `json:"readTimeout,omitempty"`

	// WriteTimeout is the response write deadline. "0" disables it.
	WriteTimeout string `json:"writeTimeout,omitempty"`

	// ShutdownTimeout bounds the worker drain on shutdown.
	ShutdownTimeout string `json:"shutdownTimeout,omitempty"`

	// Response selects what every client receives.
	Response ResponseConfig `json:"response,omitempty"`

	// Admin configures the admin HTTP server.
	Admin AdminConfig `json:"admin,omitempty"`

	// Log configures the process logger.
	Log LogConfig `json:"log,omitempty"`

	// Metrics configures Prometheus metric names.
	Metrics MetricsConfig `json:"metrics,omitempty"`

	// Tracing configures per-connection OpenTelemetry spans.
	Tracing TracingConfig `json:"tracing,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ResponseConfig selects the response builder.
type ResponseConfig struct {
	// Source is "default", "file" or "s3".
	Source string `json:"source,omitempty"`

	// File is the payload path for the file source, relative to the config
	// file's directory unless absolute.
	File string `json:"file,omitempty"`

	// ContentType overrides the inferred content type.
	ContentType string `json:"contentType,omitempty"`

	// Raw sends the file or object bytes without an HTTP frame.
	Raw bool `json:"raw,omitempty"`

	// S3 locates the payload for the s3 source.
	S3 S3Config `json:"s3,omitempty"`
}

// S3Config locates an S3 object.
type S3Config struct {
	Bucket       string `json:"bucket,omitempty"`
	Key          string `json:"key,omitempty"`
	Region       string `json:"region,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
	UsePathStyle bool   `json:"usePathStyle,omitempty"`
	MaxSize      int64  `json:"maxSize,omitempty"`
}

// AdminConfig contains admin HTTP server settings.
type AdminConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Address string `json:"address,omitempty"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Namespace string `json:"namespace,omitempty"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Name    string `json:"name,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Address:         DefaultAddress,
		Port:            DefaultPort,
		Backlog:         1,
		Workers:         4,
		PollInterval:    "1s",
		ReadBufferSize:  30720,
		ReadTimeout:     "30s",
		WriteTimeout:    "10s",
		ShutdownTimeout: "30s",
		Response: ResponseConfig{
			Source: SourceDefault,
		},
		Admin: AdminConfig{
			Address: DefaultAdminAddress,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "acceptd",
		},
		Tracing: TracingConfig{
			Name: "acceptd",
		},
	}
}

// Load reads acceptd.json from the specified directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path. Fields missing
// from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E141").
				WithDetail("No " + filepath.Base(path) + " found in " + filepath.Dir(path)).
				WithSuggestion("Run 'acceptd init' to write a default configuration")
		}
		return nil, errors.New("E120").Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, decodeError(path, data, err)
	}

	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

// decodeError points the E120 error at the offending byte when encoding/json
// reports one.
func decodeError(path string, data []byte, err error) error {
	ce := errors.New("E120").
		WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error()).
		WithSuggestion("Check that " + filepath.Base(path) + " is valid JSON")

	var syntax *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case stderrors.As(err, &syntax):
		ce.WithOffset(path, data, syntax.Offset)
	case stderrors.As(err, &typeErr):
		ce.WithOffset(path, data, typeErr.Offset)
		if typeErr.Field != "" {
			ce.WithSuggestion(`Field "` + typeErr.Field + `" must be a ` + typeErr.Type.String())
		}
	}
	return ce
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E120").Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E120").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	d := New()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.Backlog == 0 {
		c.Backlog = d.Backlog
	}
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
	if c.PollInterval == "" {
		c.PollInterval = d.PollInterval
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.ReadTimeout == "" {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.Response.Source == "" {
		c.Response.Source = d.Response.Source
	}
	if c.Admin.Address == "" {
		c.Admin.Address = d.Admin.Address
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = d.Metrics.Namespace
	}
	if c.Tracing.Name == "" {
		c.Tracing.Name = d.Tracing.Name
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if net.ParseIP(c.Address) == nil {
		return errors.New("E122").
			WithDetail(`Address "` + c.Address + `" is not an IP address`)
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.New("E122").
			WithDetail("Port must be between 0 and 65535")
	}
	if c.Backlog < 1 {
		return errors.New("E122").WithDetail("Backlog must be at least 1")
	}
	if c.Workers < 1 {
		return errors.New("E122").WithDetail("Workers must be at least 1")
	}
	if c.ReadBufferSize < 1 {
		return errors.New("E122").WithDetail("readBufferSize must be positive")
	}
	if _, err := c.durations(); err != nil {
		return err
	}

	switch c.Response.Source {
	case SourceDefault:
	case SourceFile:
		if c.Response.File == "" {
			return errors.New("E121").
				WithDetail(`response.file is required when response.source is "file"`)
		}
	case SourceS3:
		if c.Response.S3.Bucket == "" || c.Response.S3.Key == "" {
			return errors.New("E121").
				WithDetail(`response.s3.bucket and response.s3.key are required when response.source is "s3"`)
		}
		if c.Response.S3.MaxSize < 0 {
			return errors.New("E122").WithDetail("response.s3.maxSize must not be negative")
		}
	default:
		return errors.New("E143").
			WithDetail(`Unknown response source "` + c.Response.Source + `"`)
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return errors.New("E122").
			WithDetail(`log.format must be "text" or "json", got "` + c.Log.Format + `"`)
	}
	if c.Admin.Enabled {
		if _, _, err := net.SplitHostPort(c.Admin.Address); err != nil {
			return errors.New("E122").
				WithDetail(`admin.address "` + c.Admin.Address + `" is not host:port`)
		}
	}
	return nil
}

type durations struct {
	poll, read, write, shutdown time.Duration
}

func (c *Config) durations() (durations, error) {
	var d durations
	var err error
	if d.poll, err = parseDuration("pollInterval", c.PollInterval, false); err != nil {
		return d, err
	}
	if d.read, err = parseDuration("readTimeout", c.ReadTimeout, true); err != nil {
		return d, err
	}
	if d.write, err = parseDuration("writeTimeout", c.WriteTimeout, true); err != nil {
		return d, err
	}
	if d.shutdown, err = parseDuration("shutdownTimeout", c.ShutdownTimeout, false); err != nil {
		return d, err
	}
	return d, nil
}

// parseDuration parses a duration field. Zero is accepted only when
// allowZero is set, where it means disabled.
func parseDuration(field, s string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.New("E123").
			WithDetail(field + `: "` + s + `" is not a duration`).
			WithExample(`"` + field + `": "1s"`)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, errors.New("E123").
			WithDetail(field + " must be positive, got " + s)
	}
	return d, nil
}

// ServerConfig converts the file configuration into a server.ServerConfig.
func (c *Config) ServerConfig() (*server.ServerConfig, error) {
	d, err := c.durations()
	if err != nil {
		return nil, err
	}
	return &server.ServerConfig{
		IP:              c.Address,
		Port:            c.Port,
		Backlog:         c.Backlog,
		Workers:         c.Workers,
		PollInterval:    d.poll,
		ReadBufferSize:  c.ReadBufferSize,
		ReadTimeout:     d.read,
		WriteTimeout:    d.write,
		ShutdownTimeout: d.shutdown,
	}, nil
}

// ResponseFilePath returns the absolute path of the file response payload.
func (c *Config) ResponseFilePath() string {
	path := c.Response.File
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir(), path)
}

// S3Options returns the client settings for the s3 response source.
// Credentials come from the standard AWS environment variables.
func (c *Config) S3Options() response.S3Config {
	region := c.Response.S3.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	return response.S3Config{
		Region:          region,
		Endpoint:        c.Response.S3.Endpoint,
		UsePathStyle:    c.Response.S3.UsePathStyle,
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, errors.New("E122").
			WithDetail(`log.level must be debug, info, warn or error, got "` + c.Log.Level + `"`)
	}
	return level, nil
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}
