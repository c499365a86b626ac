package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/jonamat/go-daly-bms/internal/protocol"
)

const (
	BackendBlocking = "blocking"
	BackendAsync    = "async"

	OutputConsole    = "console"
	OutputMQTT       = "mqtt"
	OutputPrometheus = "prometheus"

	FormatSimple = "simple"
	FormatJSON   = "json"

	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// SerialConfig selects the device and the transport backend.
type SerialConfig struct {
	Device  string `mapstructure:"device"`
	Backend string `mapstructure:"backend"`

	// ReadTimeout is the driver read timeout, rounded up to 100ms. The
	// blocking backend can overshoot a wait by this much.
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// ProtocolConfig holds the transaction parameters.
type ProtocolConfig struct {
	Address string        `mapstructure:"address"`
	Timeout time.Duration `mapstructure:"timeout"`
	Delay   time.Duration `mapstructure:"delay"`
	Retries int           `mapstructure:"retries"`
}

// HostAddress maps the configured address name to the frame address byte.
func (p ProtocolConfig) HostAddress() (protocol.Address, error) {
	switch strings.ToLower(p.Address) {
	case "", "rs485":
		return protocol.HostRS485, nil
	case "bluetooth", "bt":
		return protocol.HostBluetooth, nil
	}
	return 0, fmt.Errorf("unknown protocol address %q", p.Address)
}

type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// DaemonConfig drives the polling loop of the daemon subcommand.
type DaemonConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Metrics    []string      `mapstructure:"metrics"`
	Output     string        `mapstructure:"output"`
	Format     string        `mapstructure:"format"`
	MQTTConfig string        `mapstructure:"mqttConfig"`
	Listen     string        `mapstructure:"listen"`
	Path       string        `mapstructure:"path"`
}

type Config struct {
	Serial   SerialConfig   `mapstructure:"serial"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
}

// ParseLogLevel maps a logging.level value to its zap level.
func ParseLogLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown logging.level %q", s)
}

// Validate rejects values the rest of the program can't act on.
func (c *Config) Validate() error {
	var errs []error
	if c.Serial.Device == "" {
		errs = append(errs, errors.New("serial.device is empty"))
	}
	switch c.Serial.Backend {
	case BackendBlocking, BackendAsync:
	default:
		errs = append(errs, fmt.Errorf("unknown serial.backend %q", c.Serial.Backend))
	}
	if c.Serial.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("serial.readTimeout must be positive, got %s", c.Serial.ReadTimeout))
	}
	if _, err := c.Protocol.HostAddress(); err != nil {
		errs = append(errs, err)
	}
	if c.Protocol.Retries < 1 {
		errs = append(errs, fmt.Errorf("protocol.retries must be at least 1, got %d", c.Protocol.Retries))
	}
	if c.Protocol.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("protocol.timeout must be positive, got %s", c.Protocol.Timeout))
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case LogFormatConsole, LogFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown logging.format %q", c.Logging.Format))
	}
	switch c.Daemon.Output {
	case OutputConsole, OutputMQTT, OutputPrometheus:
	default:
		errs = append(errs, fmt.Errorf("unknown daemon.output %q", c.Daemon.Output))
	}
	switch c.Daemon.Format {
	case FormatSimple, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown daemon.format %q", c.Daemon.Format))
	}
	if c.Daemon.Interval <= 0 {
		errs = append(errs, fmt.Errorf("daemon.interval must be positive, got %s", c.Daemon.Interval))
	}
	return errors.Join(errs...)
}

// flag name -> config key
var flagKeys = map[string]string{
	"device":       "serial.device",
	"backend":      "serial.backend",
	"read-timeout": "serial.readTimeout",
	"address":      "protocol.address",
	"timeout":      "protocol.timeout",
	"delay":        "protocol.delay",
	"retries":      "protocol.retries",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"log-file":     "logging.file.filename",
	"interval":     "daemon.interval",
	"metrics":      "daemon.metrics",
	"output":       "daemon.output",
	"format":       "daemon.format",
	"mqtt-config":  "daemon.mqttConfig",
	"listen":       "daemon.listen",
	"path":         "daemon.path",
}

// RegisterFlags adds the global flags understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "config file (default ./dalybms.yaml, env DALYBMS_CONFIG)")
	fs.StringP("device", "d", defaultDevice, "serial device")
	fs.String("backend", BackendBlocking, "serial backend: blocking|async")
	fs.Duration("read-timeout", 100*time.Millisecond, "driver read timeout, rounded up to 100ms")
	fs.String("address", "rs485", "host address: rs485|bluetooth")
	fs.Duration("timeout", 100*time.Millisecond, "read timeout of a single attempt")
	fs.Duration("delay", 15*time.Millisecond, "delay before every command (min 4ms)")
	fs.Int("retries", 3, "attempts per command")
	fs.String("log-level", "info", "log level: debug|info|warn|error")
	fs.String("log-format", "console", "log format: console|json")
	fs.String("log-file", "", "also log to this file, rotated")
}

// RegisterDaemonFlags adds the flags of the daemon subcommand to fs.
func RegisterDaemonFlags(fs *pflag.FlagSet) {
	fs.Duration("interval", 10*time.Second, "polling interval")
	fs.StringSlice("metrics", []string{"status", "soc"}, "metrics to collect")
	fs.String("output", OutputConsole, "output: console|mqtt|prometheus")
	fs.String("format", FormatSimple, "mqtt format: simple|json")
	fs.String("mqtt-config", "mqtt.yaml", "mqtt config file")
	fs.String("listen", ":9100", "prometheus listen address")
	fs.String("path", "/metrics", "prometheus metrics path")
}

const defaultDevice = "/dev/ttyUSB0"

// Load reads configuration from (lowest to highest precedence) defaults,
// a YAML file, DALYBMS_ prefixed environment variables and changed flags.
// If path is empty DALYBMS_CONFIG is tried, then ./dalybms.yaml; a missing
// default file is not an error. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("DALYBMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if path == "" {
			path, _ = flags.GetString("config")
		}
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path == "" {
		_ = v.BindEnv("config", "DALYBMS_CONFIG")
		path = v.GetString("config")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/dalybms")
		v.SetConfigName("dalybms")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.device", defaultDevice)
	v.SetDefault("serial.backend", BackendBlocking)
	v.SetDefault("serial.readTimeout", "100ms")

	v.SetDefault("protocol.address", "rs485")
	v.SetDefault("protocol.timeout", "100ms")
	v.SetDefault("protocol.delay", "15ms")
	v.SetDefault("protocol.retries", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("daemon.interval", "10s")
	v.SetDefault("daemon.metrics", []string{"status", "soc"})
	v.SetDefault("daemon.output", OutputConsole)
	v.SetDefault("daemon.format", FormatSimple)
	v.SetDefault("daemon.mqttConfig", "mqtt.yaml")
	v.SetDefault("daemon.listen", ":9100")
	v.SetDefault("daemon.path", "/metrics")
}
