// Package config loads the measurement configuration: the devices to poll,
// the sinks to deliver to and the sampling interval. Flags override the
// configuration file, which overrides the defaults.
package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/PatrickBaus/data-logger/internal/device"
	"github.com/PatrickBaus/data-logger/internal/errors"
	"github.com/PatrickBaus/data-logger/internal/sink"
)

const (
	DefaultLogLevel = "info"

	configEnvVar      = "DATALOGD_CONFIG"
	defaultBrokerPort = 1883
	maxPort           = 65535
)

type DeviceConfig struct {
	Driver           string   `mapstructure:"driver"`
	Name             string   `mapstructure:"name"`
	UUID             string   `mapstructure:"uuid"`
	Host             string   `mapstructure:"host"`
	Port             int      `mapstructure:"port"`
	Tty              string   `mapstructure:"tty"`
	Baudrate         int      `mapstructure:"baudrate"`
	Timeout          float64  `mapstructure:"timeout"`
	BaseTopic        string   `mapstructure:"base_topic"`
	ColumnNames      []string `mapstructure:"column_names"`
	InitialCommands  []string `mapstructure:"initial_commands"`
	PostReadCommands []string `mapstructure:"post_read_commands"`
	Channels         []int    `mapstructure:"channels"`
	InitialValue     float64  `mapstructure:"initial_value"`
}

type SinkConfig struct {
	Driver            string  `mapstructure:"driver"`
	Filename          string  `mapstructure:"filename"`
	Hosts             string  `mapstructure:"hosts"`
	Username          string  `mapstructure:"username"`
	Password          string  `mapstructure:"password"`
	Workers           int     `mapstructure:"number_of_workers"`
	ReconnectInterval float64 `mapstructure:"reconnect_interval"`
	Database          string  `mapstructure:"database"`
	BatchSize         int     `mapstructure:"batch_size"`
	BatchTimeout      float64 `mapstructure:"batch_timeout"`
	DrainTimeout      float64 `mapstructure:"drain_timeout"`
}

type Config struct {
	LogLevel    string         `mapstructure:"log_level"`
	Interval    float64        `mapstructure:"interval"`
	Description string         `mapstructure:"description"`
	Devices     []DeviceConfig `mapstructure:"devices"`
	Sinks       []SinkConfig   `mapstructure:"sinks"`
}

func Load() (*Config, error) {
	errFactory := errors.New()

	// A fresh flag set per call keeps Load re-entrant for tests.
	flags := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	configFile := flags.StringP("config", "c", "", "The configuration file for the measurement")
	flags.String("log-level", DefaultLogLevel, "Log level (trace, debug, info, warn, error)")
	flags.Float64("interval", 0, "Interval between poll rounds in seconds")
	flags.String("description", "", "Description written to the log file header")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("interval", 0.0)
	v.SetDefault("description", "")
	if err := v.BindPFlag("log_level", flags.Lookup("log-level")); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := v.BindPFlag("interval", flags.Lookup("interval")); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := v.BindPFlag("description", flags.Lookup("description")); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	switch {
	case *configFile != "":
		v.SetConfigFile(*configFile)
	case os.Getenv(configEnvVar) != "":
		v.SetConfigFile(os.Getenv(configEnvVar))
	default:
		v.SetConfigName("datalogd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/datalogd")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file in the default search path is fine, an explicitly
		// requested or unparseable one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Interval < 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	for i := range c.Devices {
		dev := &c.Devices[i]
		if dev.Driver == "" {
			return errFactory.WithMessage(errors.ErrInvalidConfig, "device without a driver")
		}
		if dev.UUID != "" {
			if _, err := uuid.Parse(dev.UUID); err != nil {
				return errFactory.WithData(errors.ErrInvalidConfig, dev.UUID)
			}
		}
	}

	for i := range c.Sinks {
		snk := &c.Sinks[i]
		switch snk.Driver {
		case "":
			return errFactory.WithMessage(errors.ErrInvalidConfig, "sink without a driver")
		case "mqtt":
			if _, err := ParseHosts(snk.Hosts); err != nil {
				return err
			}
		}
	}

	return nil
}

// Device converts the raw configuration entry into driver parameters. An
// omitted uuid gets a random one, which is fine for dry runs but makes the
// sender id change between restarts.
func (c DeviceConfig) Device() (device.Config, error) {
	id := uuid.New()
	if c.UUID != "" {
		parsed, err := uuid.Parse(c.UUID)
		if err != nil {
			return device.Config{}, errors.New().WithData(errors.ErrInvalidConfig, c.UUID)
		}
		id = parsed
	}

	return device.Config{
		Driver:           c.Driver,
		Name:             c.Name,
		UUID:             id,
		Host:             c.Host,
		Port:             c.Port,
		Tty:              c.Tty,
		Baudrate:         c.Baudrate,
		Timeout:          secondsToDuration(c.Timeout),
		BaseTopic:        c.BaseTopic,
		ColumnNames:      c.ColumnNames,
		InitialCommands:  c.InitialCommands,
		PostReadCommands: c.PostReadCommands,
		Channels:         c.Channels,
		InitialValue:     c.InitialValue,
	}, nil
}

// Sink converts the raw configuration entry into sink parameters.
func (c SinkConfig) Sink(version, description string) (sink.Config, error) {
	cfg := sink.Config{
		Driver:            c.Driver,
		Filename:          c.Filename,
		Version:           version,
		Description:       description,
		Username:          c.Username,
		Password:          c.Password,
		Workers:           c.Workers,
		ReconnectInterval: secondsToDuration(c.ReconnectInterval),
		Database:          c.Database,
		BatchSize:         c.BatchSize,
		BatchTimeout:      secondsToDuration(c.BatchTimeout),
		DrainTimeout:      secondsToDuration(c.DrainTimeout),
	}

	if c.Driver == "mqtt" {
		hosts, err := ParseHosts(c.Hosts)
		if err != nil {
			return sink.Config{}, err
		}
		cfg.Hosts = hosts
	}

	return cfg, nil
}

// ParseHosts splits a comma separated list of host[:port] entries into
// normalized host:port strings. A missing port, or port 0, defaults to the
// standard MQTT port.
func ParseHosts(list string) ([]string, error) {
	errFactory := errors.New()

	if strings.TrimSpace(list) == "" {
		return nil, errFactory.WithMessage(errors.ErrInvalidConfig, "empty MQTT host list")
	}

	entries := strings.Split(list, ",")
	hosts := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		host, port := entry, defaultBrokerPort
		if h, p, err := net.SplitHostPort(entry); err == nil {
			n, convErr := strconv.Atoi(p)
			if convErr != nil || n < 0 || n > maxPort {
				return nil, errFactory.WithData(errors.ErrInvalidConfig, entry)
			}
			host = h
			if n != 0 {
				port = n
			}
		}
		if host == "" || strings.ContainsAny(host, ":/ ") {
			return nil, errFactory.WithData(errors.ErrInvalidConfig, entry)
		}
		hosts = append(hosts, net.JoinHostPort(host, strconv.Itoa(port)))
	}

	return hosts, nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
