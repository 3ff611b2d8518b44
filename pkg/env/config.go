package env

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/robotalks/capno.go/pkg/comm/serial"
	"github.com/robotalks/capno.go/pkg/maco2"
	"github.com/robotalks/capno.go/pkg/monitor"
)

// Config provides options of the capnography daemon. Sources in
// increasing priority: defaults, environment, config file, command line.
type Config struct {
	Port             string
	BaudRate         int
	PumpActiveHigh   bool
	HandshakeTimeout time.Duration
	SkipHandshake    bool
	PollInterval     time.Duration
	StatsInterval    time.Duration

	// MQTTBrokerURL specifies the MQTT broker to use.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	HTTPAddr      string
	DeviceID      string
	Description   string
	PIC           bool

	ConfigFile string
}

var defaultConfig = Config{
	Port:             "/dev/ttyUSB0",
	BaudRate:         serial.DefaultBaudRate,
	HandshakeTimeout: maco2.DefaultHandshakeTimeout,
	PollInterval:     monitor.DefaultInterval,
	StatsInterval:    monitor.DefaultStatsInterval,
}

func init() {
	applyEnv(&defaultConfig, os.Getenv)
	if defaultConfig.DeviceID == "" {
		defaultConfig.DeviceID = MachineID()
	}
}

func applyEnv(c *Config, getenv func(string) string) {
	if val := getenv("CAPNO_PORT"); val != "" {
		c.Port = val
	}
	if val := getenv("CAPNO_BAUD"); val != "" {
		if baud, err := strconv.Atoi(val); err == nil {
			c.BaudRate = baud
		}
	}
	if val := getenv("CAPNO_MQTT_URL"); val != "" {
		c.MQTTBrokerURL = val
	}
	if val := getenv("CAPNO_HTTP_ADDR"); val != "" {
		c.HTTPAddr = val
	}
	if val := getenv("CAPNO_DEVICE_ID"); val != "" {
		c.DeviceID = val
	}
	if val := getenv("CAPNO_CONFIG"); val != "" {
		c.ConfigFile = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	defaultConfig.BindFlags(flag.CommandLine)
}

// BindFlags binds the config to flags in fs. Flag names are also the
// keys of the config file.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Port, "port", c.Port, "Serial port of the sensor")
	fs.IntVar(&c.BaudRate, "baud", c.BaudRate, "Serial baud rate")
	fs.BoolVar(&c.PumpActiveHigh, "pump-active-high", c.PumpActiveHigh, "Status bit0 set means pump running")
	fs.DurationVar(&c.HandshakeTimeout, "handshake-timeout", c.HandshakeTimeout, "Wait for sensor handshake")
	fs.BoolVar(&c.SkipHandshake, "skip-handshake", c.SkipHandshake, "Start streaming without handshake")
	fs.DurationVar(&c.PollInterval, "interval", c.PollInterval, "Parser poll interval")
	fs.DurationVar(&c.StatsInterval, "stats-interval", c.StatsInterval, "Statistics publish interval")
	fs.StringVar(&c.MQTTBrokerURL, "mqtt", c.MQTTBrokerURL, "MQTT broker URL")
	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "HTTP/websocket listen address")
	fs.StringVar(&c.DeviceID, "id", c.DeviceID, "Device ID")
	fs.StringVar(&c.Description, "description", c.Description, "Device description")
	fs.BoolVar(&c.PIC, "pic", c.PIC, "Write legacy PIC lines to stdout")
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "TOML config file")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

type fileConfig struct {
	Port             string `toml:"port"`
	BaudRate         int    `toml:"baud"`
	PumpActiveHigh   bool   `toml:"pump-active-high"`
	HandshakeTimeout string `toml:"handshake-timeout"`
	SkipHandshake    bool   `toml:"skip-handshake"`
	PollInterval     string `toml:"interval"`
	StatsInterval    string `toml:"stats-interval"`
	MQTTBrokerURL    string `toml:"mqtt"`
	HTTPAddr         string `toml:"http"`
	DeviceID         string `toml:"id"`
	Description      string `toml:"description"`
	PIC              bool   `toml:"pic"`
}

// LoadFile applies values defined in a TOML file, except keys for which
// skip returns true.
func (c *Config) LoadFile(path string, skip func(key string) bool) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}
	defined := func(key string) bool {
		return meta.IsDefined(key) && (skip == nil || !skip(key))
	}
	duration := func(key, val string, out *time.Duration) error {
		if !defined(key) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*out = d
		return nil
	}

	if defined("port") {
		c.Port = strings.TrimSpace(raw.Port)
	}
	if defined("baud") {
		c.BaudRate = raw.BaudRate
	}
	if defined("pump-active-high") {
		c.PumpActiveHigh = raw.PumpActiveHigh
	}
	if err := duration("handshake-timeout", raw.HandshakeTimeout, &c.HandshakeTimeout); err != nil {
		return err
	}
	if defined("skip-handshake") {
		c.SkipHandshake = raw.SkipHandshake
	}
	if err := duration("interval", raw.PollInterval, &c.PollInterval); err != nil {
		return err
	}
	if err := duration("stats-interval", raw.StatsInterval, &c.StatsInterval); err != nil {
		return err
	}
	if defined("mqtt") {
		c.MQTTBrokerURL = strings.TrimSpace(raw.MQTTBrokerURL)
	}
	if defined("http") {
		c.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if defined("id") {
		if id := strings.TrimSpace(raw.DeviceID); id != "" {
			c.DeviceID = id
		}
	}
	if defined("description") {
		c.Description = raw.Description
	}
	if defined("pic") {
		c.PIC = raw.PIC
	}
	return nil
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("serial port must be specified")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.BaudRate)
	}
	if c.DeviceID == "" {
		return fmt.Errorf("device id must be specified")
	}
	if strings.ContainsAny(c.DeviceID, "/+#") {
		return fmt.Errorf("device id %q must not contain MQTT topic characters", c.DeviceID)
	}
	return nil
}

// NewConfig creates a Config from defaults, environment, the config file
// and command line flags parsed on flag.CommandLine.
func NewConfig() (*Config, error) {
	conf := defaultConfig
	if conf.ConfigFile != "" {
		explicit := make(map[string]bool)
		flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		if err := conf.LoadFile(conf.ConfigFile, func(key string) bool { return explicit[key] }); err != nil {
			return nil, err
		}
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// MustNewConfig creates Config and fails on error.
func MustNewConfig() *Config {
	conf, err := NewConfig()
	if err != nil {
		log.Fatalln(err)
	}
	return conf
}
