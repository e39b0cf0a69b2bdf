// Package env builds the provisioning bench from flags and environment.
package env

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/opentrv/otprovision/pkg/link"
	"github.com/opentrv/otprovision/pkg/power"
	"github.com/opentrv/otprovision/pkg/store"
)

// Config describes the bench wiring.
type Config struct {
	// PrimaryPort is where the REV7 is expected.
	PrimaryPort   string
	SecondaryPort string
	Baud          int
	ReadTimeout   time.Duration
	PromptTimeout time.Duration

	// PowerPin is the GPIO switching the REV7 supply.
	PowerPin    string
	ActiveLow   bool
	OffDuration time.Duration
	SettleDelay time.Duration

	KeyFile    string
	OutputFile string

	// MQTTBrokerURL enables outcome reports when set,
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	Station       string

	// Simulate replaces the hardware with simulated devices.
	Simulate bool
	// Quiet hides device traffic on the console.
	Quiet bool
}

var defaultConfig = Config{
	PrimaryPort:   "/dev/ttyUSB0",
	SecondaryPort: "/dev/ttyUSB1",
	Baud:          link.DefaultBaud,
	ReadTimeout:   link.DefaultReadTimeout,
	PromptTimeout: link.DefaultPromptTimeout,
	PowerPin:      power.DefaultPin,
	ActiveLow:     true,
	OffDuration:   power.DefaultOffDuration,
	SettleDelay:   power.DefaultSettleDelay,
	KeyFile:       store.DefaultKeyFile,
	OutputFile:    store.DefaultOutputFile,
}

func init() {
	defaultConfig.loadEnv(os.Getenv)
	if defaultConfig.Station == "" {
		defaultConfig.Station = StationID()
	}
}

func (c *Config) loadEnv(getenv func(string) string) {
	strs := map[string]*string{
		"OTPROV_PRIMARY":   &c.PrimaryPort,
		"OTPROV_SECONDARY": &c.SecondaryPort,
		"OTPROV_PIN":       &c.PowerPin,
		"OTPROV_KEYS":      &c.KeyFile,
		"OTPROV_OUTPUT":    &c.OutputFile,
		"OTPROV_MQTT_URL":  &c.MQTTBrokerURL,
		"OTPROV_STATION":   &c.Station,
	}
	for name, p := range strs {
		if val := getenv(name); val != "" {
			*p = val
		}
	}
	if val, err := strconv.Atoi(getenv("OTPROV_BAUD")); err == nil && val > 0 {
		c.Baud = val
	}
	if val, err := strconv.ParseBool(getenv("OTPROV_SIMULATE")); err == nil {
		c.Simulate = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.PrimaryPort, "primary", defaultConfig.PrimaryPort, "Serial port of the REV7")
	flag.StringVar(&defaultConfig.SecondaryPort, "secondary", defaultConfig.SecondaryPort, "Serial port of the REV11")
	flag.IntVar(&defaultConfig.Baud, "baud", defaultConfig.Baud, "Serial baud rate")
	flag.DurationVar(&defaultConfig.ReadTimeout, "read-timeout", defaultConfig.ReadTimeout, "Line read timeout")
	flag.DurationVar(&defaultConfig.PromptTimeout, "prompt-timeout", defaultConfig.PromptTimeout, "Command prompt timeout")
	flag.StringVar(&defaultConfig.PowerPin, "pin", defaultConfig.PowerPin, "GPIO switching the REV7 supply")
	flag.BoolVar(&defaultConfig.ActiveLow, "active-low", defaultConfig.ActiveLow, "Power is on when the GPIO is low")
	flag.DurationVar(&defaultConfig.OffDuration, "off", defaultConfig.OffDuration, "Power off period of a reset")
	flag.DurationVar(&defaultConfig.SettleDelay, "settle", defaultConfig.SettleDelay, "Delay after power on")
	flag.StringVar(&defaultConfig.KeyFile, "keys", defaultConfig.KeyFile, "CSV of serial numbers and keys")
	flag.StringVar(&defaultConfig.OutputFile, "output", defaultConfig.OutputFile, "CSV receiving provisioned devices")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL for outcome reports")
	flag.StringVar(&defaultConfig.Station, "station", defaultConfig.Station, "Station ID in reports")
	flag.BoolVar(&defaultConfig.Simulate, "simulate", defaultConfig.Simulate, "Use simulated devices")
	flag.BoolVar(&defaultConfig.Quiet, "quiet", defaultConfig.Quiet, "Hide device traffic")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}
