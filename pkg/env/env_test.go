package env

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrv/otprovision/pkg/sim"
)

func TestLoadEnv(t *testing.T) {
	vars := map[string]string{
		"OTPROV_PRIMARY":  "/dev/ttyAMA0",
		"OTPROV_MQTT_URL": "mqtt://broker:1883/opentrv",
		"OTPROV_BAUD":     "9600",
		"OTPROV_SIMULATE": "true",
	}
	conf := NewConfig()
	conf.loadEnv(func(name string) string { return vars[name] })
	assert.Equal(t, "/dev/ttyAMA0", conf.PrimaryPort)
	assert.Equal(t, "/dev/ttyUSB1", conf.SecondaryPort)
	assert.Equal(t, "mqtt://broker:1883/opentrv", conf.MQTTBrokerURL)
	assert.Equal(t, 9600, conf.Baud)
	assert.True(t, conf.Simulate)
	assert.True(t, conf.ActiveLow)

	conf.loadEnv(func(string) string { return "" })
	assert.Equal(t, 9600, conf.Baud)
}

func TestNewConfigCopies(t *testing.T) {
	conf := NewConfig()
	conf.PrimaryPort = "/dev/null"
	assert.NotEqual(t, "/dev/null", Default().PrimaryPort)
	assert.NotEmpty(t, Default().Station)
}

func TestProvisionSimulated(t *testing.T) {
	dir := t.TempDir()
	conf := NewConfig()
	conf.Simulate = true
	conf.MQTTBrokerURL = ""
	conf.KeyFile = filepath.Join(dir, "keys.csv")
	conf.OutputFile = filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(conf.KeyFile, []byte("7700,K B 01 02 03 04\n"), 0600))

	e, err := conf.NewEnv(context.Background())
	require.NoError(t, err)
	require.NotNil(t, e.Bench.Sim)
	assert.Nil(t, e.Reporter)
	color.NoColor = true
	var buf bytes.Buffer
	e.Console.Out = &buf

	out, err := e.Provision(context.Background(), "7700")
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.Contains(t, buf.String(), "SUCCESS 7700 -> "+sim.DefaultID)
	assert.NotContains(t, buf.String(), "K B 01")

	data, err := os.ReadFile(conf.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, "7700,K B 01 02 03 04,"+sim.DefaultID+"\n", string(data))

	out, err = e.Provision(context.Background(), "7701")
	assert.Error(t, err)
	assert.False(t, out.Succeeded())

	require.NoError(t, e.Close())
	assert.True(t, e.Bench.Sim.Line.Closed())
}

func TestBenchCloseSkipsMissingLinks(t *testing.T) {
	sb := sim.NewBench(sim.DefaultID)
	b := &Bench{Power: sb.Power()}
	assert.NoError(t, b.Close())
	assert.True(t, sb.Line.Closed())
}
