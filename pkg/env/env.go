package env

import (
	"context"
	"fmt"
	"io"

	"github.com/golang/glog"

	"github.com/opentrv/otprovision/pkg/console"
	fx "github.com/opentrv/otprovision/pkg/framework"
	"github.com/opentrv/otprovision/pkg/link"
	"github.com/opentrv/otprovision/pkg/power"
	"github.com/opentrv/otprovision/pkg/report"
	"github.com/opentrv/otprovision/pkg/session"
	"github.com/opentrv/otprovision/pkg/sim"
	"github.com/opentrv/otprovision/pkg/store"
)

// Bench is the power switch and the two links.
type Bench struct {
	Power     *power.Controller
	Primary   *link.Link
	Secondary *link.Link
	Clock     fx.Clock
	// Sim is set when the devices are simulated.
	Sim *sim.Bench
}

// Close deasserts power and closes both links.
func (b *Bench) Close() error {
	var closers []io.Closer
	if b.Power != nil {
		closers = append(closers, b.Power)
	}
	for _, l := range []*link.Link{b.Primary, b.Secondary} {
		if l != nil {
			closers = append(closers, l)
		}
	}
	return fx.CloseAll(closers...)
}

// OpenBench opens the GPIO and both serial ports, or a simulated bench.
func (c *Config) OpenBench() (*Bench, error) {
	if c.Simulate {
		return c.openSimBench(), nil
	}
	line, err := power.OpenGPIO(c.PowerPin, c.ActiveLow)
	if err != nil {
		return nil, err
	}
	b := &Bench{Power: c.controller(line), Clock: fx.SystemClock}
	if b.Primary, err = c.openLink("REV7", c.PrimaryPort); err != nil {
		b.Close()
		return nil, err
	}
	if b.Secondary, err = c.openLink("REV11", c.SecondaryPort); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (c *Config) controller(line power.Line) *power.Controller {
	pwr := power.NewController(line)
	pwr.OffDuration, pwr.SettleDelay = c.OffDuration, c.SettleDelay
	return pwr
}

func (c *Config) openLink(name, path string) (*link.Link, error) {
	l, err := link.Open(link.Config{Name: name, Path: path, Baud: c.Baud, ReadTimeout: c.ReadTimeout})
	if err != nil {
		return nil, err
	}
	l.PromptTimeout = c.PromptTimeout
	return l, nil
}

func (c *Config) openSimBench() *Bench {
	sb := sim.NewBench(sim.DefaultID)
	glog.Info("using simulated devices")
	pwr := c.controller(sb.Line)
	pwr.Clock = sb.Clock
	b := &Bench{
		Power:     pwr,
		Primary:   sb.Link("REV7", sb.REV7),
		Secondary: sb.Link("REV11", sb.REV11),
		Clock:     sb.Clock,
		Sim:       sb,
	}
	b.Primary.PromptTimeout = c.PromptTimeout
	b.Secondary.PromptTimeout = c.PromptTimeout
	return b
}

// Env is everything a provisioning run needs.
type Env struct {
	Config   *Config
	Bench    *Bench
	Console  *console.Console
	Keys     store.KeyStore
	Results  store.ResultStore
	Reporter *report.Publisher
}

// NewEnv opens the bench and connects the reporter when configured.
func (c *Config) NewEnv(ctx context.Context) (*Env, error) {
	bench, err := c.OpenBench()
	if err != nil {
		return nil, err
	}
	e := &Env{
		Config:  c,
		Bench:   bench,
		Console: console.New(),
		Keys:    &store.CSVKeyStore{Path: c.KeyFile},
		Results: &store.CSVResultStore{Path: c.OutputFile},
	}
	e.Console.Quiet = c.Quiet
	if c.MQTTBrokerURL != "" {
		if e.Reporter, err = report.Dial(ctx, c.MQTTBrokerURL, c.Station); err != nil {
			bench.Close()
			return nil, fmt.Errorf("connect MQTT broker: %w", err)
		}
	}
	return e, nil
}

// NewSession creates a session on the bench reporting to the console.
func (e *Env) NewSession() *session.Session {
	b := e.Bench
	b.Primary.Observer, b.Secondary.Observer = e.Console, e.Console
	s := session.New(b.Power, b.Primary, b.Secondary, e.Keys, e.Results)
	s.Clock = b.Clock
	s.Observer = e.Console
	if e.Reporter != nil {
		s.Reporter = e.Reporter
	}
	return s
}

// Provision runs a session for serial and keeps the resolved link roles
// for the next one.
func (e *Env) Provision(ctx context.Context, serial string) (session.Outcome, error) {
	e.Console.Section("Provisioning " + serial)
	s := e.NewSession()
	out, err := s.Run(ctx, serial)
	e.Bench.Primary, e.Bench.Secondary = s.Links()
	if err != nil {
		e.Console.Error(err)
	}
	e.Console.Outcome(out)
	return out, err
}

// Close releases the bench and the reporter.
func (e *Env) Close() error {
	var errs fx.AggregatedError
	if e.Reporter != nil {
		errs.Add(e.Reporter.Close())
	}
	errs.Add(e.Bench.Close())
	return errs.Aggregate()
}
