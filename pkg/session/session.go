// Package session drives one REV7 through provisioning.
//
// A Session exclusively owns the power controller and both links for its
// lifetime. Steps run strictly in order and each command's reply is drained
// before the next command, since the prompt detection relies on the device
// being back at its idle prompt. Any fatal condition deasserts power before
// Run returns.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/opentrv/otprovision/pkg/device"
	fx "github.com/opentrv/otprovision/pkg/framework"
	"github.com/opentrv/otprovision/pkg/link"
	"github.com/opentrv/otprovision/pkg/power"
	"github.com/opentrv/otprovision/pkg/resolve"
	"github.com/opentrv/otprovision/pkg/store"
)

// DefaultIDAttempts is how many times the identity is queried.
const DefaultIDAttempts = 3

// Reporter receives every terminal outcome.
type Reporter interface {
	Report(context.Context, Outcome) error
}

// Observer follows the progress of a session.
type Observer interface {
	StateChanged(state State, detail string)
}

// Session is a single provisioning run.
type Session struct {
	Keys     store.KeyStore
	Results  store.ResultStore
	Reporter Reporter
	Observer Observer
	Clock    fx.Clock

	IDAttempts   int
	ListenBudget time.Duration
	ListenLines  int

	power     *power.Controller
	primary   *link.Link
	secondary *link.Link
	state     State
	out       Outcome
}

// New creates a session owning pwr and both links. primary and secondary
// are the assumed roles; they are confirmed or swapped when Run starts.
func New(pwr *power.Controller, primary, secondary *link.Link, keys store.KeyStore, results store.ResultStore) *Session {
	return &Session{
		Keys:         keys,
		Results:      results,
		Clock:        fx.SystemClock,
		IDAttempts:   DefaultIDAttempts,
		ListenBudget: DefaultListenBudget,
		ListenLines:  DefaultListenLines,
		power:        pwr,
		primary:      primary,
		secondary:    secondary,
	}
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Links returns the primary and secondary links as currently resolved.
func (s *Session) Links() (primary, secondary *link.Link) {
	return s.primary, s.secondary
}

// Close deasserts power and closes both links.
func (s *Session) Close() error {
	return fx.CloseAll(s.power, s.primary, s.secondary)
}

// Run provisions the device with the key stored for serial.
//
// A failed cross-link verification yields a Failed outcome and no error.
// Fatal conditions yield a Failed outcome and a *FatalError. A result store
// failure after success yields a Succeeded outcome and an error.
func (s *Session) Run(ctx context.Context, serial string) (Outcome, error) {
	s.out = Outcome{SerialNumber: serial}
	s.state = Idle

	matched, err := s.run(ctx)
	if err != nil {
		fatal := &FatalError{State: s.state, Err: err}
		glog.Errorf("%s: %v", serial, fatal)
		if perr := s.power.Off(); perr != nil {
			glog.Errorf("power off after abort: %v", perr)
		}
		s.out.Reason = err.Error()
		s.enter(Failed, s.out.Reason)
		s.report(ctx)
		return s.out, fatal
	}
	if !matched {
		s.out.Reason = ErrNoMatch.Error()
		s.enter(Failed, s.out.Reason)
		s.report(ctx)
		return s.out, nil
	}

	s.enter(Succeeded, serial)
	if err := s.Results.RecordSuccess(serial, s.out.Key, s.out.ID); err != nil {
		s.report(ctx)
		return s.out, fmt.Errorf("record result: %w", err)
	}
	s.report(ctx)
	return s.out, nil
}

type step struct {
	to State
	do func(context.Context) error
}

func (s *Session) run(ctx context.Context) (bool, error) {
	key, ok, err := s.Keys.LookupKey(s.out.SerialNumber)
	if err != nil {
		return false, fmt.Errorf("key lookup: %w", err)
	}
	if !ok {
		return false, ErrNoKey
	}
	s.out.Key = key

	steps := []step{
		{Resolved, s.resolve},
		{Reset, s.powerCycle},
		{PromptReady, s.waitPrompt},
		{DelaySet, s.setStartDelay},
		{IDCleared, s.clearID},
		{IDAcquired, s.acquireID},
		{KeySet, s.setKey},
		{KeyVerified, s.prepareSecondary},
	}
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := st.do(ctx); err != nil {
			return false, err
		}
		s.enter(st.to, s.detail(st.to))
	}

	v := NewVerifier(s.secondary)
	v.Clock, v.Budget, v.MaxLines = s.Clock, s.ListenBudget, s.ListenLines
	return v.Verify(ctx, s.out.ID)
}

func (s *Session) detail(state State) string {
	switch state {
	case Resolved:
		return s.out.Resolution.String()
	case DelaySet:
		return s.out.DelayEcho
	case IDAcquired:
		return s.out.ID
	}
	return ""
}

func (s *Session) enter(state State, detail string) {
	glog.Infof("%s: %s -> %s %s", s.out.SerialNumber, s.state, state, detail)
	s.state = state
	s.out.State = state
	if s.Observer != nil {
		s.Observer.StateChanged(state, detail)
	}
}

func (s *Session) report(ctx context.Context) {
	if s.Reporter == nil {
		return
	}
	if err := s.Reporter.Report(ctx, s.out); err != nil {
		glog.Warningf("report outcome: %v", err)
	}
}

// command sends cmd and drains up to n reply lines.
func (s *Session) command(l *link.Link, cmd string, n int) ([]string, error) {
	if err := l.SendCommand(cmd); err != nil {
		return nil, err
	}
	return l.ReadLines(n)
}

func (s *Session) resolve(ctx context.Context) error {
	res, err := resolve.Resolve(ctx, s.power, s.primary, s.secondary)
	if err != nil {
		return err
	}
	s.primary, s.secondary = res.Primary, res.Secondary
	s.out.Resolution = res.Verdict
	if res.Verdict == resolve.Ambiguous {
		glog.Warningf("link roles unverified, assuming %s is the primary device", s.primary.Path)
	}
	return nil
}

// powerCycle resets the primary device and requires its banner in one of
// the first two lines.
func (s *Session) powerCycle(ctx context.Context) error {
	if err := s.power.ResetCycle(ctx, s.primary); err != nil {
		return err
	}
	lines, err := s.primary.ReadEach(2)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if device.Classify(line) == device.RoleREV7 {
			return nil
		}
	}
	glog.Errorf("REV7 banner not seen in %q, check the battery pack is on", lines)
	return ErrDeviceNotFound
}

func (s *Session) waitPrompt(ctx context.Context) error {
	ready, err := s.primary.WaitForCLI()
	if err != nil {
		return err
	}
	if !ready {
		glog.Warningf("%s: continuing without a confirmed CLI prompt", s.primary.Name)
	}
	return nil
}

func (s *Session) setStartDelay(ctx context.Context) error {
	if _, err := s.command(s.primary, device.CmdSetStartDelay, 3); err != nil {
		return err
	}
	lines, err := s.command(s.primary, device.CmdQueryStartDelay, 6)
	if err != nil {
		return err
	}
	if len(lines) > 1 {
		s.out.DelayEcho = strings.TrimSpace(lines[1])
	}
	return nil
}

func (s *Session) clearID(ctx context.Context) error {
	_, err := s.command(s.primary, device.CmdClearID, 3)
	return err
}

func (s *Session) acquireID(ctx context.Context) error {
	for attempt := 1; attempt <= s.IDAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lines, err := s.command(s.primary, device.CmdQueryID, 3)
		if err != nil {
			return err
		}
		var id string
		if len(lines) > 1 {
			id = device.ExtractID(lines[1])
		}
		if device.ValidID(id) {
			s.out.ID = id
			return nil
		}
		glog.Warningf("ID attempt %d/%d: %q too short", attempt, s.IDAttempts, id)
	}
	return ErrNoID
}

// setKey sets the key, power cycles, and sets it again. Only the second
// echo is checked, proving the device kept accepting the key across a reboot.
func (s *Session) setKey(ctx context.Context) error {
	cmd := device.SetKey(s.out.Key)
	if _, err := s.command(s.primary, cmd, 5); err != nil {
		return err
	}
	if err := s.powerCycle(ctx); err != nil {
		return err
	}
	if err := s.waitPrompt(ctx); err != nil {
		return err
	}
	lines, err := s.command(s.primary, cmd, 1)
	if err != nil {
		return err
	}
	var echo string
	if len(lines) > 0 {
		echo = device.EchoedValue(lines[0])
	}
	if echo != cmd {
		if glog.V(5) {
			glog.Infof("key echo: want %q got %q", cmd, echo)
		}
		return ErrKeyMismatch
	}
	_, err = s.primary.ReadLines(5)
	return err
}

// prepareSecondary gives the secondary device the key and the primary
// identity, then resets the primary so it announces itself.
func (s *Session) prepareSecondary(ctx context.Context) error {
	if err := s.secondary.Flush(); err != nil {
		return err
	}
	for _, c := range []struct {
		cmd   string
		reads []int
	}{
		{device.SetKey(s.out.Key), []int{5}},
		{device.CmdClearNodes, []int{3, 5}},
		{device.AddNode(s.out.ID), []int{3, 5}},
	} {
		if err := s.secondary.SendCommand(c.cmd); err != nil {
			return err
		}
		for _, n := range c.reads {
			if _, err := s.secondary.ReadLines(n); err != nil {
				return err
			}
		}
	}
	if err := s.secondary.Flush(); err != nil {
		return err
	}
	if err := s.power.ResetCycle(ctx, s.primary); err != nil {
		return err
	}
	lines, err := s.primary.ReadEach(2)
	if err != nil {
		return err
	}
	if device.Classify(lines[1]) != device.RoleREV7 {
		glog.Warningf("REV7 banner not seen after final reset: %q", lines)
	}
	return nil
}
