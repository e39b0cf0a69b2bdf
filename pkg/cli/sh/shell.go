package sh

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/opentrv/otprovision/pkg/device"
	"github.com/opentrv/otprovision/pkg/env"
	"github.com/opentrv/otprovision/pkg/link"
	"github.com/opentrv/otprovision/pkg/resolve"
	"github.com/opentrv/otprovision/pkg/session"
)

// Shell provides ishell backed interactive bench control.
type Shell struct {
	Interactive bool

	Shell *ishell.Shell
	Env   *env.Env
	Ctx   context.Context
	Out   io.Writer
}

const (
	shellKey = "$shell"
	prompt   = "bench > "
)

var (
	// flags

	evalOnly bool

	// commands
	commands = []*ishell.Cmd{
		&ProvisionCmd,
		&DetectCmd,
		&PowerCmd,
		&ResetCmd,
		&IDCmd,
		&SendCmd,
		&ListenCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
}

// New creates a new shell.
func New(ctx context.Context, e *env.Env) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		Shell:       ishell.New(),
		Env:         e,
		Ctx:         ctx,
		Out:         os.Stdout,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(prompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

func run(fn func(s *Shell, args []string) error) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if err := fn(ShellFrom(c), c.Args); err != nil {
			c.Err(err)
		}
	}
}

func (s *Shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.Out, format, args...)
}

// Provision runs a full session for the serial number.
func (s *Shell) Provision(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("SERIAL required")
	}
	_, err := s.Env.Provision(s.Ctx, args[0])
	return err
}

// Detect works out which port the REV7 is on.
func (s *Shell) Detect(args []string) error {
	b := s.Env.Bench
	res, err := resolve.Resolve(s.Ctx, b.Power, b.Primary, b.Secondary)
	if err != nil {
		return err
	}
	b.Primary, b.Secondary = res.Primary, res.Secondary
	s.printf("%s: REV7 on %s, REV11 on %s\n", res.Verdict, b.Primary.Path, b.Secondary.Path)
	return nil
}

// Power switches the REV7 supply.
func (s *Shell) Power(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("on or off required")
	}
	switch args[0] {
	case "on":
		return s.Env.Bench.Power.On()
	case "off":
		return s.Env.Bench.Power.Off()
	}
	return fmt.Errorf("invalid power state %q", args[0])
}

// Reset power cycles the REV7 and prints what it announces.
func (s *Shell) Reset(args []string) error {
	b := s.Env.Bench
	if err := b.Power.ResetCycle(s.Ctx, b.Primary); err != nil {
		return err
	}
	lines, err := b.Primary.ReadEach(2)
	if err != nil {
		return err
	}
	role := device.RoleUnknown
	for _, line := range lines {
		if r := device.Classify(line); r != device.RoleUnknown {
			role = r
		}
	}
	s.printf("announced %s\n", role)
	return nil
}

// ID queries the REV7 identity.
func (s *Shell) ID(args []string) error {
	lines, err := s.exchange(s.Env.Bench.Primary, device.CmdQueryID, 3)
	if err != nil {
		return err
	}
	var id string
	if len(lines) > 1 {
		id = device.ExtractID(lines[1])
	}
	if !device.ValidID(id) {
		return session.ErrNoID
	}
	s.printf("%s\n", id)
	return nil
}

// Send sends a raw command to either device and prints the reply.
func (s *Shell) Send(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("primary|secondary CMD required")
	}
	var l *link.Link
	switch args[0] {
	case "primary", "rev7":
		l = s.Env.Bench.Primary
	case "secondary", "rev11":
		l = s.Env.Bench.Secondary
	default:
		return fmt.Errorf("invalid device %q", args[0])
	}
	lines, err := s.exchange(l, strings.Join(args[1:], " "), 5)
	if err != nil {
		return err
	}
	for _, line := range lines {
		s.printf("%s\n", strings.TrimRight(device.Redact(line), "\r\n"))
	}
	return nil
}

// Listen waits for the REV11 to relay a frame from ID.
func (s *Shell) Listen(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("ID required")
	}
	v := session.NewVerifier(s.Env.Bench.Secondary)
	v.Clock = s.Env.Bench.Clock
	res, err := v.Listen(s.Ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if !res.Matched {
		return fmt.Errorf("not seen in %d lines, %v", res.Lines, res.Elapsed)
	}
	s.printf("seen after %v: %s\n", res.Elapsed, strings.TrimSpace(res.Line))
	return nil
}

func (s *Shell) exchange(l *link.Link, cmd string, n int) ([]string, error) {
	if err := l.SendCommand(cmd); err != nil {
		return nil, err
	}
	return l.ReadLines(n)
}

// Run runs the shell.
func (s *Shell) Run(args ...string) error {
	if len(args) > 0 {
		return s.Shell.Process(args...)
	}
	if s.Interactive {
		s.Shell.Run()
		return nil
	}
	return fmt.Errorf("command expected")
}

var (
	// ProvisionCmd runs a provisioning session.
	ProvisionCmd = ishell.Cmd{
		Name:    "provision",
		Aliases: []string{"p"},
		Help:    "SERIAL",
		Func:    run((*Shell).Provision),
	}

	// DetectCmd resolves the port roles.
	DetectCmd = ishell.Cmd{
		Name:    "detect",
		Aliases: []string{"d"},
		Help:    "",
		Func:    run((*Shell).Detect),
	}

	// PowerCmd switches the REV7 supply.
	PowerCmd = ishell.Cmd{
		Name: "power",
		Help: "on|off",
		Func: run((*Shell).Power),
	}

	// ResetCmd power cycles the REV7.
	ResetCmd = ishell.Cmd{
		Name:    "reset",
		Aliases: []string{"r"},
		Help:    "",
		Func:    run((*Shell).Reset),
	}

	// IDCmd reads the REV7 identity.
	IDCmd = ishell.Cmd{
		Name: "id",
		Help: "",
		Func: run((*Shell).ID),
	}

	// SendCmd sends a raw command.
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "primary|secondary CMD",
		Func:    run((*Shell).Send),
	}

	// ListenCmd waits for a relayed frame.
	ListenCmd = ishell.Cmd{
		Name:    "listen",
		Aliases: []string{"l"},
		Help:    "ID",
		Func:    run((*Shell).Listen),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	ctx := context.Background()
	e, err := env.NewConfig().NewEnv(ctx)
	if err != nil {
		glog.Exitln(err)
	}
	err = New(ctx, e).Run(flag.Args()...)
	if cerr := e.Close(); cerr != nil {
		glog.Warningf("close bench: %v", cerr)
	}
	if err != nil {
		glog.Exitln(err)
	}
}
