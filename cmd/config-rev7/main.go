package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/opentrv/otprovision/pkg/env"
	fx "github.com/opentrv/otprovision/pkg/framework"
	"github.com/opentrv/otprovision/pkg/session"
)

// Exit codes.
const (
	exitOK = iota
	exitFailed
	exitUsage
	exitFatal
)

func init() {
	env.SetupFlags()
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] SERIAL\n\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	os.Exit(run())
}

func run() int {
	defer glog.Flush()
	if flag.NArg() != 1 {
		flag.Usage()
		return exitUsage
	}
	serial := flag.Arg(0)

	runner := fx.NewRunner().HandleSignals()
	e, err := env.NewConfig().NewEnv(runner.Context)
	if err != nil {
		glog.Error(err)
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	defer func() {
		if err := e.Close(); err != nil {
			glog.Warningf("close bench: %v", err)
		}
	}()

	var (
		out    session.Outcome
		runErr error
	)
	err = runner.Run(fx.NamedRun("provision", fx.RunFunc(func(ctx context.Context) error {
		out, runErr = e.Provision(ctx, serial)
		return runErr
	})))
	if err == fx.ErrForcedExit {
		return exitFatal
	}

	var fatal *session.FatalError
	switch {
	case errors.As(runErr, &fatal):
		return exitFatal
	case runErr != nil:
		glog.Errorf("%s provisioned but not recorded: %v", serial, runErr)
		return exitFatal
	case out.Succeeded():
		return exitOK
	}
	return exitFailed
}
