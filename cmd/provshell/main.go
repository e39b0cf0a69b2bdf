package main

import (
	"github.com/opentrv/otprovision/pkg/cli/sh"
	"github.com/opentrv/otprovision/pkg/env"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
