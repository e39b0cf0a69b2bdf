// Package resolve works out which serial link the primary device is on.
//
// USB serial adapters enumerate in no fixed order, so the link assumed to
// carry the primary device is power cycled and its second boot line is
// classified by banner.
package resolve

import (
	"context"

	"github.com/golang/glog"

	"github.com/opentrv/otprovision/pkg/device"
	"github.com/opentrv/otprovision/pkg/link"
	"github.com/opentrv/otprovision/pkg/power"
)

// Verdict is the outcome of a resolution.
type Verdict int

// Verdicts.
const (
	// PrimaryConfirmed: the primary banner was seen where expected.
	PrimaryConfirmed Verdict = iota
	// SwapConfirmed: the secondary banner was seen, roles are swapped.
	SwapConfirmed
	// Ambiguous: no known banner was seen; roles are kept unverified.
	Ambiguous
)

func (v Verdict) String() string {
	switch v {
	case PrimaryConfirmed:
		return "primary confirmed"
	case SwapConfirmed:
		return "swap confirmed"
	case Ambiguous:
		return "ambiguous"
	}
	return "invalid"
}

// Result carries the resolved roles.
type Result struct {
	Verdict   Verdict
	Primary   *link.Link
	Secondary *link.Link
	// Banner is the line the verdict was based on.
	Banner string
}

// Resolve power cycles the device and reads two lines from the link assumed
// to be the primary one. It is a single shot: a silent link gives Ambiguous
// and keeps the assumed roles, which callers should surface as a warning.
func Resolve(ctx context.Context, pwr *power.Controller, assumedPrimary, assumedSecondary *link.Link) (Result, error) {
	res := Result{Verdict: Ambiguous, Primary: assumedPrimary, Secondary: assumedSecondary}
	if err := pwr.ResetCycle(ctx, assumedPrimary); err != nil {
		return res, err
	}
	lines, err := assumedPrimary.ReadEach(2)
	if err != nil {
		return res, err
	}
	if lines[1] == "" {
		glog.Warningf("resolve: no second boot line on %s", assumedPrimary.Name)
		return res, nil
	}
	res.Banner = lines[1]
	switch device.Classify(lines[1]) {
	case device.RoleREV11:
		glog.Infof("resolve: secondary banner on %s, swapping links", assumedPrimary.Path)
		res.Verdict = SwapConfirmed
		res.Primary, res.Secondary = assumedSecondary, assumedPrimary
		res.Primary.Name, res.Secondary.Name = res.Secondary.Name, res.Primary.Name
	case device.RoleREV7:
		res.Verdict = PrimaryConfirmed
	default:
		glog.Warningf("resolve: unrecognised boot line %q on %s, keeping assumed links", lines[1], assumedPrimary.Path)
	}
	return res, nil
}
