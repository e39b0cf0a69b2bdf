package session

import (
	"context"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/opentrv/otprovision/pkg/device"
	fx "github.com/opentrv/otprovision/pkg/framework"
	"github.com/opentrv/otprovision/pkg/link"
)

const (
	// DefaultListenBudget bounds the cross-link listen window in time.
	DefaultListenBudget = 15 * time.Second
	// DefaultListenLines bounds the cross-link listen window in lines.
	DefaultListenLines = 30
)

// Verifier listens on the secondary link for the primary identity.
type Verifier struct {
	Link     *link.Link
	Clock    fx.TimeSource
	Budget   time.Duration
	MaxLines int
}

// NewVerifier creates a Verifier with the default listen window.
func NewVerifier(l *link.Link) *Verifier {
	return &Verifier{
		Link:     l,
		Clock:    fx.SystemClock,
		Budget:   DefaultListenBudget,
		MaxLines: DefaultListenLines,
	}
}

// ListenResult describes a finished listen window.
type ListenResult struct {
	Matched bool
	// Lines counts read attempts, timeouts included.
	Lines   int
	Elapsed time.Duration
	// Line is the matching line.
	Line string
}

// Listen reads the secondary link until a line contains id with spaces
// removed, Budget elapses or MaxLines reads were made, whichever is first.
// Each read is bounded by the remaining budget.
func (v *Verifier) Listen(ctx context.Context, id string) (ListenResult, error) {
	var res ListenResult
	want := device.StripSpaces(id)
	start := v.Clock.Time()
	for res.Lines < v.MaxLines {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Elapsed = v.Clock.Time().Sub(start)
		remaining := v.Budget - res.Elapsed
		if remaining <= 0 {
			break
		}
		line, err := v.Link.ReadLineWithin(remaining)
		if err != nil && err != link.ErrTimeout {
			return res, err
		}
		res.Lines++
		if want != "" && strings.Contains(line, want) {
			res.Matched, res.Line = true, line
			break
		}
	}
	res.Elapsed = v.Clock.Time().Sub(start)
	glog.Infof("cross-link listen: matched=%v after %d lines in %v", res.Matched, res.Lines, res.Elapsed)
	return res, nil
}

// Verify reports whether id was seen within the listen window.
func (v *Verifier) Verify(ctx context.Context, id string) (bool, error) {
	res, err := v.Listen(ctx, id)
	return res.Matched, err
}
