package validator

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
)

const (
	caseNone  = "none"
	caseLower = "lower"
	caseFold  = "fold"
)

// Static compares text after optional stripping and case normalization.
//
// Options: case_handling ("none", "lower" (default), "fold") and strip
// (default true).
type Static struct{}

func (Static) Kind() types.ValidatorKind { return types.ValidatorStatic }

type staticOpts struct {
	caseHandling string
	strip        bool
}

func parseStatic(opts Options) (staticOpts, error) {
	ch, err := opts.String("case_handling", caseLower)
	if err != nil {
		return staticOpts{}, err
	}
	switch ch {
	case caseNone, caseLower, caseFold:
	default:
		return staticOpts{}, fmt.Errorf("case_handling must be one of none, lower, fold; got %q", ch)
	}
	strip, err := opts.Bool("strip", true)
	if err != nil {
		return staticOpts{}, err
	}
	return staticOpts{caseHandling: ch, strip: strip}, nil
}

func (o staticOpts) normalize(s string) string {
	if o.strip {
		s = strings.TrimSpace(s)
	}
	switch o.caseHandling {
	case caseLower:
		s = strings.ToLower(s)
	case caseFold:
		s = cases.Fold().String(s)
	}
	return s
}

func (Static) CheckWellFormed(reference string, opts Options) error {
	_, err := parseStatic(opts)
	return err
}

func (Static) Validate(_ context.Context, reference string, opts Options, guess string) (bool, error) {
	o, err := parseStatic(opts)
	if err != nil {
		return false, err
	}
	return o.normalize(reference) == o.normalize(guess), nil
}
