package validator

import (
	"context"
	"regexp"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
)

// Regex matches the whole guess against the reference pattern.
//
// Options: case_sensitive (default false).
type Regex struct{}

func (Regex) Kind() types.ValidatorKind { return types.ValidatorRegex }

func compileRegex(reference string, opts Options) (*regexp.Regexp, error) {
	sensitive, err := opts.Bool("case_sensitive", false)
	if err != nil {
		return nil, err
	}
	pattern := `^(?:` + reference + `)$`
	if !sensitive {
		pattern = `(?i)` + pattern
	}
	return regexp.Compile(pattern)
}

func (Regex) CheckWellFormed(reference string, opts Options) error {
	_, err := compileRegex(reference, opts)
	return err
}

func (Regex) Validate(_ context.Context, reference string, opts Options, guess string) (bool, error) {
	re, err := compileRegex(reference, opts)
	if err != nil {
		return false, err
	}
	return re.MatchString(guess), nil
}
