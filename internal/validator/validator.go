// Package validator decides whether a guess matches an Answer or UnlockAnswer.
//
// The set of validators is closed: Static, Regex, Script and External. Each
// one both checks its configuration at save time and evaluates guesses. A
// configuration that fails CheckWellFormed must never be persisted, so an
// error from Validate is always a runtime failure of a well-formed validator.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/datatypes"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	domainagg "github.com/MusicMeister52/hunter2-sub000/internal/domain/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/observability"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

// Validator is one validation strategy.
type Validator interface {
	Kind() types.ValidatorKind
	CheckWellFormed(reference string, opts Options) error
	Validate(ctx context.Context, reference string, opts Options, guess string) (bool, error)
}

// Options is a validator's decoded JSON configuration.
type Options map[string]any

// ParseOptions decodes a stored options column. Empty input is no options.
func ParseOptions(raw datatypes.JSON) (Options, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		return Options{}, nil
	}
	var out Options
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("options must be a JSON object: %w", err)
	}
	if out == nil {
		out = Options{}
	}
	return out, nil
}

func (o Options) String(key, def string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option %q must be a string", key)
	}
	return s, nil
}

func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("option %q must be a boolean", key)
	}
	return b, nil
}

// Seconds reads a positive number of seconds.
func (o Options) Seconds(key string, def time.Duration) (time.Duration, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := v.(float64)
	if !ok || f <= 0 {
		return 0, fmt.Errorf("option %q must be a positive number of seconds", key)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func configError(kind types.ValidatorKind, err error) error {
	return domainagg.NewError(domainagg.CodeValidatorConfig, "validator."+string(kind), err.Error(), err)
}

func runtimeError(kind types.ValidatorKind, err error) error {
	return domainagg.NewError(domainagg.CodeValidatorRuntime, "validator."+string(kind), err.Error(), err)
}

// IsRuntimeError reports whether err is a validator failing during evaluation.
func IsRuntimeError(err error) bool {
	return domainagg.IsCode(err, domainagg.CodeValidatorRuntime)
}

type Config struct {
	ScriptTimeout   time.Duration
	ExternalTimeout time.Duration
	HTTPClient      *http.Client
}

// Registry maps each kind to its validator.
type Registry struct {
	log        *logger.Logger
	validators map[types.ValidatorKind]Validator
}

func NewRegistry(baseLog *logger.Logger, cfg Config) *Registry {
	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = 2 * time.Second
	}
	if cfg.ExternalTimeout <= 0 {
		cfg.ExternalTimeout = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	r := &Registry{
		log:        baseLog.With("component", "ValidatorRegistry"),
		validators: map[types.ValidatorKind]Validator{},
	}
	for _, v := range []Validator{
		Static{},
		Regex{},
		Script{Timeout: cfg.ScriptTimeout},
		External{Timeout: cfg.ExternalTimeout, Client: cfg.HTTPClient},
	} {
		r.validators[v.Kind()] = v
	}
	return r
}

func (r *Registry) lookup(kind types.ValidatorKind) (Validator, error) {
	if kind == "" {
		kind = types.ValidatorStatic
	}
	v, ok := r.validators[kind]
	if !ok {
		return nil, configError(kind, fmt.Errorf("unknown validator %q", kind))
	}
	return v, nil
}

// CheckWellFormed rejects a configuration that could not evaluate guesses.
func (r *Registry) CheckWellFormed(kind types.ValidatorKind, reference string, options datatypes.JSON) error {
	v, err := r.lookup(kind)
	if err != nil {
		return err
	}
	opts, err := ParseOptions(options)
	if err != nil {
		return configError(v.Kind(), err)
	}
	if err := v.CheckWellFormed(reference, opts); err != nil {
		return configError(v.Kind(), err)
	}
	return nil
}

// Validate evaluates guess. Any returned error carries the validator_runtime
// code unless the kind itself is unknown.
func (r *Registry) Validate(ctx context.Context, kind types.ValidatorKind, reference string, options datatypes.JSON, guess string) (bool, error) {
	v, err := r.lookup(kind)
	if err != nil {
		return false, err
	}
	opts, err := ParseOptions(options)
	if err != nil {
		return false, runtimeError(v.Kind(), err)
	}
	ok, err := v.Validate(ctx, reference, opts, guess)
	result := "miss"
	switch {
	case err != nil:
		result = "error"
		r.log.Warn("validator failed", "kind", v.Kind(), "error", err)
		err = runtimeError(v.Kind(), err)
	case ok:
		result = "match"
	}
	observability.Current().IncValidatorCall(string(v.Kind()), result)
	return ok, err
}

// ValidateAnswer evaluates guess against an Answer.
func (r *Registry) ValidateAnswer(ctx context.Context, a *types.Answer, guess string) (bool, error) {
	return r.Validate(ctx, a.Runtime, a.Answer, a.Options, guess)
}

// ValidateUnlockAnswer evaluates guess against an UnlockAnswer.
func (r *Registry) ValidateUnlockAnswer(ctx context.Context, ua *types.UnlockAnswer, guess string) (bool, error) {
	return r.Validate(ctx, ua.Runtime, ua.Guess, ua.Options, guess)
}
