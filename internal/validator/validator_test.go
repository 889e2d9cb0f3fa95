package validator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos/testutil"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	domainagg "github.com/MusicMeister52/hunter2-sub000/internal/domain/aggregates"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(testutil.Logger(t), Config{ScriptTimeout: 200 * time.Millisecond, ExternalTimeout: time.Second})
}

func opts(t *testing.T, v map[string]any) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestStaticValidator(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	cases := []struct {
		name      string
		reference string
		options   map[string]any
		guess     string
		want      bool
	}{
		{"default lowers and strips", "correct", nil, "  Correct ", true},
		{"wrong text", "correct", nil, "WRONG", false},
		{"case none", "Correct", map[string]any{"case_handling": "none"}, "correct", false},
		{"no strip", "correct", map[string]any{"strip": false}, " correct", false},
		{"fold", "STRASSE", map[string]any{"case_handling": "fold"}, "strasse", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Validate(ctx, types.ValidatorStatic, tc.reference, opts(t, tc.options), tc.guess)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	err := r.CheckWellFormed(types.ValidatorStatic, "x", opts(t, map[string]any{"case_handling": "upper"}))
	require.Error(t, err)
	assert.True(t, domainagg.IsCode(err, domainagg.CodeValidatorConfig))
}

func TestRegexValidator(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	ok, err := r.Validate(ctx, types.ValidatorRegex, "colou?r", nil, "COLOR")
	require.NoError(t, err)
	assert.True(t, ok, "case insensitive by default")

	ok, err = r.Validate(ctx, types.ValidatorRegex, "colou?r", nil, "colors")
	require.NoError(t, err)
	assert.False(t, ok, "must match the whole guess")

	ok, err = r.Validate(ctx, types.ValidatorRegex, "colou?r", opts(t, map[string]any{"case_sensitive": true}), "COLOR")
	require.NoError(t, err)
	assert.False(t, ok)

	err = r.CheckWellFormed(types.ValidatorRegex, "(unclosed", nil)
	assert.True(t, domainagg.IsCode(err, domainagg.CodeValidatorConfig))
}

func TestScriptValidator(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	ok, err := r.Validate(ctx, types.ValidatorScript, `return string.lower(guess) == "lua"`, nil, "LUA")
	require.NoError(t, err)
	assert.True(t, ok)

	err = r.CheckWellFormed(types.ValidatorScript, `return guess ==`, nil)
	assert.True(t, domainagg.IsCode(err, domainagg.CodeValidatorConfig))

	_, err = r.Validate(ctx, types.ValidatorScript, `error("boom")`, nil, "x")
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))

	_, err = r.Validate(ctx, types.ValidatorScript, `return 1`, nil, "x")
	assert.True(t, IsRuntimeError(err), "non-boolean result is a runtime failure")

	_, err = r.Validate(ctx, types.ValidatorScript, `while true do end`, opts(t, map[string]any{"timeout": 0.05}), "x")
	assert.True(t, IsRuntimeError(err), "script past its timeout must fail")

	_, err = r.Validate(ctx, types.ValidatorScript, `return dofile("/etc/passwd") ~= nil`, nil, "x")
	assert.True(t, IsRuntimeError(err), "file access is not available")
}

func TestExternalValidator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body externalRequest
		_ = json.NewDecoder(req.Body).Decode(&body)
		switch body.Guess {
		case "fail":
			http.Error(w, "nope", http.StatusBadGateway)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"correct": body.Guess == "remote"})
		}
	}))
	defer srv.Close()

	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.CheckWellFormed(types.ValidatorExternal, srv.URL, nil))
	assert.Error(t, r.CheckWellFormed(types.ValidatorExternal, "not a url", nil))

	ok, err := r.Validate(ctx, types.ValidatorExternal, srv.URL, nil, "remote")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Validate(ctx, types.ValidatorExternal, srv.URL, nil, "local")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.Validate(ctx, types.ValidatorExternal, srv.URL, nil, "fail")
	assert.True(t, IsRuntimeError(err))
}

func TestUnknownKindIsConfigError(t *testing.T) {
	r := newTestRegistry(t)
	err := r.CheckWellFormed("python", "x", nil)
	assert.True(t, domainagg.IsCode(err, domainagg.CodeValidatorConfig))

	err = r.CheckWellFormed(types.ValidatorStatic, "x", datatypes.JSON(`[1,2]`))
	assert.True(t, domainagg.IsCode(err, domainagg.CodeValidatorConfig))
}
