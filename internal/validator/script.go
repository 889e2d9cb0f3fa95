package validator

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
)

// Script runs the reference as a Lua chunk with the guess bound to the global
// `guess`. The chunk must return a boolean.
//
// Options: timeout (seconds, default from the registry).
type Script struct {
	Timeout time.Duration
}

func (Script) Kind() types.ValidatorKind { return types.ValidatorScript }

func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func (s Script) CheckWellFormed(reference string, opts Options) error {
	if _, err := opts.Seconds("timeout", s.Timeout); err != nil {
		return err
	}
	L := newSandbox()
	defer L.Close()
	if _, err := L.LoadString(reference); err != nil {
		return fmt.Errorf("script does not compile: %w", err)
	}
	return nil
}

func (s Script) Validate(ctx context.Context, reference string, opts Options, guess string) (bool, error) {
	timeout, err := opts.Seconds("timeout", s.Timeout)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	fn, err := L.LoadString(reference)
	if err != nil {
		return false, fmt.Errorf("script does not compile: %w", err)
	}
	L.SetGlobal("guess", lua.LString(guess))
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return false, fmt.Errorf("script failed: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	b, ok := ret.(lua.LBool)
	if !ok {
		return false, fmt.Errorf("script must return a boolean, got %s", ret.Type())
	}
	return bool(b), nil
}
