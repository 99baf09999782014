package sync

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/sync/expr"
)

// ScriptHost is the narrow bound-function API §4.F's embedded scripting
// sandbox exposes to a transaction's pre/post scripts: log, read, save,
// update, remove, each scoped to entities in the executing transaction's
// context. A ScriptHost instance is bound to exactly one header execution
// and is never shared across headers, per §4.F.
type ScriptHost interface {
	Log(msg string)
	Read(entity string, key map[string]expr.Value) (map[string]expr.Value, bool, error)
	Save(entity string, row map[string]expr.Value) error
	Update(entity string, row map[string]expr.Value) error
	Remove(entity string, key map[string]expr.Value) error
}

// Script is a compiled pre or post hook body. The body is a JavaScript
// expression sequence, executed by an embedded goja runtime bound to
// log/read/save/update/remove; the "newRow" bound variable exposes the
// row image the transaction is staging. It returns an integer:
// 0 (approve), non-zero (reject, §4.F).
type Script struct {
	prog *goja.Program
}

// Parse compiles a script body. An empty or all-blank body parses to a
// no-op script that always approves (returns 0), the common case for
// transactions with no validation hook.
func Parse(src string) (*Script, error) {
	body := strings.TrimSpace(src)
	prog, err := goja.Compile("<script>", wrapBody(body), false)
	if err != nil {
		return nil, berrors.Wrap(berrors.CodeInvalidSchema, "compiling script", err)
	}
	return &Script{prog: prog}, nil
}

// wrapBody wraps the script body in an IIFE so a bare "return N" mid-body
// works and the script approves (0) if it runs off the end without one.
func wrapBody(body string) string {
	return "(function(){\n" + body + "\nreturn 0;\n})()"
}

// Run executes the script against host. vars supplies the bound row
// images (the engine passes "newRow") as JS globals. It returns the first
// explicit return code the script produced, or 0 (approve) if it ran to
// completion without one. A script panic, a thrown bound-function error,
// or a runtime error in the JS itself is recovered and reported as a
// CodeUserValidation error (syntax errors are rejected earlier, by Parse,
// as CodeInvalidSchema) — the sandbox's panic handler aborts the
// header, never the process, per §4.F.
func (s *Script) Run(host ScriptHost, vars map[string]map[string]expr.Value) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = berrors.New(berrors.CodeUserValidation, fmt.Sprintf("script panic: %v", r))
		}
	}()

	rt := goja.New()

	if err := rt.Set("log", func(msg string) {
		host.Log(msg)
	}); err != nil {
		return 0, berrors.Wrap(berrors.CodeInternalError, "binding log", err)
	}
	if err := rt.Set("read", func(entity string, key map[string]interface{}) (map[string]interface{}, error) {
		row, ok, rerr := host.Read(entity, toExprFields(key))
		if rerr != nil {
			return nil, rerr
		}
		if !ok {
			return nil, nil
		}
		return fromExprFields(row), nil
	}); err != nil {
		return 0, berrors.Wrap(berrors.CodeInternalError, "binding read", err)
	}
	if err := rt.Set("save", func(entity string, row map[string]interface{}) error {
		return host.Save(entity, toExprFields(row))
	}); err != nil {
		return 0, berrors.Wrap(berrors.CodeInternalError, "binding save", err)
	}
	if err := rt.Set("update", func(entity string, row map[string]interface{}) error {
		return host.Update(entity, toExprFields(row))
	}); err != nil {
		return 0, berrors.Wrap(berrors.CodeInternalError, "binding update", err)
	}
	if err := rt.Set("remove", func(entity string, key map[string]interface{}) error {
		return host.Remove(entity, toExprFields(key))
	}); err != nil {
		return 0, berrors.Wrap(berrors.CodeInternalError, "binding remove", err)
	}

	for scope, row := range vars {
		if err := rt.Set(scope, fromExprFields(row)); err != nil {
			return 0, berrors.Wrap(berrors.CodeInternalError, fmt.Sprintf("binding %q", scope), err)
		}
	}

	v, runErr := rt.RunProgram(s.prog)
	if runErr != nil {
		var jsErr *goja.Exception
		if errors.As(runErr, &jsErr) {
			return 0, berrors.New(berrors.CodeUserValidation, jsErr.Error())
		}
		return 0, berrors.Wrap(berrors.CodeUserValidation, "running script", runErr)
	}
	return int(v.ToInteger()), nil
}

// toExprFields converts a JS object (as goja hands it to a bound Go
// function) into the expr.Value row shape the ScriptHost API speaks.
func toExprFields(m map[string]interface{}) map[string]expr.Value {
	out := make(map[string]expr.Value, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case float64:
			out[k] = expr.Num(vv)
		case int64:
			out[k] = expr.Num(float64(vv))
		case string:
			out[k] = expr.Str(vv)
		case bool:
			out[k] = expr.Bool(vv)
		default:
			out[k] = expr.Value{}
		}
	}
	return out
}

// fromExprFields converts an expr.Value row into a plain Go map goja
// exposes to JS as a regular object.
func fromExprFields(m map[string]expr.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch v.Kind {
		case expr.KindNum:
			out[k] = v.Num
		case expr.KindStr:
			out[k] = v.Str
		case expr.KindBool:
			out[k] = v.Bool
		}
	}
	return out
}
