// Package expr evaluates the ExprTk-style boolean/arithmetic predicates
// §4.C's attribute check expressions are written in: a single bound
// variable ("value"), numeric/string/boolean literals, and the usual
// comparison/logical/arithmetic operators. It is deliberately not a
// general-purpose language — the spec's binding surface is one variable,
// not a program — so compilation and evaluation are delegated to CEL
// (Common Expression Language), restricted to exactly that one variable.
package expr

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
)

// Value is a dynamically-typed expression result.
type Value struct {
	Num  float64
	Str  string
	Bool bool
	Kind Kind
}

type Kind int

const (
	KindNum Kind = iota
	KindStr
	KindBool
)

func Num(v float64) Value { return Value{Num: v, Kind: KindNum} }
func Str(v string) Value  { return Value{Str: v, Kind: KindStr} }
func Bool(v bool) Value   { return Value{Bool: v, Kind: KindBool} }

func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNum:
		return v.Num != 0
	default:
		return v.Str != ""
	}
}

func (v Value) native() interface{} {
	switch v.Kind {
	case KindNum:
		return v.Num
	case KindStr:
		return v.Str
	case KindBool:
		return v.Bool
	default:
		return nil
	}
}

// Resolver resolves a bound identifier ("value") to its current value.
type Resolver func(name string) (Value, bool)

// checkEnv is the single-variable CEL environment every check expression
// compiles against. It has no side-effecting functions and no identifiers
// other than "value", matching §4.C's sandboxed surface.
var checkEnv = buildCheckEnv()

func buildCheckEnv() *cel.Env {
	env, err := cel.NewEnv(cel.Variable("value", cel.DynType))
	if err != nil {
		panic(fmt.Sprintf("expr: building CEL environment: %v", err))
	}
	return env
}

// Eval compiles src as a CEL expression and evaluates it with "value"
// bound through resolve. Compilation happens on every call rather than
// being cached per check expression: check bodies are short and this
// keeps the call-site (per-attribute checks during header ingestion)
// free of a cache-invalidation story, matching §4.F's
// no-process-local-cache posture for schema-derived state.
func Eval(src string, resolve Resolver) (Value, error) {
	bound, ok := resolve("value")
	if !ok {
		return Value{}, fmt.Errorf("expr: no binding for %q", "value")
	}

	ast, iss := checkEnv.Compile(src)
	if iss != nil && iss.Err() != nil {
		return Value{}, fmt.Errorf("expr: compiling %q: %w", src, iss.Err())
	}
	prg, err := checkEnv.Program(ast)
	if err != nil {
		return Value{}, fmt.Errorf("expr: building program for %q: %w", src, err)
	}

	out, _, err := prg.Eval(map[string]interface{}{"value": bound.native()})
	if err != nil {
		return Value{}, fmt.Errorf("expr: evaluating %q: %w", src, err)
	}
	return fromRef(out)
}

func fromRef(v ref.Val) (Value, error) {
	switch n := v.Value().(type) {
	case bool:
		return Bool(n), nil
	case float64:
		return Num(n), nil
	case int64:
		return Num(float64(n)), nil
	case uint64:
		return Num(float64(n)), nil
	case string:
		return Str(n), nil
	default:
		return Value{}, fmt.Errorf("expr: unsupported result type %T", n)
	}
}
