package expr

import "testing"

func resolveValue(v Value) Resolver {
	return func(name string) (Value, bool) {
		if name == "value" {
			return v, true
		}
		return Value{}, false
	}
}

func TestEvalComparison(t *testing.T) {
	cases := []struct {
		src  string
		v    Value
		want bool
	}{
		{"value > 0", Num(5), true},
		{"value > 0", Num(-1), false},
		{"value >= 10 && value <= 20", Num(15), true},
		{"value >= 10 && value <= 20", Num(25), false},
		{`value == "ok"`, Str("ok"), true},
		{`value != "ok"`, Str("no"), true},
		{"!(value > 0)", Num(-3), true},
	}
	for _, c := range cases {
		got, err := Eval(c.src, resolveValue(c.v))
		if err != nil {
			t.Fatalf("eval %q: %v", c.src, err)
		}
		if got.Truthy() != c.want {
			t.Errorf("eval %q with %v = %v, want %v", c.src, c.v, got.Truthy(), c.want)
		}
	}
}

func TestEvalUnknownIdentifier(t *testing.T) {
	_, err := Eval("missing > 0", resolveValue(Num(1)))
	if err == nil {
		t.Fatal("expected error for unknown identifier")
	}
}
