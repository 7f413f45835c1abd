package types

import "testing"

func TestClassOf(t *testing.T) {
	tests := []struct {
		typ  Type
		want Class
	}{
		{I8, Int},
		{I16, Int},
		{I32, Int},
		{I64, Int},
		{F32, Float},
		{F64, Float},
		{Bool, BoolClass},
		{Void, VoidClass},
		{None, VoidClass},
	}
	for _, tt := range tests {
		if got := ClassOf(tt.typ); got != tt.want {
			t.Errorf("ClassOf(%s): got %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestIsAny(t *testing.T) {
	for typ := Type(1); typ < numTypes; typ++ {
		if !Is(typ, Any) {
			t.Errorf("%s should belong to Any", typ)
		}
	}
	if Is(F32, Int) {
		t.Error("f32 must not belong to Int")
	}
}

func TestByName(t *testing.T) {
	for typ := Type(1); typ < numTypes; typ++ {
		got, ok := ByName(typ.String())
		if !ok || got != typ {
			t.Errorf("ByName(%q): got %s, ok=%v", typ.String(), got, ok)
		}
	}
	if _, ok := ByName("i128"); ok {
		t.Error("unknown name resolved")
	}
	if _, ok := ByName("none"); ok {
		t.Error("none must not be nameable")
	}
}

func TestFunctionEqual(t *testing.T) {
	a := NewFunction(I32, I32, I64)
	b := NewFunction(I32, I32, I64)
	if !a.Equal(b) {
		t.Error("identical signatures not equal")
	}
	if a.Equal(NewFunction(I32, I32)) {
		t.Error("different arity compared equal")
	}
	if a.Equal(NewFunction(Void, I32, I64)) {
		t.Error("different return compared equal")
	}
}

func TestFunctionString(t *testing.T) {
	got := NewFunction(I32, I64, F64).String()
	if got != "(i64,f64)->i32" {
		t.Fatalf("String: got %q", got)
	}
	if got := NewFunction(Void).String(); got != "()->void" {
		t.Fatalf("String no params: got %q", got)
	}
}

func TestByteWidth(t *testing.T) {
	tests := []struct {
		typ  Type
		want int
	}{
		{I8, 1}, {I16, 2}, {I32, 4}, {I64, 8}, {F32, 4}, {F64, 8}, {Bool, 0}, {Void, 0},
	}
	for _, tt := range tests {
		if got := ByteWidth(tt.typ); got != tt.want {
			t.Errorf("ByteWidth(%s): got %d, want %d", tt.typ, got, tt.want)
		}
	}
}
