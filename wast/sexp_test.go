package wast

import (
	"testing"

	"github.com/wippyai/wast-runtime/arena"
)

func TestReadBasicForms(t *testing.T) {
	roots := ReadSExpressions(`(module (func $f (result i32)))`, arena.New())
	if len(roots) != 1 {
		t.Fatalf("roots: got %d, want 1", len(roots))
	}
	mod := roots[0]
	if mod.Kind != NodeList || len(mod.List) != 2 {
		t.Fatalf("module node: kind %d, %d children", mod.Kind, len(mod.List))
	}
	if mod.List[0].Kind != NodeSymbol || mod.List[0].Sym != "module" {
		t.Fatalf("head: %+v", mod.List[0])
	}
	fn := mod.List[1]
	if fn.List[1].Kind != NodeName || fn.List[1].Sym != "f" {
		t.Fatalf("name node: %+v", fn.List[1])
	}
}

func TestReadNumbers(t *testing.T) {
	roots := ReadSExpressions(`(x 42 -7 0x10 3.5 -0.25)`, arena.New())
	list := roots[0].List
	wantInts := map[int]int64{1: 42, 2: -7, 3: 16}
	for index, want := range wantInts {
		if list[index].Kind != NodeInt || list[index].Int != want {
			t.Errorf("child %d: got kind %d value %d, want int %d", index, list[index].Kind, list[index].Int, want)
		}
	}
	if list[4].Kind != NodeFloat || list[4].Float != 3.5 {
		t.Errorf("child 4: %+v", list[4])
	}
	if list[5].Kind != NodeFloat || list[5].Float != -0.25 {
		t.Errorf("child 5: %+v", list[5])
	}
}

func TestReadStringEscapes(t *testing.T) {
	roots := ReadSExpressions(`(segment 0 "a\n\00\ff")`, arena.New())
	str := roots[0].List[2]
	if str.Kind != NodeString {
		t.Fatalf("kind: %d", str.Kind)
	}
	want := "a\n\x00\xff"
	if str.Str != want {
		t.Fatalf("decoded: %q, want %q", str.Str, want)
	}
}

func TestReadComments(t *testing.T) {
	roots := ReadSExpressions("(a ;; trailing\n b) ; whole line\n(c)", arena.New())
	if len(roots) != 2 {
		t.Fatalf("roots: got %d, want 2", len(roots))
	}
	if len(roots[0].List) != 2 {
		t.Fatalf("first list children: %d", len(roots[0].List))
	}
}

func TestReadLocus(t *testing.T) {
	roots := ReadSExpressions("(a\n  (b))", arena.New())
	inner := roots[0].List[1]
	if inner.Line != 2 || inner.Col != 3 {
		t.Fatalf("locus: %d:%d, want 2:3", inner.Line, inner.Col)
	}
}

func TestReadUnterminatedList(t *testing.T) {
	roots := ReadSExpressions("(a (b", arena.New())
	var found bool
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.Kind == NodeError {
			found = true
		}
		for _, child := range n.List {
			walk(child)
		}
	}
	for _, root := range roots {
		walk(root)
	}
	if !found {
		t.Fatal("unterminated list did not produce an error node")
	}
}
