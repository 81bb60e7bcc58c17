package compiler

import (
	"testing"

	"github.com/chazu/bobbin/pkg/bytecode"
)

func mustParse(t *testing.T, input string) *Script {
	t.Helper()
	script, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q): %v", input, err)
	}
	return script
}

func parseErr(t *testing.T, input string) *Error {
	t.Helper()
	_, err := Parse(input)
	if err == nil {
		t.Fatalf("Parse(%q): expected error", input)
	}
	cerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("Parse(%q): error type %T, want *Error", input, err)
	}
	return cerr
}

func TestParseTextLine(t *testing.T) {
	script := mustParse(t, "Hello there.\n")
	if len(script.Statements) != 1 {
		t.Fatalf("got %d statements, want 1", len(script.Statements))
	}
	line, ok := script.Statements[0].(*TextLine)
	if !ok {
		t.Fatalf("statement type %T, want *TextLine", script.Statements[0])
	}
	if len(line.Parts) != 1 {
		t.Fatalf("got %d parts, want 1", len(line.Parts))
	}
	seg, ok := line.Parts[0].(*TextSegment)
	if !ok || seg.Text != "Hello there." {
		t.Errorf("part = %#v, want segment %q", line.Parts[0], "Hello there.")
	}
}

func TestParseDeclarations(t *testing.T) {
	script := mustParse(t, "save gold = 10\ntemp mood = \"calm\"\nextern hero\nset gold = 12\n")
	if len(script.Statements) != 4 {
		t.Fatalf("got %d statements, want 4", len(script.Statements))
	}

	save, ok := script.Statements[0].(*SaveDecl)
	if !ok {
		t.Fatalf("stmt[0] type %T, want *SaveDecl", script.Statements[0])
	}
	if save.Name != "gold" || !save.Value.Equal(bytecode.IntValue(10)) {
		t.Errorf("save = %s %v", save.Name, save.Value)
	}

	tmp, ok := script.Statements[1].(*TempDecl)
	if !ok {
		t.Fatalf("stmt[1] type %T, want *TempDecl", script.Statements[1])
	}
	if tmp.Name != "mood" || !tmp.Value.Equal(bytecode.StringValue("calm")) {
		t.Errorf("temp = %s %v", tmp.Name, tmp.Value)
	}

	ext, ok := script.Statements[2].(*ExternDecl)
	if !ok || ext.Name != "hero" {
		t.Errorf("stmt[2] = %#v, want extern hero", script.Statements[2])
	}

	set, ok := script.Statements[3].(*SetStmt)
	if !ok || set.Name != "gold" || !set.Value.Equal(bytecode.IntValue(12)) {
		t.Errorf("stmt[3] = %#v, want set gold = 12", script.Statements[3])
	}
}

func TestParseLiteralTypes(t *testing.T) {
	tests := []struct {
		input string
		want  bytecode.Value
	}{
		{"save a = 42\n", bytecode.IntValue(42)},
		{"save b = -7\n", bytecode.IntValue(-7)},
		{"save c = 3.14\n", bytecode.FloatValue(3.14)},
		{"save d = -0.5\n", bytecode.FloatValue(-0.5)},
		{"save e = true\n", bytecode.BoolValue(true)},
		{"save f = false\n", bytecode.BoolValue(false)},
		{"save g = \"hi\"\n", bytecode.StringValue("hi")},
	}
	for _, tc := range tests {
		script := mustParse(t, tc.input)
		decl := script.Statements[0].(*SaveDecl)
		if !decl.Value.Equal(tc.want) {
			t.Errorf("Parse(%q) value = %v, want %v", tc.input, decl.Value, tc.want)
		}
	}
}

func TestParseInterpolatedLine(t *testing.T) {
	script := mustParse(t, "Hi {name}, you have {gold} coins.\n")
	line := script.Statements[0].(*TextLine)
	if len(line.Parts) != 5 {
		t.Fatalf("got %d parts, want 5", len(line.Parts))
	}
	ref, ok := line.Parts[1].(*VarRef)
	if !ok || ref.Name != "name" {
		t.Errorf("part[1] = %#v, want VarRef name", line.Parts[1])
	}
	ref2, ok := line.Parts[3].(*VarRef)
	if !ok || ref2.Name != "gold" {
		t.Errorf("part[3] = %#v, want VarRef gold", line.Parts[3])
	}
}

func TestParseChoiceSet(t *testing.T) {
	input := "- Fight\n    You draw your sword.\n- Flee\n    You run.\nIt is over.\n"
	script := mustParse(t, input)
	if len(script.Statements) != 2 {
		t.Fatalf("got %d statements, want 2", len(script.Statements))
	}

	set, ok := script.Statements[0].(*ChoiceSet)
	if !ok {
		t.Fatalf("stmt[0] type %T, want *ChoiceSet", script.Statements[0])
	}
	if len(set.Choices) != 2 {
		t.Fatalf("got %d choices, want 2", len(set.Choices))
	}
	if len(set.Choices[0].Body) != 1 {
		t.Errorf("choice[0] body has %d statements, want 1", len(set.Choices[0].Body))
	}
	if len(set.Choices[1].Body) != 1 {
		t.Errorf("choice[1] body has %d statements, want 1", len(set.Choices[1].Body))
	}

	if _, ok := script.Statements[1].(*TextLine); !ok {
		t.Errorf("stmt[1] type %T, want *TextLine", script.Statements[1])
	}
}

func TestParseChoiceWithoutBody(t *testing.T) {
	script := mustParse(t, "- Yes\n- No\n")
	set := script.Statements[0].(*ChoiceSet)
	if len(set.Choices) != 2 {
		t.Fatalf("got %d choices, want 2", len(set.Choices))
	}
	for i, c := range set.Choices {
		if len(c.Body) != 0 {
			t.Errorf("choice[%d] body has %d statements, want 0", i, len(c.Body))
		}
	}
}

func TestParseSeparateChoiceSets(t *testing.T) {
	// A plain line between choices splits them into two sets.
	input := "- A\nbetween\n- B\n"
	script := mustParse(t, input)
	if len(script.Statements) != 3 {
		t.Fatalf("got %d statements, want 3: %#v", len(script.Statements), script.Statements)
	}
	if _, ok := script.Statements[0].(*ChoiceSet); !ok {
		t.Errorf("stmt[0] type %T, want *ChoiceSet", script.Statements[0])
	}
	if _, ok := script.Statements[2].(*ChoiceSet); !ok {
		t.Errorf("stmt[2] type %T, want *ChoiceSet", script.Statements[2])
	}
}

func TestParseNestedChoices(t *testing.T) {
	input := "- Outer\n    - Inner A\n    - Inner B\n        Deep.\n"
	script := mustParse(t, input)
	outer := script.Statements[0].(*ChoiceSet)
	if len(outer.Choices) != 1 {
		t.Fatalf("got %d outer choices, want 1", len(outer.Choices))
	}
	inner, ok := outer.Choices[0].Body[0].(*ChoiceSet)
	if !ok {
		t.Fatalf("body[0] type %T, want *ChoiceSet", outer.Choices[0].Body[0])
	}
	if len(inner.Choices) != 2 {
		t.Fatalf("got %d inner choices, want 2", len(inner.Choices))
	}
	if len(inner.Choices[1].Body) != 1 {
		t.Errorf("inner choice[1] body has %d statements, want 1", len(inner.Choices[1].Body))
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		kind  ErrorKind
	}{
		{"save = 10\n", ErrParse},
		{"save gold 10\n", ErrParse},
		{"save gold = \n", ErrParse},
		{"set gold\n", ErrParse},
		{"    indented for no reason\n", ErrIndentation},
		{"save gold = \"unterminated\n", ErrParse},
		{"\tTabbed\n", ErrIndentation},
		{"broken {interp\n", ErrInterpolationSyntax},
	}
	for _, tc := range tests {
		err := parseErr(t, tc.input)
		if err.Kind != tc.kind {
			t.Errorf("Parse(%q) kind = %v, want %v", tc.input, err.Kind, tc.kind)
		}
	}
}

func TestParseNoTrailingNewline(t *testing.T) {
	script := mustParse(t, "save gold = 10")
	if len(script.Statements) != 1 {
		t.Fatalf("got %d statements, want 1", len(script.Statements))
	}
}

func TestParseNodeIDsUnique(t *testing.T) {
	script := mustParse(t, "save a = 1\ntemp b = 2\nset a = 3\n{a} and {b}\n")
	seen := map[NodeID]bool{}
	check := func(id NodeID) {
		if seen[id] {
			t.Errorf("node id %d assigned twice", id)
		}
		seen[id] = true
	}
	for _, stmt := range script.Statements {
		switch n := stmt.(type) {
		case *SaveDecl:
			check(n.ID)
		case *TempDecl:
			check(n.ID)
		case *SetStmt:
			check(n.ID)
		case *TextLine:
			for _, part := range n.Parts {
				if ref, ok := part.(*VarRef); ok {
					check(ref.ID)
				}
			}
		}
	}
}
