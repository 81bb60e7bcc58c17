package bytecode

import (
	"strings"
	"testing"
)

func TestDisassembleListsInstructions(t *testing.T) {
	c := NewChunk()
	c.AddSaveVar("gold", TypeInt)
	c.EmitConstant(IntValue(10))
	c.EmitU16(OpInitStorage, 0)
	c.EmitConstant(StringValue("Hello"))
	c.Emit(OpLine)
	c.Emit(OpReturn)

	out := c.Disassemble()
	for _, want := range []string{"CONST", "INIT_STORAGE", "LINE", "RETURN", "gold"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}

func TestDisassembleJumpTarget(t *testing.T) {
	c := NewChunk()
	p := c.EmitJump()
	c.Emit(OpNop)
	if err := c.PatchJump(p); err != nil {
		t.Fatalf("PatchJump: %v", err)
	}
	c.Emit(OpReturn)

	out := c.Disassemble()
	if !strings.Contains(out, "JUMP") || !strings.Contains(out, "->") {
		t.Errorf("jump not annotated with its target:\n%s", out)
	}
}

func TestDisassembleWithName(t *testing.T) {
	c := NewChunk()
	c.Emit(OpReturn)
	out := c.DisassembleWithName("intro.bobbin")
	if !strings.Contains(out, "intro.bobbin") {
		t.Errorf("name header missing:\n%s", out)
	}
}
