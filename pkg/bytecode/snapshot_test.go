package bytecode

import (
	"testing"
)

func TestSnapshotRoundTripAwaitingAdvance(t *testing.T) {
	chunk := lineChunk("one", "two", "three")
	vm := NewVM(chunk, newTestStorage(), newTestHost())

	if err := vm.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	data, err := vm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := NewVM(chunk, newTestStorage(), newTestHost())
	if err := restored.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.State() != StateAwaitingAdvance {
		t.Errorf("state = %v, want awaiting advance", restored.State())
	}
	if restored.CurrentLine() != "one" {
		t.Errorf("line = %q, want one", restored.CurrentLine())
	}

	if err := restored.Advance(); err != nil {
		t.Fatalf("Advance after restore: %v", err)
	}
	if restored.CurrentLine() != "two" {
		t.Errorf("line = %q, want two", restored.CurrentLine())
	}
}

func TestSnapshotRoundTripAwaitingChoice(t *testing.T) {
	chunk := choiceChunk([]string{"Fight", "Flee"}, []string{"You fight.", "You flee."})
	vm := NewVM(chunk, newTestStorage(), newTestHost())

	if err := vm.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	data, err := vm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := NewVM(chunk, newTestStorage(), newTestHost())
	if err := restored.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !restored.IsWaitingForChoice() {
		t.Fatalf("state = %v, want awaiting choice", restored.State())
	}
	choices := restored.CurrentChoices()
	if len(choices) != 2 || choices[1] != "Flee" {
		t.Fatalf("choices = %v", choices)
	}
	if restored.VisitCount(0) != 1 {
		t.Errorf("visit count = %d, want 1", restored.VisitCount(0))
	}

	if err := restored.SelectChoice(1); err != nil {
		t.Fatalf("SelectChoice after restore: %v", err)
	}
	if restored.CurrentLine() != "You flee." {
		t.Errorf("line = %q, want the flee body", restored.CurrentLine())
	}
}

func TestSnapshotPreservesStack(t *testing.T) {
	// A live temp on the stack must survive suspension.
	c := NewChunk()
	c.EmitConstant(IntValue(42)) // temp slot 0
	c.EmitConstant(StringValue("pause"))
	c.Emit(OpLine)
	c.EmitWithOperand(OpLoadLocal, 0)
	c.Emit(OpLine)
	c.Emit(OpReturn)
	c.LocalCount = 1

	vm := NewVM(c, newTestStorage(), newTestHost())
	if err := vm.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	data, err := vm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	restored := NewVM(c, newTestStorage(), newTestHost())
	if err := restored.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := restored.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if restored.CurrentLine() != "42" {
		t.Errorf("line = %q, want 42", restored.CurrentLine())
	}
}

func TestSnapshotDeterministic(t *testing.T) {
	chunk := choiceChunk([]string{"a", "b"}, []string{"la", "lb"})
	vm := NewVM(chunk, newTestStorage(), newTestHost())
	if err := vm.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	first, err := vm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	second, err := vm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("canonical encoding produced differing bytes")
	}
}

func TestRestoreRejectsBadData(t *testing.T) {
	chunk := lineChunk("one")
	vm := NewVM(chunk, newTestStorage(), newTestHost())

	if err := vm.Restore([]byte("not cbor at all")); err == nil {
		t.Errorf("Restore accepted garbage")
	}
}

func TestRestoreValidatesBounds(t *testing.T) {
	big := lineChunk("one", "two", "three", "four")
	vm := NewVM(big, newTestStorage(), newTestHost())
	if err := vm.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := vm.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	data, err := vm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// The snapshot's instruction pointer is out of range for a smaller
	// script.
	small := lineChunk("x")
	vm2 := NewVM(small, newTestStorage(), newTestHost())
	if err := vm2.Restore(data); err == nil {
		t.Errorf("Restore accepted an out-of-range instruction pointer")
	}
}

func TestRestoreValidatesChoiceShape(t *testing.T) {
	chunk := choiceChunk([]string{"a", "b"}, []string{"la", "lb"})
	vm := NewVM(chunk, newTestStorage(), newTestHost())
	if err := vm.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	data, err := vm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// Same code size can still disagree on the choice sets.
	other := choiceChunk([]string{"only"}, []string{"lo"})
	vm2 := NewVM(other, newTestStorage(), newTestHost())
	if err := vm2.Restore(data); err == nil {
		t.Errorf("Restore accepted a mismatched choice set")
	}
}
