package compiler

import (
	"strings"
	"testing"

	"github.com/chazu/bobbin/pkg/bytecode"
	"github.com/chazu/bobbin/pkg/storage"
)

func compile(t *testing.T, input string) *bytecode.Chunk {
	t.Helper()
	chunk, err := CompileSource(input)
	if err != nil {
		t.Fatalf("CompileSource(%q): %v", input, err)
	}
	return chunk
}

func TestCodegenSimpleLine(t *testing.T) {
	chunk := compile(t, "Hello.\n")

	// One constant push, the line emit, and the trailing return.
	want := []bytecode.Opcode{bytecode.OpConst, bytecode.OpLine, bytecode.OpReturn}
	var got []bytecode.Opcode
	for offset := 0; offset < len(chunk.Code); {
		op := bytecode.Opcode(chunk.Code[offset])
		got = append(got, op)
		offset += 1 + op.OperandLen()
	}
	if len(got) != len(want) {
		t.Fatalf("opcodes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("opcode[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCodegenFoldsAdjacentSegments(t *testing.T) {
	chunk := compile(t, "literal {{braces}} collapse\n")
	found := false
	for _, c := range chunk.Constants {
		if c.Type() == bytecode.TypeString && c.Str() == "literal {braces} collapse" {
			found = true
		}
	}
	if !found {
		t.Errorf("constants = %v, want folded segment", chunk.Constants)
	}
}

func TestCodegenSaveVarTable(t *testing.T) {
	chunk := compile(t, "save gold = 10\nsave name = \"Ida\"\n")
	if len(chunk.SaveVars) != 2 {
		t.Fatalf("got %d save vars, want 2", len(chunk.SaveVars))
	}
	if chunk.SaveVars[0].Name != "gold" || chunk.SaveVars[0].Type != bytecode.TypeInt {
		t.Errorf("save[0] = %+v, want gold int", chunk.SaveVars[0])
	}
	if chunk.SaveVars[1].Name != "name" || chunk.SaveVars[1].Type != bytecode.TypeString {
		t.Errorf("save[1] = %+v, want name string", chunk.SaveVars[1])
	}
}

func TestCodegenChoiceTargets(t *testing.T) {
	chunk := compile(t, "- A\n    After A.\n- B\n    After B.\n")
	if len(chunk.ChoiceSets) != 1 {
		t.Fatalf("got %d choice sets, want 1", len(chunk.ChoiceSets))
	}
	set := chunk.ChoiceSets[0]
	if set.Count() != 2 {
		t.Fatalf("got %d targets, want 2", set.Count())
	}
	for i, target := range set.Targets {
		if target == 0 || int(target) >= len(chunk.Code) {
			t.Errorf("target[%d] = %d out of range", i, target)
		}
	}
	if set.Targets[0] >= set.Targets[1] {
		t.Errorf("targets not laid out in order: %v", set.Targets)
	}
}

func TestCodegenLocalCount(t *testing.T) {
	chunk := compile(t, "temp a = 1\n- X\n    temp b = 2\n- Y\n    temp c = 3\n")
	// Sibling bodies reuse the slot above the outer temp.
	if chunk.LocalCount != 2 {
		t.Errorf("LocalCount = %d, want 2", chunk.LocalCount)
	}
}

func TestCodegenSequentialSetIDs(t *testing.T) {
	chunk := compile(t, "- A\n- B\nAnd then.\n- C\n- D\n")
	if len(chunk.ChoiceSets) != 2 {
		t.Fatalf("got %d choice sets, want 2", len(chunk.ChoiceSets))
	}
	if chunk.ChoiceSets[0].ID != 0 || chunk.ChoiceSets[1].ID != 1 {
		t.Errorf("set ids = %d, %d, want 0, 1", chunk.ChoiceSets[0].ID, chunk.ChoiceSets[1].ID)
	}
}

func TestCodegenOversizedChoiceBody(t *testing.T) {
	// A body past the signed 16-bit jump range must fail at compile time,
	// not truncate the gather jump.
	var sb strings.Builder
	sb.WriteString("- Short\n    Fine.\n- Long\n")
	for i := 0; i < 12000; i++ {
		sb.WriteString("    The corridor stretches on.\n")
	}
	if _, err := CompileSource(sb.String()); err == nil {
		t.Fatal("CompileSource accepted a choice body beyond the jump range")
	} else if !strings.Contains(err.Error(), "jump") {
		t.Errorf("err = %v, want a jump range error", err)
	}
}

func TestCodegenLineTable(t *testing.T) {
	chunk := compile(t, "First.\nSecond.\n")
	if len(chunk.Lines) == 0 {
		t.Fatal("no line table entries")
	}
	if got := chunk.LineForOffset(0); got != 1 {
		t.Errorf("LineForOffset(0) = %d, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// End-to-end: compile then execute
// ---------------------------------------------------------------------------

func runAll(t *testing.T, vm *bytecode.VM, picks []int) []string {
	t.Helper()
	var lines []string
	pick := 0
	for i := 0; i < 100 && vm.HasMore(); i++ {
		if vm.IsWaitingForChoice() {
			if pick >= len(picks) {
				t.Fatalf("script wants a choice but no picks left; lines so far: %v", lines)
			}
			if err := vm.SelectChoice(picks[pick]); err != nil {
				t.Fatalf("SelectChoice(%d): %v", picks[pick], err)
			}
			pick++
		} else {
			if err := vm.Advance(); err != nil {
				t.Fatalf("Advance: %v", err)
			}
		}
		if vm.State() == bytecode.StateAwaitingAdvance || vm.State() == bytecode.StateFinished {
			if line := vm.CurrentLine(); line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines
}

func TestCompileAndRunLinear(t *testing.T) {
	chunk := compile(t, "One.\nTwo.\nThree.\n")
	vm := bytecode.NewVM(chunk, storage.NewMemoryStorage(), storage.NewMapHostState())

	lines := runAll(t, vm, nil)
	want := []string{"One.", "Two.", "Three."}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestCompileAndRunInterpolation(t *testing.T) {
	input := "save gold = 10\ntemp mood = \"smug\"\nextern hero\n{hero} is {mood} with {gold} coins.\n"
	chunk := compile(t, input)

	host := storage.NewMapHostState()
	host.Set("hero", bytecode.StringValue("Ida"))
	vm := bytecode.NewVM(chunk, storage.NewMemoryStorage(), host)

	lines := runAll(t, vm, nil)
	if len(lines) != 1 || lines[0] != "Ida is smug with 10 coins." {
		t.Errorf("lines = %v, want the interpolated sentence", lines)
	}
}

func TestCompileAndRunChoices(t *testing.T) {
	input := "Pick one.\n- Fight\n    You fight.\n- Flee\n    You flee.\nDone.\n"
	chunk := compile(t, input)
	vm := bytecode.NewVM(chunk, storage.NewMemoryStorage(), storage.NewMapHostState())

	if err := vm.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if vm.CurrentLine() != "Pick one." {
		t.Errorf("line = %q, want %q", vm.CurrentLine(), "Pick one.")
	}

	if err := vm.Advance(); err != nil {
		t.Fatalf("Advance to choice: %v", err)
	}
	if !vm.IsWaitingForChoice() {
		t.Fatalf("state = %v, want awaiting choice", vm.State())
	}
	choices := vm.CurrentChoices()
	if len(choices) != 2 || choices[0] != "Fight" || choices[1] != "Flee" {
		t.Fatalf("choices = %v, want [Fight Flee]", choices)
	}

	if err := vm.SelectChoice(1); err != nil {
		t.Fatalf("SelectChoice: %v", err)
	}
	if vm.CurrentLine() != "You flee." {
		t.Errorf("line = %q, want %q", vm.CurrentLine(), "You flee.")
	}

	if err := vm.Advance(); err != nil {
		t.Fatalf("Advance past gather: %v", err)
	}
	if vm.CurrentLine() != "Done." {
		t.Errorf("line = %q, want %q", vm.CurrentLine(), "Done.")
	}
	if vm.HasMore() {
		t.Errorf("HasMore after last line = true, want false")
	}
}

func TestCompileAndRunBodyTemps(t *testing.T) {
	input := "temp outer = 1\n- A\n    temp inner = 10\n    inner is {inner}\n- B\n    outer is {outer}\nend {outer}\n"
	chunk := compile(t, input)

	runPath := func(pick int) []string {
		vm := bytecode.NewVM(chunk, storage.NewMemoryStorage(), storage.NewMapHostState())
		return runAll(t, vm, []int{pick})
	}

	gotA := runPath(0)
	wantA := []string{"inner is 10", "end 1"}
	if len(gotA) != 2 || gotA[0] != wantA[0] || gotA[1] != wantA[1] {
		t.Errorf("path A = %v, want %v", gotA, wantA)
	}

	gotB := runPath(1)
	wantB := []string{"outer is 1", "end 1"}
	if len(gotB) != 2 || gotB[0] != wantB[0] || gotB[1] != wantB[1] {
		t.Errorf("path B = %v, want %v", gotB, wantB)
	}
}

func TestCompileAndRunSavePersists(t *testing.T) {
	input := "save visits_here = 0\nset visits_here = 1\n{visits_here}\n"
	chunk := compile(t, input)
	store := storage.NewMemoryStorage()

	vm := bytecode.NewVM(chunk, store, storage.NewMapHostState())
	lines := runAll(t, vm, nil)
	if len(lines) != 1 || lines[0] != "1" {
		t.Fatalf("lines = %v, want [1]", lines)
	}

	// Second run over the same storage: the declaration must not reset
	// the persisted value.
	got, ok := store.Get("visits_here")
	if !ok || !got.Equal(bytecode.IntValue(1)) {
		t.Errorf("stored value = %v, want 1", got)
	}
}

func TestCompileAndRunVisitCounts(t *testing.T) {
	input := "- Stay\n- Go\n"
	chunk := compile(t, input)
	store := storage.NewMemoryStorage()

	vm := bytecode.NewVM(chunk, store, storage.NewMapHostState())
	if err := vm.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got := vm.VisitCount(0); got != 1 {
		t.Errorf("visit count = %d, want 1", got)
	}

	// A fresh VM over the same storage resumes the counter.
	vm2 := bytecode.NewVM(chunk, store, storage.NewMapHostState())
	if got := vm2.VisitCount(0); got != 1 {
		t.Errorf("restored visit count = %d, want 1", got)
	}
	if err := vm2.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got := vm2.VisitCount(0); got != 2 {
		t.Errorf("visit count after second run = %d, want 2", got)
	}
}

func TestCompileWithPrelude(t *testing.T) {
	globals, err := CompilePrelude("save gold = 5\nextern hero\n")
	if err != nil {
		t.Fatalf("CompilePrelude: %v", err)
	}

	chunk, err := CompileWithGlobals("{hero} holds {gold} coins.\n", globals)
	if err != nil {
		t.Fatalf("CompileWithGlobals: %v", err)
	}

	store := storage.NewMemoryStorage()
	for name, def := range globals.Defaults {
		store.InitializeIfAbsent(name, def)
	}
	host := storage.NewMapHostState()
	host.Set("hero", bytecode.StringValue("Ren"))

	vm := bytecode.NewVM(chunk, store, host)
	lines := runAll(t, vm, nil)
	if len(lines) != 1 || lines[0] != "Ren holds 5 coins." {
		t.Errorf("lines = %v, want the prelude-backed sentence", lines)
	}
}

func TestCompileMissingExtern(t *testing.T) {
	chunk := compile(t, "extern hero\nHi {hero}.\n")
	host := storage.NewMapHostState()
	vm := bytecode.NewVM(chunk, storage.NewMemoryStorage(), host)

	err := vm.Advance()
	if err == nil {
		t.Fatal("Advance: expected missing extern error")
	}
	rerr, ok := err.(*bytecode.RuntimeError)
	if !ok || rerr.Kind != bytecode.ErrMissingExternVariable {
		t.Fatalf("err = %v, want missing extern variable", err)
	}

	// Retryable on the same VM once the host supplies the value.
	host.Set("hero", bytecode.StringValue("Mo"))
	if err := vm.Advance(); err != nil {
		t.Fatalf("Advance after supplying extern: %v", err)
	}
	if vm.CurrentLine() != "Hi Mo." {
		t.Errorf("line = %q, want %q", vm.CurrentLine(), "Hi Mo.")
	}
}

func TestCompileAndRunSpendWalkthrough(t *testing.T) {
	input := "save gold = 100\nYou have {gold} gold.\n" +
		"- Spend\n    set gold = 50\n    Spent!\n" +
		"- Keep\n    Kept!\n" +
		"Done.\n"
	chunk := compile(t, input)
	store := storage.NewMemoryStorage()
	vm := bytecode.NewVM(chunk, store, storage.NewMapHostState())

	if err := vm.Advance(); err != nil {
		t.Fatalf("first Advance: %v", err)
	}
	if vm.CurrentLine() != "You have 100 gold." {
		t.Errorf("line = %q, want %q", vm.CurrentLine(), "You have 100 gold.")
	}

	if err := vm.Advance(); err != nil {
		t.Fatalf("Advance to choice: %v", err)
	}
	choices := vm.CurrentChoices()
	if len(choices) != 2 || choices[0] != "Spend" || choices[1] != "Keep" {
		t.Fatalf("choices = %v, want [Spend Keep]", choices)
	}

	if err := vm.SelectChoice(0); err != nil {
		t.Fatalf("SelectChoice(0): %v", err)
	}
	if vm.CurrentLine() != "Spent!" {
		t.Errorf("line = %q, want %q", vm.CurrentLine(), "Spent!")
	}

	if err := vm.Advance(); err != nil {
		t.Fatalf("Advance to gather: %v", err)
	}
	if vm.CurrentLine() != "Done." {
		t.Errorf("line = %q, want %q", vm.CurrentLine(), "Done.")
	}
	if vm.HasMore() {
		t.Error("HasMore after the last line = true, want false")
	}
	if got, ok := store.Get("gold"); !ok || !got.Equal(bytecode.IntValue(50)) {
		t.Errorf("stored gold = %v, want 50", got)
	}
}
