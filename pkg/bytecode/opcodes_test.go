package bytecode

import "testing"

func TestOpcodeInfoCoversAllOpcodes(t *testing.T) {
	ops := []Opcode{
		OpNop, OpPop, OpPopN, OpConst,
		OpLoadLocal, OpStoreLocal, OpConcat,
		OpInitStorage, OpLoadStorage, OpStoreStorage, OpLoadHost,
		OpJump, OpLine, OpChoice, OpVisit, OpReturn,
	}
	for _, op := range ops {
		info := GetOpcodeInfo(op)
		if info.Name == "" {
			t.Errorf("opcode 0x%02X has no info entry", byte(op))
		}
		if info.Name != op.String() {
			t.Errorf("String() = %q, info name = %q", op.String(), info.Name)
		}
	}
}

func TestOpcodeOperandLengths(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpNop, 0},
		{OpPop, 0},
		{OpPopN, 1},
		{OpConst, 2},
		{OpLoadLocal, 1},
		{OpStoreLocal, 1},
		{OpConcat, 1},
		{OpInitStorage, 2},
		{OpLoadStorage, 2},
		{OpStoreStorage, 2},
		{OpLoadHost, 2},
		{OpJump, 2},
		{OpLine, 0},
		{OpChoice, 2},
		{OpVisit, 2},
		{OpReturn, 0},
	}
	for _, tc := range tests {
		if got := tc.op.OperandLen(); got != tc.want {
			t.Errorf("%s operand length = %d, want %d", tc.op, got, tc.want)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(0xEE)
	if op.String() == "" {
		t.Errorf("unknown opcode should still render")
	}
}
