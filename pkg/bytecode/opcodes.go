package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category; unused ranges are reserved
// for the expression and command instructions that are still undecided.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPop  Opcode = 0x01 // Pop top of stack
	OpPopN Opcode = 0x02 // Pop N values: OpPopN <count:u8>

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConst Opcode = 0x10 // Push constant from pool: OpConst <index:u16>

	// ========================================================================
	// Temp variables - stack slots (0x20-0x2F)
	// ========================================================================

	OpLoadLocal  Opcode = 0x20 // Copy stack[slot] to top: OpLoadLocal <slot:u8>
	OpStoreLocal Opcode = 0x21 // Pop and write to stack[slot]: OpStoreLocal <slot:u8>

	// ========================================================================
	// Text assembly (0x30-0x3F)
	// ========================================================================

	OpConcat Opcode = 0x30 // Pop N values, concatenate as text, push: OpConcat <count:u8>

	// ========================================================================
	// Save variables - storage by name (0x40-0x4F)
	// ========================================================================

	OpInitStorage  Opcode = 0x40 // Pop default, initialize-if-absent: OpInitStorage <save:u16>
	OpLoadStorage  Opcode = 0x41 // Read save variable, verify type, push: OpLoadStorage <save:u16>
	OpStoreStorage Opcode = 0x42 // Pop and write save variable: OpStoreStorage <save:u16>

	// ========================================================================
	// Extern variables - host lookup by name (0x50-0x5F)
	// ========================================================================

	OpLoadHost Opcode = 0x50 // Look up host value by name constant, push: OpLoadHost <name:u16>

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump Opcode = 0x80 // Unconditional relative jump: OpJump <offset:i16>

	// ========================================================================
	// Dialogue suspend points (0x90-0x9F)
	// ========================================================================

	OpLine   Opcode = 0x90 // Pop text, emit as current line, suspend
	OpChoice Opcode = 0x91 // Pop option texts, suspend for selection: OpChoice <set:u16>
	OpVisit  Opcode = 0x92 // Increment visit counter for a choice set: OpVisit <set:u16>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn Opcode = 0xF0 // End of script
)

// OpcodeInfo provides metadata about each opcode for disassembly and
// validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:  {"NOP", 0, 0, 0},
	OpPop:  {"POP", 1, 0, 0},
	OpPopN: {"POP_N", -1, 0, 1},

	OpConst: {"CONST", 0, 1, 2},

	OpLoadLocal:  {"LOAD_LOCAL", 0, 1, 1},
	OpStoreLocal: {"STORE_LOCAL", 1, 0, 1},

	OpConcat: {"CONCAT", -1, 1, 1},

	OpInitStorage:  {"INIT_STORAGE", 1, 0, 2},
	OpLoadStorage:  {"LOAD_STORAGE", 0, 1, 2},
	OpStoreStorage: {"STORE_STORAGE", 1, 0, 2},

	OpLoadHost: {"LOAD_HOST", 0, 1, 2},

	OpJump: {"JUMP", 0, 0, 2},

	OpLine:   {"LINE", 1, 0, 0},
	OpChoice: {"CHOICE", -1, 0, 2},
	OpVisit:  {"VISIT", 0, 0, 2},

	OpReturn: {"RETURN", 0, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with an UNKNOWN name if the opcode is not
// recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable opcode name.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for an opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}
