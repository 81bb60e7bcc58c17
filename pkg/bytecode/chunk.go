package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BytecodeVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// Magic bytes for bytecode files: "BBBC" (Bobbin ByteCode)
var BytecodeMagic = []byte{'B', 'B', 'B', 'C'}

// SaveVar describes a save-tier variable declared by the script: its storage
// name and the static type the resolver inferred from its initializer. The
// VM verifies stored values against this type on every read.
type SaveVar struct {
	Name string
	Type Type
}

// ChoiceSet describes one choice set: a stable id for visit counting and the
// absolute code offset of each option's body, in declaration order.
type ChoiceSet struct {
	ID      uint16
	Targets []uint32
}

// Count returns the number of options in the set.
func (cs *ChoiceSet) Count() int { return len(cs.Targets) }

// LineEntry maps a bytecode offset to a source line for error reporting.
type LineEntry struct {
	Offset uint32 // Offset in code section
	Line   uint32 // Source line number (1-based)
}

// Chunk represents a compiled script: the unit of bytecode that can be
// serialized, disassembled, and executed. Every suspend point in Code falls
// on an instruction boundary, which is what makes VM snapshots plain data.
type Chunk struct {
	// Header
	Version uint16

	// Code section
	Code []byte

	// Constant pool - literal values and interpolation segments
	Constants []Value

	// Save-tier variable table, indexed by the storage opcodes
	SaveVars []SaveVar

	// Choice-set descriptor table, indexed by OpChoice/OpVisit operands
	ChoiceSets []ChoiceSet

	// Number of temp stack slots the script needs at its deepest scope
	LocalCount uint8

	// Source line table (optional)
	Lines []LineEntry
}

// NewChunk creates a new empty chunk with the current version.
func NewChunk() *Chunk {
	return &Chunk{
		Version:   BytecodeVersion,
		Code:      make([]byte, 0, 64),
		Constants: make([]Value, 0, 8),
	}
}

// AddConstant adds a value to the constant pool and returns its index.
// Scalar constants are deduplicated; tables are not (they have no literal
// form, so they never reach the pool in practice).
func (c *Chunk) AddConstant(value Value) uint16 {
	if value.Type() != TypeTable {
		for i, v := range c.Constants {
			if v.Equal(value) {
				return uint16(i)
			}
		}
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, value)
	return idx
}

// GetConstant returns the constant at the given index.
func (c *Chunk) GetConstant(index uint16) Value {
	return c.Constants[index]
}

// AddSaveVar registers a save variable and returns its table index.
// Registering the same name twice returns the existing index.
func (c *Chunk) AddSaveVar(name string, typ Type) uint16 {
	for i, sv := range c.SaveVars {
		if sv.Name == name {
			return uint16(i)
		}
	}
	idx := uint16(len(c.SaveVars))
	c.SaveVars = append(c.SaveVars, SaveVar{Name: name, Type: typ})
	return idx
}

// AddChoiceSet appends a choice-set descriptor with placeholder targets and
// returns its table index. Targets are patched once option bodies are laid
// out.
func (c *Chunk) AddChoiceSet(id uint16, count int) uint16 {
	idx := uint16(len(c.ChoiceSets))
	c.ChoiceSets = append(c.ChoiceSets, ChoiceSet{ID: id, Targets: make([]uint32, count)})
	return idx
}

// PatchChoiceTargets fills in the option targets for a choice set.
func (c *Chunk) PatchChoiceTargets(index uint16, targets []uint32) {
	if int(index) >= len(c.ChoiceSets) {
		panic("PatchChoiceTargets: choice set index out of range")
	}
	if len(targets) != len(c.ChoiceSets[index].Targets) {
		panic("PatchChoiceTargets: target count mismatch")
	}
	c.ChoiceSets[index].Targets = targets
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (c *Chunk) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = append(c.Code, operands...)
	return offset
}

// EmitU16 appends an opcode with a single big-endian u16 operand.
func (c *Chunk) EmitU16(op Opcode, operand uint16) int {
	return c.EmitWithOperand(op, byte(operand>>8), byte(operand))
}

// EmitConstant emits an OpConst instruction for the given value, adding it
// to the pool if not already present.
func (c *Chunk) EmitConstant(value Value) int {
	idx := c.AddConstant(value)
	return c.EmitU16(OpConst, idx)
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder bytes for later patching.
func (c *Chunk) EmitJump() int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(OpJump), 0xFF, 0xFF)
	return offset + 1
}

// PatchJump patches a jump placeholder to jump to the current position.
func (c *Chunk) PatchJump(placeholderOffset int) error {
	return c.PatchJumpTo(placeholderOffset, len(c.Code))
}

// PatchJumpTo patches a jump placeholder to go to a specific offset.
// The operand is a signed 16-bit delta relative to the byte after it; a
// delta outside that range would truncate silently, so it is a compile
// error instead.
func (c *Chunk) PatchJumpTo(placeholderOffset int, target int) error {
	jumpFrom := placeholderOffset + 2
	delta := target - jumpFrom
	if delta < math.MinInt16 || delta > math.MaxInt16 {
		return fmt.Errorf("jump of %d bytes exceeds the 16-bit operand range", delta)
	}
	c.Code[placeholderOffset] = byte(delta >> 8)
	c.Code[placeholderOffset+1] = byte(delta)
	return nil
}

// CurrentOffset returns the offset where the next instruction will be
// emitted.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// AddLine records the source line for a bytecode offset. Consecutive
// identical lines collapse to one entry.
func (c *Chunk) AddLine(offset int, line int) {
	if n := len(c.Lines); n > 0 && c.Lines[n-1].Line == uint32(line) {
		return
	}
	c.Lines = append(c.Lines, LineEntry{Offset: uint32(offset), Line: uint32(line)})
}

// LineForOffset returns the source line for a bytecode offset, or 0 if no
// mapping exists.
func (c *Chunk) LineForOffset(offset int) int {
	for i := len(c.Lines) - 1; i >= 0; i-- {
		if c.Lines[i].Offset <= uint32(offset) {
			return int(c.Lines[i].Line)
		}
	}
	return 0
}

// ---------------------------------------------------------------------------
// Binary serialization
// ---------------------------------------------------------------------------

// Serialize encodes the chunk to bytes for storage/transport.
// Format:
//
//	[magic:4] [version:2]
//	[code_len:4] [code:...]
//	[const_count:2] [constants:...]
//	[save_count:2] [save_vars:...]
//	[set_count:2] [choice_sets:...]
//	[local_count:1]
//	[line_count:2] [lines:...]
func (c *Chunk) Serialize() ([]byte, error) {
	estimatedSize := 8 + len(c.Code) + len(c.Constants)*16 + 64
	buf := make([]byte, 0, estimatedSize)

	buf = append(buf, BytecodeMagic...)
	buf = binary.BigEndian.AppendUint16(buf, c.Version)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(c.Code)))
	buf = append(buf, c.Code...)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Constants)))
	for i, v := range c.Constants {
		encoded, err := appendValue(buf, v)
		if err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
		buf = encoded
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.SaveVars)))
	for _, sv := range c.SaveVars {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(sv.Name)))
		buf = append(buf, sv.Name...)
		buf = append(buf, byte(sv.Type))
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.ChoiceSets)))
	for _, cs := range c.ChoiceSets {
		buf = binary.BigEndian.AppendUint16(buf, cs.ID)
		buf = append(buf, byte(len(cs.Targets)))
		for _, t := range cs.Targets {
			buf = binary.BigEndian.AppendUint32(buf, t)
		}
	}

	buf = append(buf, c.LocalCount)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Lines)))
	for _, le := range c.Lines {
		buf = binary.BigEndian.AppendUint32(buf, le.Offset)
		buf = binary.BigEndian.AppendUint32(buf, le.Line)
	}

	return buf, nil
}

// appendValue encodes one constant as a type tag plus payload.
func appendValue(buf []byte, v Value) ([]byte, error) {
	buf = append(buf, byte(v.Type()))
	switch v.Type() {
	case TypeBool:
		if v.Bool() {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case TypeInt:
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Int()))
	case TypeFloat:
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v.Float()))
	case TypeString:
		s := v.Str()
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	default:
		return nil, fmt.Errorf("type %s has no constant encoding", v.Type())
	}
	return buf, nil
}

// Deserialize decodes a chunk from bytes.
func Deserialize(data []byte) (*Chunk, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("bytecode too short: need at least 6 bytes, got %d", len(data))
	}

	if string(data[0:4]) != string(BytecodeMagic) {
		return nil, fmt.Errorf("invalid bytecode magic: expected %q, got %q", BytecodeMagic, data[0:4])
	}

	c := &Chunk{Version: binary.BigEndian.Uint16(data[4:6])}
	pos := 6

	if c.Version > BytecodeVersion {
		return nil, fmt.Errorf("bytecode version %d is newer than supported version %d", c.Version, BytecodeVersion)
	}

	// Code section
	if pos+4 > len(data) {
		return nil, fmt.Errorf("unexpected end of bytecode reading code length at pos %d", pos)
	}
	codeLen := binary.BigEndian.Uint32(data[pos:])
	pos += 4

	if pos+int(codeLen) > len(data) {
		return nil, fmt.Errorf("unexpected end of bytecode reading code section: need %d bytes at pos %d", codeLen, pos)
	}
	c.Code = make([]byte, codeLen)
	copy(c.Code, data[pos:pos+int(codeLen)])
	pos += int(codeLen)

	// Constants
	if pos+2 > len(data) {
		return nil, fmt.Errorf("unexpected end of bytecode reading constant count")
	}
	constCount := binary.BigEndian.Uint16(data[pos:])
	pos += 2

	c.Constants = make([]Value, constCount)
	for i := range c.Constants {
		v, next, err := readValue(data, pos)
		if err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
		c.Constants[i] = v
		pos = next
	}

	// Save variables
	if pos+2 > len(data) {
		return nil, fmt.Errorf("unexpected end of bytecode reading save var count")
	}
	saveCount := binary.BigEndian.Uint16(data[pos:])
	pos += 2

	c.SaveVars = make([]SaveVar, saveCount)
	for i := range c.SaveVars {
		if pos+2 > len(data) {
			return nil, fmt.Errorf("unexpected end of bytecode reading save var %d name length", i)
		}
		nameLen := binary.BigEndian.Uint16(data[pos:])
		pos += 2

		if pos+int(nameLen)+1 > len(data) {
			return nil, fmt.Errorf("unexpected end of bytecode reading save var %d", i)
		}
		c.SaveVars[i].Name = string(data[pos : pos+int(nameLen)])
		pos += int(nameLen)
		c.SaveVars[i].Type = Type(data[pos])
		pos++
	}

	// Choice sets
	if pos+2 > len(data) {
		return nil, fmt.Errorf("unexpected end of bytecode reading choice set count")
	}
	setCount := binary.BigEndian.Uint16(data[pos:])
	pos += 2

	c.ChoiceSets = make([]ChoiceSet, setCount)
	for i := range c.ChoiceSets {
		if pos+3 > len(data) {
			return nil, fmt.Errorf("unexpected end of bytecode reading choice set %d header", i)
		}
		c.ChoiceSets[i].ID = binary.BigEndian.Uint16(data[pos:])
		pos += 2
		optCount := int(data[pos])
		pos++

		if pos+optCount*4 > len(data) {
			return nil, fmt.Errorf("unexpected end of bytecode reading choice set %d targets", i)
		}
		c.ChoiceSets[i].Targets = make([]uint32, optCount)
		for j := range c.ChoiceSets[i].Targets {
			c.ChoiceSets[i].Targets[j] = binary.BigEndian.Uint32(data[pos:])
			pos += 4
		}
	}

	// Local count
	if pos >= len(data) {
		return nil, fmt.Errorf("unexpected end of bytecode reading local count")
	}
	c.LocalCount = data[pos]
	pos++

	// Line table
	if pos+2 > len(data) {
		return nil, fmt.Errorf("unexpected end of bytecode reading line count")
	}
	lineCount := binary.BigEndian.Uint16(data[pos:])
	pos += 2

	if lineCount > 0 {
		if pos+int(lineCount)*8 > len(data) {
			return nil, fmt.Errorf("unexpected end of bytecode reading line table")
		}
		c.Lines = make([]LineEntry, lineCount)
		for i := range c.Lines {
			c.Lines[i].Offset = binary.BigEndian.Uint32(data[pos:])
			pos += 4
			c.Lines[i].Line = binary.BigEndian.Uint32(data[pos:])
			pos += 4
		}
	}

	return c, nil
}

// readValue decodes one constant starting at pos, returning the value and
// the position after it.
func readValue(data []byte, pos int) (Value, int, error) {
	if pos >= len(data) {
		return Value{}, pos, fmt.Errorf("unexpected end of bytecode reading value tag")
	}
	typ := Type(data[pos])
	pos++

	switch typ {
	case TypeBool:
		if pos >= len(data) {
			return Value{}, pos, fmt.Errorf("unexpected end of bytecode reading bool")
		}
		return BoolValue(data[pos] != 0), pos + 1, nil
	case TypeInt:
		if pos+8 > len(data) {
			return Value{}, pos, fmt.Errorf("unexpected end of bytecode reading int")
		}
		return IntValue(int64(binary.BigEndian.Uint64(data[pos:]))), pos + 8, nil
	case TypeFloat:
		if pos+8 > len(data) {
			return Value{}, pos, fmt.Errorf("unexpected end of bytecode reading float")
		}
		return FloatValue(math.Float64frombits(binary.BigEndian.Uint64(data[pos:]))), pos + 8, nil
	case TypeString:
		if pos+2 > len(data) {
			return Value{}, pos, fmt.Errorf("unexpected end of bytecode reading string length")
		}
		strLen := binary.BigEndian.Uint16(data[pos:])
		pos += 2
		if pos+int(strLen) > len(data) {
			return Value{}, pos, fmt.Errorf("unexpected end of bytecode reading string")
		}
		return StringValue(string(data[pos : pos+int(strLen)])), pos + int(strLen), nil
	default:
		return Value{}, pos, fmt.Errorf("unknown value tag 0x%02X", byte(typ))
	}
}
