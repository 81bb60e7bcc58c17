package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	return c.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable bytecode listing with a name
// header.
func (c *Chunk) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Bobbin Bytecode v%d\n", c.Version))
	if c.LocalCount > 0 {
		sb.WriteString(fmt.Sprintf("; Temp slots: %d\n", c.LocalCount))
	}
	sb.WriteString("\n")

	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, v := range c.Constants {
			display := v.String()
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			display = strings.ReplaceAll(display, "\n", "\\n")
			display = strings.ReplaceAll(display, "\t", "\\t")
			sb.WriteString(fmt.Sprintf(";   [%3d] %s %q\n", i, v.Type(), display))
		}
		sb.WriteString("\n")
	}

	if len(c.SaveVars) > 0 {
		sb.WriteString("; Save variables:\n")
		for i, sv := range c.SaveVars {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s: %s\n", i, sv.Name, sv.Type))
		}
		sb.WriteString("\n")
	}

	if len(c.ChoiceSets) > 0 {
		sb.WriteString("; Choice sets:\n")
		for i, cs := range c.ChoiceSets {
			sb.WriteString(fmt.Sprintf(";   [%3d] id=%d targets=%v\n", i, cs.ID, cs.Targets))
		}
		sb.WriteString("\n")
	}

	// Instructions
	offset := 0
	for offset < len(c.Code) {
		offset = c.disassembleInstruction(&sb, offset)
	}

	return sb.String()
}

// disassembleInstruction writes one instruction and returns the next
// offset.
func (c *Chunk) disassembleInstruction(sb *strings.Builder, offset int) int {
	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)

	sb.WriteString(fmt.Sprintf("%04x  %-14s", offset, info.Name))

	next := offset + 1
	if next+info.OperandLen > len(c.Code) {
		sb.WriteString("  <truncated operand>\n")
		return len(c.Code)
	}

	switch op {
	case OpConst:
		idx := binary.BigEndian.Uint16(c.Code[next:])
		v := c.Constants[idx]
		sb.WriteString(fmt.Sprintf("  %d  ; %q", idx, truncate(v.String())))

	case OpLoadLocal, OpStoreLocal:
		sb.WriteString(fmt.Sprintf("  slot %d", c.Code[next]))

	case OpPopN, OpConcat:
		sb.WriteString(fmt.Sprintf("  %d", c.Code[next]))

	case OpInitStorage, OpLoadStorage, OpStoreStorage:
		idx := binary.BigEndian.Uint16(c.Code[next:])
		sb.WriteString(fmt.Sprintf("  %d  ; %s", idx, c.SaveVars[idx].Name))

	case OpLoadHost:
		idx := binary.BigEndian.Uint16(c.Code[next:])
		sb.WriteString(fmt.Sprintf("  %d  ; %s", idx, c.Constants[idx].Str()))

	case OpJump:
		delta := int(int16(binary.BigEndian.Uint16(c.Code[next:])))
		target := next + 2 + delta
		sb.WriteString(fmt.Sprintf("  %+d  ; -> %04x", delta, target))

	case OpChoice, OpVisit:
		idx := binary.BigEndian.Uint16(c.Code[next:])
		sb.WriteString(fmt.Sprintf("  %d  ; set id=%d", idx, c.ChoiceSets[idx].ID))
	}

	sb.WriteString("\n")
	return next + info.OperandLen
}

func truncate(s string) string {
	if len(s) > 30 {
		return s[:27] + "..."
	}
	return s
}
