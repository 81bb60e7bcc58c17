package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Snapshot: serializable VM suspension state
// ---------------------------------------------------------------------------
//
// A snapshot captures everything mutable about a VM at an Awaiting boundary:
// instruction pointer, operand stack, current line, pending choice context,
// and visit counters. It deliberately excludes VariableStorage contents
// (the host's save system owns those) and the compiled bytecode (the host
// must retain or recompile the matching script).

// SnapshotVersion is the snapshot format version.
const SnapshotVersion uint16 = 1

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireValue is the CBOR shape of a Value.
type wireValue struct {
	Type  uint8                `cbor:"t"`
	Bool  bool                 `cbor:"b,omitempty"`
	Int   int64                `cbor:"i,omitempty"`
	Float float64              `cbor:"f,omitempty"`
	Str   string               `cbor:"s,omitempty"`
	Table map[string]wireValue `cbor:"m,omitempty"`
}

func toWire(v Value) wireValue {
	w := wireValue{Type: uint8(v.Type())}
	switch v.Type() {
	case TypeBool:
		w.Bool = v.Bool()
	case TypeInt:
		w.Int = v.Int()
	case TypeFloat:
		w.Float = v.Float()
	case TypeString:
		w.Str = v.Str()
	case TypeTable:
		w.Table = make(map[string]wireValue, len(v.Table()))
		for k, val := range v.Table() {
			w.Table[k] = toWire(val)
		}
	}
	return w
}

func fromWire(w wireValue) (Value, error) {
	switch Type(w.Type) {
	case TypeBool:
		return BoolValue(w.Bool), nil
	case TypeInt:
		return IntValue(w.Int), nil
	case TypeFloat:
		return FloatValue(w.Float), nil
	case TypeString:
		return StringValue(w.Str), nil
	case TypeTable:
		m := make(map[string]Value, len(w.Table))
		for k, val := range w.Table {
			decoded, err := fromWire(val)
			if err != nil {
				return Value{}, err
			}
			m[k] = decoded
		}
		return TableValue(m), nil
	default:
		return Value{}, fmt.Errorf("snapshot: unknown value type %d", w.Type)
	}
}

// snapshot is the CBOR shape of a suspended VM.
type snapshot struct {
	Version     uint16            `cbor:"v"`
	State       uint8             `cbor:"st"`
	IP          uint32            `cbor:"ip"`
	Stack       []wireValue       `cbor:"sk"`
	CurrentLine string            `cbor:"ln"`
	Choices     []string          `cbor:"ch,omitempty"`
	PendingSet  uint16            `cbor:"ps"`
	Visits      map[uint16]uint32 `cbor:"vc,omitempty"`
}

// Snapshot serializes the VM's mutable state to CBOR bytes. The VM must be
// at a suspend boundary (Idle, AwaitingAdvance, AwaitingChoice, or
// Finished); by construction it always is between calls.
func (vm *VM) Snapshot() ([]byte, error) {
	if vm.state == StateRunning {
		return nil, fmt.Errorf("snapshot: VM is mid-execution")
	}

	s := snapshot{
		Version:     SnapshotVersion,
		State:       uint8(vm.state),
		IP:          uint32(vm.ip),
		CurrentLine: vm.currentLine,
		PendingSet:  vm.pendingSet,
	}
	s.Stack = make([]wireValue, len(vm.stack))
	for i, v := range vm.stack {
		s.Stack[i] = toWire(v)
	}
	if len(vm.choices) > 0 {
		s.Choices = append([]string(nil), vm.choices...)
	}
	if len(vm.visits) > 0 {
		s.Visits = make(map[uint16]uint32, len(vm.visits))
		for id, n := range vm.visits {
			s.Visits[id] = n
		}
	}

	return cborEncMode.Marshal(s)
}

// Restore replaces the VM's mutable state with a previously captured
// snapshot. The VM must have been created over bytecode identical to the
// snapshot's origin; the restore validates what it can (state, bounds) but
// cannot detect a swapped script.
func (vm *VM) Restore(data []byte) error {
	var s snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	if s.Version > SnapshotVersion {
		return fmt.Errorf("snapshot: version %d is newer than supported version %d", s.Version, SnapshotVersion)
	}

	state := State(s.State)
	switch state {
	case StateIdle, StateAwaitingAdvance, StateAwaitingChoice, StateFinished:
	default:
		return fmt.Errorf("snapshot: not a suspend-boundary state: %s", state)
	}
	if int(s.IP) > len(vm.chunk.Code) {
		return fmt.Errorf("snapshot: instruction pointer %d out of range (code is %d bytes)", s.IP, len(vm.chunk.Code))
	}
	if state == StateAwaitingChoice {
		if int(s.PendingSet) >= len(vm.chunk.ChoiceSets) {
			return fmt.Errorf("snapshot: choice set %d out of range", s.PendingSet)
		}
		if len(s.Choices) != vm.chunk.ChoiceSets[s.PendingSet].Count() {
			return fmt.Errorf("snapshot: %d pending choices but set has %d options",
				len(s.Choices), vm.chunk.ChoiceSets[s.PendingSet].Count())
		}
	}

	stack := make([]Value, len(s.Stack))
	for i, w := range s.Stack {
		v, err := fromWire(w)
		if err != nil {
			return err
		}
		stack[i] = v
	}

	vm.state = state
	vm.ip = int(s.IP)
	vm.stack = stack
	vm.currentLine = s.CurrentLine
	vm.choices = append([]string(nil), s.Choices...)
	vm.pendingSet = s.PendingSet
	vm.visits = make(map[uint16]uint32, len(s.Visits))
	for id, n := range s.Visits {
		vm.visits[id] = n
	}
	return nil
}
