package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// VM: resumable stack machine driven one step at a time by the host
// ---------------------------------------------------------------------------

// VariableStorage is the host-persisted backing for save-tier variables.
// The VM issues calls strictly one at a time and assumes each call is
// synchronous and atomic; any locking needed to share one storage between
// several VM instances belongs to the implementation.
type VariableStorage interface {
	// Get returns the current value of a save variable.
	Get(name string) (Value, bool)

	// Set writes a save variable.
	Set(name string, value Value)

	// InitializeIfAbsent creates the variable with the given default only
	// if it does not exist yet. Used exclusively for save declarations.
	InitializeIfAbsent(name string, def Value)

	// Contains reports whether a variable exists in storage.
	Contains(name string) bool
}

// HostState is the read-only source of extern-tier values owned by the host
// application.
type HostState interface {
	// Lookup returns the host value for a name, if the host defines it.
	Lookup(name string) (Value, bool)
}

// visitKeyPrefix namespaces the visit counters the VM persists through
// VariableStorage. Scripts cannot declare names containing '/', so these
// never collide with save variables.
const visitKeyPrefix = "__visits/"

// VisitKey returns the storage key under which the counter for a choice set
// is persisted.
func VisitKey(setID uint16) string {
	return visitKeyPrefix + strconv.Itoa(int(setID))
}

// State identifies where the VM is in its host-driven lifecycle.
type State uint8

const (
	// StateIdle is the state after load and before the first Advance.
	StateIdle State = iota

	// StateRunning is transient: the VM only reports it from inside a call.
	StateRunning

	// StateAwaitingAdvance means a line was emitted and the VM waits for
	// Advance.
	StateAwaitingAdvance

	// StateAwaitingChoice means options were presented and the VM waits
	// for SelectChoice.
	StateAwaitingChoice

	// StateFinished means the script ran to its end.
	StateFinished
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateRunning:         "running",
	StateAwaitingAdvance: "awaiting-advance",
	StateAwaitingChoice:  "awaiting-choice",
	StateFinished:        "finished",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ErrInvalidState is returned when Advance or SelectChoice is called in a
// state where it is not legal. The host is the sole pacing driver; calling
// out of turn is a protocol bug, not a recoverable condition.
var ErrInvalidState = errors.New("call not legal in current VM state")

// RuntimeErrorKind classifies the recoverable runtime failures.
type RuntimeErrorKind uint8

const (
	// ErrMissingExternVariable: the host does not define an extern the
	// script referenced.
	ErrMissingExternVariable RuntimeErrorKind = iota

	// ErrMissingSaveVariable: a save variable was read before any of its
	// declarations executed (possible across hot reloads or untaken
	// branches).
	ErrMissingSaveVariable

	// ErrRuntimeTypeVerification: a stored save value disagrees with the
	// declared type. Stored values are never coerced.
	ErrRuntimeTypeVerification

	// ErrInvalidChoiceIndex: SelectChoice index out of bounds.
	ErrInvalidChoiceIndex
)

// RuntimeError describes a runtime failure. The VM stays at the failing
// instruction, so retrying the call after the host fixes the underlying
// condition is expected to succeed.
type RuntimeError struct {
	Kind  RuntimeErrorKind
	Name  string // variable name, when applicable
	Index int    // offending choice index
	Count int    // option count of the pending choice set
	Want  Type   // declared type
	Got   Type   // stored type
}

func (e *RuntimeError) Error() string {
	switch e.Kind {
	case ErrMissingExternVariable:
		return fmt.Sprintf("extern variable '%s' is not provided by the host", e.Name)
	case ErrMissingSaveVariable:
		return fmt.Sprintf("save variable '%s' is not present in storage", e.Name)
	case ErrRuntimeTypeVerification:
		return fmt.Sprintf("save variable '%s' holds a %s but is declared %s", e.Name, e.Got, e.Want)
	case ErrInvalidChoiceIndex:
		return fmt.Sprintf("choice index %d out of bounds (only %d choices)", e.Index, e.Count)
	default:
		return fmt.Sprintf("runtime error (%d)", e.Kind)
	}
}

// VM executes a chunk one host-driven step at a time. All suspension state
// is plain data (instruction pointer, operand stack, visit counters), so a
// VM can be snapshotted at any Awaiting boundary and restored later.
type VM struct {
	chunk *Chunk
	ip    int
	stack []Value
	state State

	currentLine string
	choices     []string // display texts while AwaitingChoice
	pendingSet  uint16   // choice-set table index while AwaitingChoice

	visits map[uint16]uint32

	storage VariableStorage
	host    HostState
}

// NewVM creates a VM over a compiled chunk and the two storage adapters.
// Persisted visit counters for the chunk's choice sets are loaded from
// storage.
func NewVM(chunk *Chunk, storage VariableStorage, host HostState) *VM {
	vm := &VM{
		chunk:   chunk,
		stack:   make([]Value, 0, 16),
		visits:  make(map[uint16]uint32),
		storage: storage,
		host:    host,
	}
	vm.loadVisits()
	return vm
}

// loadVisits restores persisted visit counters for this chunk's choice sets.
func (vm *VM) loadVisits() {
	if vm.storage == nil {
		return
	}
	for _, cs := range vm.chunk.ChoiceSets {
		if v, ok := vm.storage.Get(VisitKey(cs.ID)); ok && v.Type() == TypeInt {
			vm.visits[cs.ID] = uint32(v.Int())
		}
	}
}

// State returns the current lifecycle state.
func (vm *VM) State() State { return vm.state }

// CurrentLine returns the most recently emitted line, or "" before the
// first Advance.
func (vm *VM) CurrentLine() string { return vm.currentLine }

// CurrentChoices returns the pending option texts in declaration order, or
// nil when the VM is not waiting for a choice.
func (vm *VM) CurrentChoices() []string {
	if vm.state != StateAwaitingChoice {
		return nil
	}
	out := make([]string, len(vm.choices))
	copy(out, vm.choices)
	return out
}

// HasMore reports whether the script has content left. It is false iff the
// VM is Finished.
func (vm *VM) HasMore() bool { return vm.state != StateFinished }

// IsWaitingForChoice reports whether the VM is suspended on a choice set.
func (vm *VM) IsWaitingForChoice() bool { return vm.state == StateAwaitingChoice }

// VisitCount returns the current visit counter for a choice-set id.
func (vm *VM) VisitCount(setID uint16) uint32 { return vm.visits[setID] }

// Advance resumes execution until the next suspend point. It is legal in
// Idle (the initial run) and AwaitingAdvance; anywhere else it is a
// protocol error.
func (vm *VM) Advance() error {
	if vm.state != StateIdle && vm.state != StateAwaitingAdvance {
		return fmt.Errorf("advance in state %s: %w", vm.state, ErrInvalidState)
	}
	return vm.run()
}

// SelectChoice resumes execution at option index's body. It is legal only
// in AwaitingChoice. An out-of-range index fails without disturbing the
// pending choice, so the host can retry with a valid index.
func (vm *VM) SelectChoice(index int) error {
	if vm.state != StateAwaitingChoice {
		return fmt.Errorf("select_choice in state %s: %w", vm.state, ErrInvalidState)
	}
	set := &vm.chunk.ChoiceSets[vm.pendingSet]
	if index < 0 || index >= set.Count() {
		return &RuntimeError{Kind: ErrInvalidChoiceIndex, Index: index, Count: set.Count()}
	}
	vm.ip = int(set.Targets[index])
	vm.choices = nil
	return vm.run()
}

// run is the main execution loop. On a runtime error the instruction
// pointer is left at the failing instruction and the state reverts to
// AwaitingAdvance so the host can retry once the condition is fixed.
func (vm *VM) run() error {
	vm.state = StateRunning

	for {
		if vm.ip >= len(vm.chunk.Code) {
			// Finishing without a line means this resume produced none.
			vm.currentLine = ""
			vm.state = StateFinished
			return nil
		}

		op := Opcode(vm.chunk.Code[vm.ip])
		next := vm.ip + 1

		switch op {
		case OpNop:

		case OpPop:
			vm.stack = vm.stack[:len(vm.stack)-1]

		case OpPopN:
			n := int(vm.chunk.Code[next])
			next++
			vm.stack = vm.stack[:len(vm.stack)-n]

		case OpConst:
			idx := vm.readUint16(next)
			next += 2
			vm.push(vm.chunk.Constants[idx])

		case OpLoadLocal:
			slot := vm.chunk.Code[next]
			next++
			vm.push(vm.stack[slot])

		case OpStoreLocal:
			slot := vm.chunk.Code[next]
			next++
			vm.stack[slot] = vm.pop()

		case OpConcat:
			n := int(vm.chunk.Code[next])
			next++
			base := len(vm.stack) - n
			var sb []byte
			for _, v := range vm.stack[base:] {
				sb = append(sb, v.String()...)
			}
			vm.stack = vm.stack[:base]
			vm.push(StringValue(string(sb)))

		case OpInitStorage:
			idx := vm.readUint16(next)
			next += 2
			sv := vm.chunk.SaveVars[idx]
			def := vm.pop()
			vm.storage.InitializeIfAbsent(sv.Name, def)

		case OpLoadStorage:
			idx := vm.readUint16(next)
			next += 2
			sv := vm.chunk.SaveVars[idx]
			val, ok := vm.storage.Get(sv.Name)
			if !ok {
				vm.state = StateAwaitingAdvance
				return &RuntimeError{Kind: ErrMissingSaveVariable, Name: sv.Name}
			}
			if val.Type() != sv.Type {
				vm.state = StateAwaitingAdvance
				return &RuntimeError{Kind: ErrRuntimeTypeVerification, Name: sv.Name, Want: sv.Type, Got: val.Type()}
			}
			vm.push(val)

		case OpStoreStorage:
			idx := vm.readUint16(next)
			next += 2
			sv := vm.chunk.SaveVars[idx]
			vm.storage.Set(sv.Name, vm.pop())

		case OpLoadHost:
			idx := vm.readUint16(next)
			next += 2
			name := vm.chunk.Constants[idx].Str()
			val, ok := vm.host.Lookup(name)
			if !ok {
				vm.state = StateAwaitingAdvance
				return &RuntimeError{Kind: ErrMissingExternVariable, Name: name}
			}
			vm.push(val)

		case OpJump:
			if next+2 > len(vm.chunk.Code) {
				vm.state = StateAwaitingAdvance
				return fmt.Errorf("corrupt bytecode: truncated jump at offset %d", vm.ip)
			}
			delta := int(int16(vm.readUint16(next)))
			next += 2
			next += delta
			if next < 0 || next > len(vm.chunk.Code) {
				vm.state = StateAwaitingAdvance
				return fmt.Errorf("corrupt bytecode: jump at offset %d targets %d", vm.ip, next)
			}

		case OpLine:
			vm.currentLine = vm.pop().String()
			vm.ip = next
			if vm.atEnd() {
				vm.state = StateFinished
			} else {
				vm.state = StateAwaitingAdvance
			}
			return nil

		case OpVisit:
			idx := vm.readUint16(next)
			next += 2
			set := &vm.chunk.ChoiceSets[idx]
			vm.visits[set.ID]++
			if vm.storage != nil {
				vm.storage.Set(VisitKey(set.ID), IntValue(int64(vm.visits[set.ID])))
			}

		case OpChoice:
			idx := vm.readUint16(next)
			next += 2
			set := &vm.chunk.ChoiceSets[idx]
			n := set.Count()
			base := len(vm.stack) - n
			texts := make([]string, n)
			for i, v := range vm.stack[base:] {
				texts[i] = v.String()
			}
			vm.stack = vm.stack[:base]
			vm.choices = texts
			vm.pendingSet = idx
			vm.ip = next
			vm.state = StateAwaitingChoice
			return nil

		case OpReturn:
			vm.ip = next
			vm.currentLine = ""
			vm.state = StateFinished
			return nil

		default:
			vm.state = StateAwaitingAdvance
			return fmt.Errorf("unknown opcode 0x%02X at offset %d", byte(op), vm.ip)
		}

		vm.ip = next
	}
}

// atEnd reports whether only end-of-script instructions remain, following
// jumps and skipping stack cleanup. Used so the last line of a script also
// flips the VM to Finished, matching has_more semantics.
func (vm *VM) atEnd() bool {
	ip := vm.ip
	for {
		if ip >= len(vm.chunk.Code) {
			return true
		}
		switch Opcode(vm.chunk.Code[ip]) {
		case OpReturn:
			return true
		case OpJump:
			if ip+3 > len(vm.chunk.Code) {
				return false
			}
			delta := int(int16(binary.BigEndian.Uint16(vm.chunk.Code[ip+1:])))
			ip = ip + 3 + delta
			if ip < 0 || ip > len(vm.chunk.Code) {
				// Corrupt jump target; run reports it on the next resume.
				return false
			}
		case OpNop:
			ip++
		case OpPop:
			ip++
		case OpPopN:
			ip += 2
		default:
			return false
		}
	}
}

// push appends a value to the operand stack.
func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

// pop removes and returns the top of the operand stack.
func (vm *VM) pop() Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

// readUint16 reads a big-endian u16 operand at the given code offset.
func (vm *VM) readUint16(at int) uint16 {
	return binary.BigEndian.Uint16(vm.chunk.Code[at:])
}
