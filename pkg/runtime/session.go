package runtime

import (
	"errors"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/bobbin/compiler"
	"github.com/chazu/bobbin/pkg/bytecode"
	"github.com/chazu/bobbin/pkg/storage"
)

var log = commonlog.GetLogger("bobbin.runtime")

// ErrNoScript indicates no script has been loaded into the session.
var ErrNoScript = errors.New("no script loaded")

// ---------------------------------------------------------------------------
// Session: one playthrough of dialogue scripts over shared storage
// ---------------------------------------------------------------------------
//
// A session owns the pieces that outlive a single script: the variable
// storage, the host state, and the global environment from an optional
// prelude. Scripts load and reload against it; the save tier persists
// across loads, the temp tier does not.

// Session drives dialogue scripts for one player profile.
type Session struct {
	globals *compiler.Globals
	storage bytecode.VariableStorage
	host    bytecode.HostState

	source string
	chunk  *bytecode.Chunk
	vm     *bytecode.VM
}

// Options configures a session. Zero values get in-memory defaults.
type Options struct {
	// Prelude is the source of a declarations-only file whose save and
	// extern names are visible to every script in the session.
	Prelude string

	// Storage holds save variables and visit counters.
	Storage bytecode.VariableStorage

	// Host resolves extern variables.
	Host bytecode.HostState
}

// NewSession creates a session. The prelude, if any, is compiled once and
// its save defaults applied to storage immediately.
func NewSession(opts Options) (*Session, error) {
	s := &Session{
		storage: opts.Storage,
		host:    opts.Host,
	}
	if s.storage == nil {
		s.storage = storage.NewMemoryStorage()
	}
	if s.host == nil {
		s.host = storage.NewMapHostState()
	}

	if opts.Prelude != "" {
		globals, err := compiler.CompilePrelude(opts.Prelude)
		if err != nil {
			return nil, err
		}
		s.globals = globals
		s.applyDefaults()
		log.Debugf("prelude declared %d save and %d extern variables",
			len(globals.Saves), len(globals.Externs))
	}

	return s, nil
}

// applyDefaults seeds storage with prelude defaults without clobbering
// values a previous run already persisted.
func (s *Session) applyDefaults() {
	if s.globals == nil {
		return
	}
	for name, def := range s.globals.Defaults {
		s.storage.InitializeIfAbsent(name, def)
	}
}

// Load compiles a script and starts a fresh VM over it. Temp state from
// any previous script is discarded; save state carries over.
func (s *Session) Load(source string) error {
	chunk, err := compiler.CompileWithGlobals(source, s.globals)
	if err != nil {
		return err
	}
	s.source = source
	s.chunk = chunk
	s.vm = bytecode.NewVM(chunk, s.storage, s.host)
	log.Infof("loaded script: %d bytes of code, %d save vars, %d choice sets",
		len(chunk.Code), len(chunk.SaveVars), len(chunk.ChoiceSets))
	return nil
}

// LoadFile reads and loads a script from disk.
func (s *Session) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return s.Load(string(data))
}

// Reload swaps in edited source and restarts from the beginning; an empty
// argument recompiles the current source. Save variables keep their
// persisted values; this is the hot-reload path for script iteration.
func (s *Session) Reload(source string) error {
	if source == "" {
		source = s.source
	}
	if source == "" {
		return ErrNoScript
	}
	return s.Load(source)
}

// Chunk returns the compiled bytecode of the loaded script.
func (s *Session) Chunk() *bytecode.Chunk {
	return s.chunk
}

// Storage returns the session's variable storage.
func (s *Session) Storage() bytecode.VariableStorage {
	return s.storage
}

// ---------------------------------------------------------------------------
// Pull API
// ---------------------------------------------------------------------------

// Advance runs until the next line, choice point, or the end.
func (s *Session) Advance() error {
	if s.vm == nil {
		return ErrNoScript
	}
	return s.vm.Advance()
}

// SelectChoice resumes a waiting VM with the player's pick.
func (s *Session) SelectChoice(index int) error {
	if s.vm == nil {
		return ErrNoScript
	}
	return s.vm.SelectChoice(index)
}

// CurrentLine returns the line produced by the last Advance.
func (s *Session) CurrentLine() string {
	if s.vm == nil {
		return ""
	}
	return s.vm.CurrentLine()
}

// CurrentChoices returns the pending options, or nil when not waiting.
func (s *Session) CurrentChoices() []string {
	if s.vm == nil {
		return nil
	}
	return s.vm.CurrentChoices()
}

// State returns the VM state.
func (s *Session) State() bytecode.State {
	if s.vm == nil {
		return bytecode.StateFinished
	}
	return s.vm.State()
}

// HasMore reports whether the script can still produce content.
func (s *Session) HasMore() bool {
	return s.vm != nil && s.vm.HasMore()
}

// IsWaitingForChoice reports whether SelectChoice is the legal next call.
func (s *Session) IsWaitingForChoice() bool {
	return s.vm != nil && s.vm.IsWaitingForChoice()
}

// VisitCount returns how many times a choice set has been presented.
func (s *Session) VisitCount(setID uint16) uint32 {
	if s.vm == nil {
		return 0
	}
	return s.vm.VisitCount(setID)
}

// ---------------------------------------------------------------------------
// Suspension
// ---------------------------------------------------------------------------

// Snapshot captures the VM's mutable state for later resumption. Save
// variables are not included; the host persists those through storage.
func (s *Session) Snapshot() ([]byte, error) {
	if s.vm == nil {
		return nil, ErrNoScript
	}
	return s.vm.Snapshot()
}

// Restore resumes a snapshot taken over the same compiled script.
func (s *Session) Restore(data []byte) error {
	if s.vm == nil {
		return ErrNoScript
	}
	return s.vm.Restore(data)
}
