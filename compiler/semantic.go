package compiler

import "github.com/chazu/bobbin/pkg/bytecode"

// ---------------------------------------------------------------------------
// Semantic analysis: name resolution and static checks
// ---------------------------------------------------------------------------
//
// The resolver walks the AST once, in source order, and produces a binding
// for every name use. Variables must be declared before use. The three
// tiers share one namespace: a name belongs to exactly one of temp, save,
// or extern. Values are statically typed from the declaration literal;
// int and float are distinct types.

// Tier identifies which storage a variable lives in.
type Tier int

const (
	TierTemp   Tier = iota // operand-stack slot, session lifetime
	TierSave               // VariableStorage, persistent
	TierExtern             // host-provided, read-only
)

var tierNames = map[Tier]string{
	TierTemp:   "temp",
	TierSave:   "save",
	TierExtern: "extern",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// Binding is the resolved target of one name use or declaration.
type Binding struct {
	Tier Tier
	Slot int // temp slot or save-variable index; unused for extern
	Name string
	Type bytecode.Type
}

// Globals holds the save and extern declarations visible to a script.
// A prelude produces one; scripts compiled against it see its names as
// already declared.
type Globals struct {
	Saves    []bytecode.SaveVar
	Defaults map[string]bytecode.Value
	Externs  map[string]bool

	saveIdx map[string]int
}

// NewGlobals creates an empty global environment.
func NewGlobals() *Globals {
	return &Globals{
		Defaults: make(map[string]bytecode.Value),
		Externs:  make(map[string]bool),
		saveIdx:  make(map[string]int),
	}
}

// saveIndex returns the index of a declared save variable.
func (g *Globals) saveIndex(name string) (int, bool) {
	idx, ok := g.saveIdx[name]
	return idx, ok
}

// declareSave records a save variable and its default.
func (g *Globals) declareSave(name string, typ bytecode.Type, def bytecode.Value) int {
	idx := len(g.Saves)
	g.Saves = append(g.Saves, bytecode.SaveVar{Name: name, Type: typ})
	g.saveIdx[name] = idx
	g.Defaults[name] = def
	return idx
}

// Clone deep-copies the environment so per-script declarations stay
// local to that compilation.
func (g *Globals) Clone() *Globals {
	c := NewGlobals()
	c.Saves = append([]bytecode.SaveVar(nil), g.Saves...)
	for k, v := range g.Defaults {
		c.Defaults[k] = v
	}
	for k := range g.Externs {
		c.Externs[k] = true
	}
	for k, v := range g.saveIdx {
		c.saveIdx[k] = v
	}
	return c
}

// Symbol records one declaration for downstream tooling: where a name was
// declared and what the resolver decided about it. Type is meaningful for
// the temp and save tiers only; extern types are the host's to know.
type Symbol struct {
	Name string
	Tier Tier
	Type bytecode.Type
	Pos  Position
}

// SymbolTable lists a script's declarations in source order. Sibling
// choice bodies may declare the same temp name; Lookup returns the first.
type SymbolTable []Symbol

// Lookup finds a declaration by name.
func (st SymbolTable) Lookup(name string) (Symbol, bool) {
	for _, sym := range st {
		if sym.Name == name {
			return sym, true
		}
	}
	return Symbol{}, false
}

// Resolution is the resolver's output: one binding per declaring or
// referencing node, keyed by node ID so the AST stays immutable, plus the
// declaration table.
type Resolution struct {
	Bindings   map[NodeID]Binding
	Symbols    SymbolTable
	Globals    *Globals
	LocalCount int // peak live temp slots
}

// scopeEntry is one temp variable in a lexical frame.
type scopeEntry struct {
	name string
	slot int
	typ  bytecode.Type
}

// scopeFrame is the temps of one nesting level. base is the number of
// live slots when the frame opened; siblings reuse the same slot range.
type scopeFrame struct {
	base    int
	entries []scopeEntry
}

// Resolver performs name resolution over a parsed script.
type Resolver struct {
	globals     *Globals
	frames      []scopeFrame
	bindings    map[NodeID]Binding
	symbols     SymbolTable
	localCount  int
	prelude     bool
	fileExterns map[string]bool // externs declared in this file, not inherited
	err         *Error
}

// NewResolver creates a resolver over an existing global environment.
// Pass nil to start empty.
func NewResolver(globals *Globals) *Resolver {
	if globals == nil {
		globals = NewGlobals()
	}
	return &Resolver{
		globals:     globals,
		frames:      []scopeFrame{{}},
		bindings:    make(map[NodeID]Binding),
		fileExterns: make(map[string]bool),
	}
}

// Resolve checks a script and returns its resolution.
func (r *Resolver) Resolve(script *Script) (*Resolution, error) {
	r.resolveStmts(script.Statements)
	if r.err != nil {
		return nil, r.err
	}
	return &Resolution{
		Bindings:   r.bindings,
		Symbols:    r.symbols,
		Globals:    r.globals,
		LocalCount: r.localCount,
	}, nil
}

// ResolvePrelude checks a prelude file: save and extern declarations
// only. The resulting globals seed later script compilations.
func (r *Resolver) ResolvePrelude(script *Script) (*Resolution, error) {
	r.prelude = true
	return r.Resolve(script)
}

func (r *Resolver) failAt(kind ErrorKind, pos Position, format string, args ...interface{}) {
	if r.err == nil {
		r.err = errorAt(kind, pos, format, args...)
	}
}

// liveSlots is the number of temp slots in use across all open frames.
func (r *Resolver) liveSlots() int {
	top := r.frames[len(r.frames)-1]
	return top.base + len(top.entries)
}

// lookupTemp searches open frames innermost-first.
func (r *Resolver) lookupTemp(name string) (scopeEntry, bool) {
	for i := len(r.frames) - 1; i >= 0; i-- {
		for _, e := range r.frames[i].entries {
			if e.name == name {
				return e, true
			}
		}
	}
	return scopeEntry{}, false
}

// declaredTier reports how a name is already bound, if at all.
func (r *Resolver) declaredTier(name string) (Tier, bool) {
	if _, ok := r.lookupTemp(name); ok {
		return TierTemp, true
	}
	if _, ok := r.globals.saveIndex(name); ok {
		return TierSave, true
	}
	if r.globals.Externs[name] {
		return TierExtern, true
	}
	return 0, false
}

func (r *Resolver) resolveStmts(stmts []Stmt) {
	for _, stmt := range stmts {
		if r.err != nil {
			return
		}
		r.resolveStmt(stmt)
	}
}

func (r *Resolver) resolveStmt(stmt Stmt) {
	switch n := stmt.(type) {
	case *SaveDecl:
		r.resolveSaveDecl(n)
	case *TempDecl:
		r.resolveTempDecl(n)
	case *ExternDecl:
		r.resolveExternDecl(n)
	case *SetStmt:
		r.resolveSetStmt(n)
	case *TextLine:
		r.resolveTextLine(n)
	case *ChoiceSet:
		r.resolveChoiceSet(n)
	}
}

func (r *Resolver) resolveSaveDecl(n *SaveDecl) {
	if tier, ok := r.declaredTier(n.Name); ok {
		if tier == TierSave {
			r.failAt(ErrDuplicateDeclaration, n.Span().Start,
				"%q is already declared as save", n.Name)
		} else {
			r.failAt(ErrShadowing, n.Span().Start,
				"%q is already declared as %s", n.Name, tier)
		}
		return
	}
	idx := r.globals.declareSave(n.Name, n.Value.Type(), n.Value)
	r.bindings[n.ID] = Binding{Tier: TierSave, Slot: idx, Name: n.Name, Type: n.Value.Type()}
	r.symbols = append(r.symbols, Symbol{Name: n.Name, Tier: TierSave, Type: n.Value.Type(), Pos: n.Span().Start})
}

func (r *Resolver) resolveTempDecl(n *TempDecl) {
	if r.prelude {
		r.failAt(ErrPreludeStatement, n.Span().Start,
			"temp declarations are not allowed in a prelude")
		return
	}
	top := &r.frames[len(r.frames)-1]
	for _, e := range top.entries {
		if e.name == n.Name {
			r.failAt(ErrDuplicateDeclaration, n.Span().Start,
				"%q is already declared in this scope", n.Name)
			return
		}
	}
	if tier, ok := r.declaredTier(n.Name); ok {
		r.failAt(ErrShadowing, n.Span().Start,
			"%q would shadow a %s variable", n.Name, tier)
		return
	}
	slot := r.liveSlots()
	top.entries = append(top.entries, scopeEntry{name: n.Name, slot: slot, typ: n.Value.Type()})
	if slot+1 > r.localCount {
		r.localCount = slot + 1
	}
	r.bindings[n.ID] = Binding{Tier: TierTemp, Slot: slot, Name: n.Name, Type: n.Value.Type()}
	r.symbols = append(r.symbols, Symbol{Name: n.Name, Tier: TierTemp, Type: n.Value.Type(), Pos: n.Span().Start})
}

func (r *Resolver) resolveExternDecl(n *ExternDecl) {
	if tier, ok := r.declaredTier(n.Name); ok {
		if tier != TierExtern {
			r.failAt(ErrShadowing, n.Span().Start,
				"%q is already declared as %s", n.Name, tier)
			return
		}
		// Re-declaring an extern inherited from the prelude is
		// idempotent; twice in the same file is an error.
		if r.fileExterns[n.Name] {
			r.failAt(ErrDuplicateDeclaration, n.Span().Start,
				"%q is already declared as extern", n.Name)
			return
		}
		r.fileExterns[n.Name] = true
		r.bindings[n.ID] = Binding{Tier: TierExtern, Name: n.Name}
		r.symbols = append(r.symbols, Symbol{Name: n.Name, Tier: TierExtern, Pos: n.Span().Start})
		return
	}
	r.globals.Externs[n.Name] = true
	r.fileExterns[n.Name] = true
	r.bindings[n.ID] = Binding{Tier: TierExtern, Name: n.Name}
	r.symbols = append(r.symbols, Symbol{Name: n.Name, Tier: TierExtern, Pos: n.Span().Start})
}

func (r *Resolver) resolveSetStmt(n *SetStmt) {
	if r.prelude {
		r.failAt(ErrPreludeStatement, n.Span().Start,
			"only save and extern declarations are allowed in a prelude")
		return
	}
	if e, ok := r.lookupTemp(n.Name); ok {
		if e.typ != n.Value.Type() {
			r.failAt(ErrTypeMismatch, n.Span().Start,
				"cannot assign %s to %q of type %s", n.Value.Type(), n.Name, e.typ)
			return
		}
		r.bindings[n.ID] = Binding{Tier: TierTemp, Slot: e.slot, Name: n.Name, Type: e.typ}
		return
	}
	if idx, ok := r.globals.saveIndex(n.Name); ok {
		declared := r.globals.Saves[idx].Type
		if declared != n.Value.Type() {
			r.failAt(ErrTypeMismatch, n.Span().Start,
				"cannot assign %s to %q of type %s", n.Value.Type(), n.Name, declared)
			return
		}
		r.bindings[n.ID] = Binding{Tier: TierSave, Slot: idx, Name: n.Name, Type: declared}
		return
	}
	if r.globals.Externs[n.Name] {
		r.failAt(ErrReadOnlyAssignment, n.Span().Start,
			"%q is an extern variable and cannot be assigned", n.Name)
		return
	}
	r.failAt(ErrUndefinedVariable, n.Span().Start, "undefined variable %q", n.Name)
}

func (r *Resolver) resolveTextLine(n *TextLine) {
	if r.prelude {
		r.failAt(ErrPreludeStatement, n.Span().Start,
			"only save and extern declarations are allowed in a prelude")
		return
	}
	for _, part := range n.Parts {
		ref, ok := part.(*VarRef)
		if !ok {
			continue
		}
		if e, found := r.lookupTemp(ref.Name); found {
			r.bindings[ref.ID] = Binding{Tier: TierTemp, Slot: e.slot, Name: ref.Name, Type: e.typ}
			continue
		}
		if idx, found := r.globals.saveIndex(ref.Name); found {
			r.bindings[ref.ID] = Binding{Tier: TierSave, Slot: idx, Name: ref.Name, Type: r.globals.Saves[idx].Type}
			continue
		}
		if r.globals.Externs[ref.Name] {
			r.bindings[ref.ID] = Binding{Tier: TierExtern, Name: ref.Name}
			continue
		}
		r.failAt(ErrUndefinedVariable, ref.Span().Start, "undefined variable %q", ref.Name)
		return
	}
}

func (r *Resolver) resolveChoiceSet(n *ChoiceSet) {
	if r.prelude {
		r.failAt(ErrPreludeStatement, n.Span().Start,
			"only save and extern declarations are allowed in a prelude")
		return
	}
	for _, choice := range n.Choices {
		if r.err != nil {
			return
		}
		r.resolveTextLine(choice.Text)

		// Each body opens a fresh frame over the same slot range, so
		// sibling bodies reuse slots. Only one body runs per visit.
		r.frames = append(r.frames, scopeFrame{base: r.liveSlots()})
		r.resolveStmts(choice.Body)
		r.frames = r.frames[:len(r.frames)-1]
	}
}
