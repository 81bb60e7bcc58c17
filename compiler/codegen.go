package compiler

import (
	"fmt"
	"strings"

	"github.com/chazu/bobbin/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Code generation: AST to bytecode
// ---------------------------------------------------------------------------
//
// The generator is a single tree walk. Temp variables live on the operand
// stack: at every statement boundary the stack height equals the number of
// live temps, so a temp's binding slot is its stack index. Choice bodies
// pop their own temps before jumping to the gather point, which keeps the
// height identical on every path.

// Generator lowers a resolved script to a bytecode chunk.
type Generator struct {
	chunk     *bytecode.Chunk
	res       *Resolution
	nextSetID uint16
}

// Generate compiles a resolved script into a chunk.
func Generate(script *Script, res *Resolution) (*bytecode.Chunk, error) {
	g := &Generator{
		chunk: bytecode.NewChunk(),
		res:   res,
	}

	// Save variables declared in the environment (prelude plus this
	// script) occupy the chunk's save table in declaration order, so
	// resolver indices and chunk indices agree.
	for _, sv := range res.Globals.Saves {
		g.chunk.AddSaveVar(sv.Name, sv.Type)
	}

	if err := g.genStmts(script.Statements); err != nil {
		return nil, err
	}

	g.chunk.Emit(bytecode.OpReturn)
	g.chunk.LocalCount = uint8(res.LocalCount)
	return g.chunk, nil
}

func (g *Generator) genStmts(stmts []Stmt) error {
	for _, stmt := range stmts {
		if err := g.genStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) genStmt(stmt Stmt) error {
	g.chunk.AddLine(g.chunk.CurrentOffset(), stmt.Span().Start.Line)

	switch n := stmt.(type) {
	case *SaveDecl:
		return g.genSaveDecl(n)
	case *TempDecl:
		return g.genTempDecl(n)
	case *ExternDecl:
		return nil // declaration only, no code
	case *SetStmt:
		return g.genSetStmt(n)
	case *TextLine:
		return g.genTextLine(n)
	case *ChoiceSet:
		return g.genChoiceSet(n)
	default:
		return fmt.Errorf("codegen: unexpected statement %T", stmt)
	}
}

// binding looks up the resolver's verdict for a node.
func (g *Generator) binding(id NodeID) (Binding, error) {
	b, ok := g.res.Bindings[id]
	if !ok {
		return Binding{}, fmt.Errorf("codegen: node %d has no binding", id)
	}
	return b, nil
}

// genSaveDecl initializes the save variable if the storage does not hold
// it yet. Re-running a script never clobbers persisted progress.
func (g *Generator) genSaveDecl(n *SaveDecl) error {
	b, err := g.binding(n.ID)
	if err != nil {
		return err
	}
	g.chunk.EmitConstant(n.Value)
	g.chunk.EmitU16(bytecode.OpInitStorage, uint16(b.Slot))
	return nil
}

// genTempDecl pushes the default value; the value stays on the stack at
// the binding's slot for the temp's lifetime.
func (g *Generator) genTempDecl(n *TempDecl) error {
	g.chunk.EmitConstant(n.Value)
	return nil
}

func (g *Generator) genSetStmt(n *SetStmt) error {
	b, err := g.binding(n.ID)
	if err != nil {
		return err
	}
	g.chunk.EmitConstant(n.Value)
	switch b.Tier {
	case TierTemp:
		g.chunk.EmitWithOperand(bytecode.OpStoreLocal, byte(b.Slot))
	case TierSave:
		g.chunk.EmitU16(bytecode.OpStoreStorage, uint16(b.Slot))
	default:
		return fmt.Errorf("codegen: set targets %s variable %q", b.Tier, b.Name)
	}
	return nil
}

// emitTextParts pushes the composed text of a line as a single string.
// Adjacent literal segments fold into one constant at compile time.
func (g *Generator) emitTextParts(parts []TextPart) error {
	pushed := 0
	var pending strings.Builder

	flush := func() {
		if pending.Len() == 0 {
			return
		}
		g.chunk.EmitConstant(bytecode.StringValue(pending.String()))
		pending.Reset()
		pushed++
	}

	for _, part := range parts {
		switch p := part.(type) {
		case *TextSegment:
			pending.WriteString(p.Text)

		case *VarRef:
			flush()
			b, err := g.binding(p.ID)
			if err != nil {
				return err
			}
			switch b.Tier {
			case TierTemp:
				g.chunk.EmitWithOperand(bytecode.OpLoadLocal, byte(b.Slot))
			case TierSave:
				g.chunk.EmitU16(bytecode.OpLoadStorage, uint16(b.Slot))
			case TierExtern:
				idx := g.chunk.AddConstant(bytecode.StringValue(b.Name))
				g.chunk.EmitU16(bytecode.OpLoadHost, idx)
			}
			pushed++

		default:
			return fmt.Errorf("codegen: unexpected text part %T", part)
		}
	}
	flush()

	if pushed == 0 {
		g.chunk.EmitConstant(bytecode.StringValue(""))
		pushed = 1
	}
	if pushed > 1 {
		g.chunk.EmitWithOperand(bytecode.OpConcat, byte(pushed))
	}
	return nil
}

func (g *Generator) genTextLine(n *TextLine) error {
	if err := g.emitTextParts(n.Parts); err != nil {
		return err
	}
	g.chunk.AddLine(g.chunk.CurrentOffset(), n.Span().Start.Line)
	g.chunk.Emit(bytecode.OpLine)
	return nil
}

// genChoiceSet lowers a choice set: count the visit, push the option
// texts, suspend on OpChoice, then lay out the bodies back to back, each
// ending with a jump to the shared gather point.
func (g *Generator) genChoiceSet(n *ChoiceSet) error {
	setID := g.nextSetID
	g.nextSetID++
	idx := g.chunk.AddChoiceSet(setID, len(n.Choices))

	g.chunk.EmitU16(bytecode.OpVisit, idx)

	for _, choice := range n.Choices {
		if err := g.emitTextParts(choice.Text.Parts); err != nil {
			return err
		}
	}
	g.chunk.EmitU16(bytecode.OpChoice, idx)

	targets := make([]uint32, len(n.Choices))
	jumps := make([]int, 0, len(n.Choices))

	for i, choice := range n.Choices {
		targets[i] = uint32(g.chunk.CurrentOffset())

		if err := g.genStmts(choice.Body); err != nil {
			return err
		}

		// Discard this body's own temps so every path reaches the
		// gather point at the same stack height.
		temps := 0
		for _, stmt := range choice.Body {
			if _, ok := stmt.(*TempDecl); ok {
				temps++
			}
		}
		if temps > 0 {
			g.chunk.EmitWithOperand(bytecode.OpPopN, byte(temps))
		}

		jumps = append(jumps, g.chunk.EmitJump())
	}

	for _, placeholder := range jumps {
		if err := g.chunk.PatchJump(placeholder); err != nil {
			return fmt.Errorf("choice set at line %d: %w", n.Span().Start.Line, err)
		}
	}
	g.chunk.PatchChoiceTargets(idx, targets)
	return nil
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// CompileSource runs the full pipeline on a standalone script.
func CompileSource(src string) (*bytecode.Chunk, error) {
	return CompileWithGlobals(src, nil)
}

// CompileWithGlobals compiles a script against an existing global
// environment, typically produced by CompilePrelude. The environment is
// cloned; compiling one script never leaks declarations into the next.
func CompileWithGlobals(src string, globals *Globals) (*bytecode.Chunk, error) {
	script, err := Parse(src)
	if err != nil {
		return nil, err
	}
	var env *Globals
	if globals != nil {
		env = globals.Clone()
	}
	res, err := NewResolver(env).Resolve(script)
	if err != nil {
		return nil, err
	}
	return Generate(script, res)
}

// CompilePrelude checks a prelude file and returns its global
// environment. Preludes produce no bytecode; their save defaults are
// applied by the session at load time.
func CompilePrelude(src string) (*Globals, error) {
	script, err := Parse(src)
	if err != nil {
		return nil, err
	}
	res, err := NewResolver(nil).ResolvePrelude(script)
	if err != nil {
		return nil, err
	}
	return res.Globals, nil
}
