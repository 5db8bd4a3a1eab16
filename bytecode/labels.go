package bytecode

import "fmt"

// LabelKind distinguishes the two label flavours the compiler emits.
type LabelKind byte

const (
	// Local labels are unique within a structural construct (IfEnd,
	// IfBranch{id}, Catch, TryEnd) and patched within one syntactic
	// construct.
	LocalLabel LabelKind = iota
	// Global labels survive across construct boundaries; used for
	// break/continue from nested constructs (LoopCondition, LoopIncrement,
	// LoopEnd, SwitchEnd, SwitchCase{id}).
	GlobalLabel
)

// Label identifies a jump target.
type Label struct {
	Kind LabelKind
	Name string
	ID   int
}

func (l Label) key() string { return fmt.Sprintf("%d:%s:%d", l.Kind, l.Name, l.ID) }

type pendingJump struct {
	patchAt int // byte offset of the i16 displacement operand
}

// JumpContainer accumulates forward jumps to labels not yet declared and
// patches their 16-bit PC-relative displacement once the label is placed.
// Displacements are measured from the byte after the 2-byte operand.
type JumpContainer struct {
	b        *InstructionBuilder
	pending  map[string][]pendingJump
	resolved map[string]int // label key -> PC, once placed
}

func newJumpContainer(b *InstructionBuilder) *JumpContainer {
	return &JumpContainer{b: b, pending: make(map[string][]pendingJump), resolved: make(map[string]int)}
}

// EmitJump emits op followed by a placeholder i16 displacement to label,
// deferring the patch if label has not been placed yet.
func (j *JumpContainer) EmitJump(op Op, label Label) {
	j.b.emitOp(op)
	patchAt := j.b.Len()
	j.b.emitI16(0)
	if pc, ok := j.resolved[label.key()]; ok {
		j.patch(patchAt, pc)
		return
	}
	j.pending[label.key()] = append(j.pending[label.key()], pendingJump{patchAt: patchAt})
}

// Place binds label to the current instruction-stream position and patches
// every jump recorded against it so far.
func (j *JumpContainer) Place(label Label) {
	pc := j.b.Len()
	j.resolved[label.key()] = pc
	for _, pj := range j.pending[label.key()] {
		j.patch(pj.patchAt, pc)
	}
	delete(j.pending, label.key())
}

func (j *JumpContainer) patch(patchAt int, targetPC int) {
	// Displacement is PC-relative from the byte after the 2-byte operand.
	disp := targetPC - (patchAt + 2)
	j.b.PatchU16(patchAt, uint16(int16(disp)))
}

// Unresolved reports labels that were jumped to but never placed; the
// compiler treats this as an internal invariant violation, since the
// displacement would point at the emission site instead of a real
// instruction boundary.
func (j *JumpContainer) Unresolved() []string {
	var out []string
	for k := range j.pending {
		out = append(out, k)
	}
	return out
}
