// Package vm implements the stack-based interpreter: a frame stack over
// one shared operand stack, opcode dispatch, the calling convention,
// structured exception unwinding, generator suspension, and the
// loop-backedge hook into the JIT frontend. Frame locals live directly on
// the operand stack at the frame's base, so compiled trace code can
// address them with nothing more than the stack slice and the frame
// pointer.
package vm

import (
	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/heap"
	"github.com/wudi/dashvm/value"
)

// State distinguishes an ordinary function activation from a module
// top-level, which carries an exports object.
type State byte

const (
	StateFunction State = iota
	StateModule
)

// noBinding is the TryBegin binding operand meaning "catch without a
// binding".
const noBinding = 0xFFFF

// TryBlock is one entry of a frame's try-stack, pushed by TryBegin and
// popped by TryEnd or unwound by a throw.
type TryBlock struct {
	CatchIP int
	SP      int
	Binding uint16
}

// Frame is a per-call activation record. Local slots live on the VM's
// shared operand stack at [SP, SP+locals); operands above.
type Frame struct {
	Fn      *heap.Function
	IP      int
	SP      int
	This    value.Value
	HasThis bool
	IsCtor  bool
	State   State
	Exports *heap.PlainObject

	TryStack []TryBlock

	// LoopCounter maps a loop-header IP to its backedge count; crossing
	// the hot threshold hands the header to the JIT frontend.
	LoopCounter map[int]int

	// saved holds the operand-stack slice (locals included) of a
	// suspended generator frame between resumptions.
	saved []value.Value
}

func (f *Frame) compiled() *bytecode.CompiledFunction { return f.Fn.Compiled }
