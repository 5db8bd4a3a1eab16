package bytecode

// OperandWidth reports the fixed inline-operand byte count for op. ok is
// false for the variable-length opcodes (ObjectLit, the destructure pair
// lists, Switch's jump table, NamedExport), which carry their own counts
// and must be decoded by a consumer that understands them.
func OperandWidth(op Op) (width int, ok bool) {
	switch op {
	case OpConstant, OpLdLocal, OpStoreLocal, OpLdExternal, OpStExternal,
		OpLtNumLConst8, OpCall, OpNewCall, OpYield, OpDynamicPropGet,
		OpPostfixIncLocalNum, OpPostfixDecLocalNum, OpPrefixIncLocalNum, OpPrefixDecLocalNum:
		return 1, true
	case OpConstantW, OpLdLocalW, OpStoreLocalW, OpLdGlobal, OpStGlobal,
		OpJmp, OpJmpFalseP, OpJmpTrueP, OpJmpNullishP, OpJmpUndefinedP,
		OpJmpTrueNP, OpJmpFalseNP, OpJmpNullishNP,
		OpReturn, OpClosure, OpArrayLit, OpStaticPropSet, OpStaticDelete,
		OpCallIntrinsic:
		return 2, true
	case OpStaticPropGet:
		return 3, true
	case OpTryBegin, OpLtNumLConst32:
		return 4, true
	case OpStaticImport:
		return 5, true
	case OpObjectLit, OpObjectDestruct, OpArrayDestruct, OpSwitch, OpNamedExport:
		return 0, false
	default:
		return 0, true
	}
}
