package bytecode

// intrinsicNames is the fixed table behind the call specialization: a
// call to Math.<name> with one of these names compiles to
// CallIntrinsic(id, argc) instead of the generic call sequence. The VM
// re-fetches the live global by name on dispatch, so tampering with the
// Math object is still honored at runtime.
var intrinsicNames = []string{
	"abs", "ceil", "floor", "round", "trunc", "sign",
	"sqrt", "exp", "log", "log2", "pow",
	"sin", "cos", "tan", "random", "min", "max",
}

// IntrinsicID maps a recognized Math member name to its opcode id.
func IntrinsicID(name string) (uint8, bool) {
	for i, n := range intrinsicNames {
		if n == name {
			return uint8(i), true
		}
	}
	return 0, false
}

// IntrinsicName reverse-maps an id back to its name.
func IntrinsicName(id uint8) (string, bool) {
	if int(id) >= len(intrinsicNames) {
		return "", false
	}
	return intrinsicNames[id], true
}
