package builtins

import (
	"math"
	"math/rand"

	"github.com/wudi/dashvm/heap"
	"github.com/wudi/dashvm/value"
	"github.com/wudi/dashvm/vm"
)

// installMath registers the Math members the compiler's intrinsic table
// recognizes, plus the usual constants. Each member is an
// ordinary native function: the CallIntrinsic opcode re-fetches it from
// the live global, so replacing Math.abs at runtime behaves like the
// generic call path would.
func installMath(v *vm.Vm, h *heap.Heap) {
	m := h.NewPlainObject()

	unary := func(name string, fn func(float64) float64) {
		m.SetHidden(name, native(h, name, func(ctx *heap.CallContext) (value.Value, error) {
			n, err := value.ToNumber(ctx.Arg(0), ctx.Invoker)
			if err != nil {
				return value.Undefined(), err
			}
			return value.Number(fn(n)), nil
		}))
	}

	unary("abs", math.Abs)
	unary("ceil", math.Ceil)
	unary("floor", math.Floor)
	unary("round", math.Round)
	unary("trunc", math.Trunc)
	unary("sqrt", math.Sqrt)
	unary("exp", math.Exp)
	unary("log", math.Log)
	unary("log2", math.Log2)
	unary("sin", math.Sin)
	unary("cos", math.Cos)
	unary("tan", math.Tan)
	unary("sign", func(n float64) float64 {
		switch {
		case math.IsNaN(n):
			return math.NaN()
		case n > 0:
			return 1
		case n < 0:
			return -1
		default:
			return n
		}
	})

	m.SetHidden("pow", native(h, "pow", func(ctx *heap.CallContext) (value.Value, error) {
		a, err := value.ToNumber(ctx.Arg(0), ctx.Invoker)
		if err != nil {
			return value.Undefined(), err
		}
		b, err := value.ToNumber(ctx.Arg(1), ctx.Invoker)
		if err != nil {
			return value.Undefined(), err
		}
		return value.Number(math.Pow(a, b)), nil
	}))

	m.SetHidden("random", native(h, "random", func(ctx *heap.CallContext) (value.Value, error) {
		return value.Number(rand.Float64()), nil
	}))

	variadic := func(name string, empty float64, pick func(a, b float64) float64) {
		m.SetHidden(name, native(h, name, func(ctx *heap.CallContext) (value.Value, error) {
			acc := empty
			for _, a := range ctx.Args {
				n, err := value.ToNumber(a, ctx.Invoker)
				if err != nil {
					return value.Undefined(), err
				}
				if math.IsNaN(n) {
					return value.Number(math.NaN()), nil
				}
				acc = pick(acc, n)
			}
			return value.Number(acc), nil
		}))
	}
	variadic("min", math.Inf(1), math.Min)
	variadic("max", math.Inf(-1), math.Max)

	m.SetHidden("PI", value.Number(math.Pi))
	m.SetHidden("E", value.Number(math.E))

	v.SetGlobal("Math", value.FromObject(m))
}
