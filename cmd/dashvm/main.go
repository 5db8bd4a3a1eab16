package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v3"
	"github.com/wudi/dashvm/builtins"
	"github.com/wudi/dashvm/compiler"
	"github.com/wudi/dashvm/jit"
	"github.com/wudi/dashvm/value"
	"github.com/wudi/dashvm/vm"
)

func main() {
	app := &cli.Command{
		Name:  "dashvm",
		Usage: "A JavaScript bytecode VM with a tracing JIT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "eval",
				Aliases: []string{"e"},
				Usage:   "Evaluate <code> and print the result",
			},
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Evaluate <file> and print the result",
			},
			&cli.BoolFlag{
				Name:  "no-jit",
				Usage: "Disable the tracing JIT tier",
			},
			&cli.BoolFlag{
				Name:  "jit-stats",
				Usage: "Print JIT counters after execution",
			},
			&cli.IntFlag{
				Name:  "jit-threshold",
				Usage: "Backedge count a loop must exceed before tracing",
				Value: jit.DefaultConfig().HotLoopThreshold,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			machine := newVM(cmd)
			if code := cmd.String("eval"); code != "" {
				return evalAndPrint(machine, cmd, code)
			}
			if path := cmd.String("file"); path != "" {
				src, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				return evalAndPrint(machine, cmd, string(src))
			}
			return repl(machine)
		},
	}
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "dashvm:", err)
		os.Exit(1)
	}
}

func newVM(cmd *cli.Command) *vm.Vm {
	cfg := jit.DefaultConfig()
	cfg.HotLoopThreshold = int(cmd.Int("jit-threshold"))
	machine := vm.New(vm.Options{Jit: cfg, DisableJit: cmd.Bool("no-jit")})
	builtins.Install(machine)
	return machine
}

func evalAndPrint(machine *vm.Vm, cmd *cli.Command, src string) error {
	out, err := eval(machine, src)
	if err != nil {
		return err
	}
	if !out.IsUndefined() {
		fmt.Println(builtins.Inspect(out))
	}
	if cmd.Bool("jit-stats") {
		stats := machine.JitStats()
		fmt.Fprintf(os.Stderr, "jit: compiled=%d poisoned=%d dispatches=%d cache-hits=%d\n",
			stats.TracesCompiled, stats.PoisonedIPs, stats.Dispatches, stats.CacheHits)
	}
	return nil
}

func eval(machine *vm.Vm, src string) (value.Value, error) {
	prog, err := parseSource(src)
	if err != nil {
		return value.Undefined(), err
	}
	compiled, err := compiler.CompileProgram(prog, true)
	if err != nil {
		return value.Undefined(), err
	}
	out, err := machine.Execute(compiled)
	if err != nil {
		var thrown *value.ThrownError
		if errors.As(err, &thrown) {
			return value.Undefined(), fmt.Errorf("uncaught %s", builtins.Inspect(thrown.Value))
		}
		return value.Undefined(), err
	}
	return out, nil
}

func repl(machine *vm.Vm) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyPath(),
		InterruptPrompt: "^C",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("dashvm interactive shell (ctrl-d to exit)")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out, err := eval(machine, line)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if !out.IsUndefined() {
			fmt.Println(builtins.Inspect(out))
		}
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.dashvm_history"
}
