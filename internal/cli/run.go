package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitMismatch    = 2
	ExitInterrupted = 130
)

// Globals are the values every command may need: global flags, the
// environment and the process signal channel.
type Globals struct {
	WorkDir    string
	ConfigPath string
	Env        map[string]string

	// Signals delivers SIGINT/SIGTERM (interrupt) and SIGUSR1 (stop after
	// the current pass). May be nil.
	Signals <-chan os.Signal
}

// Run is the main entry point. Returns exit code.
func Run(_ io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("bitcheck", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.SetOutput(&strings.Builder{})

	workDir := globalFlags.StringP("cwd", "C", "", "Run as if started in `dir`")
	configPath := globalFlags.StringP("config", "c", "", "Use specified config `file`")
	help := globalFlags.BoolP("help", "h", false, "Show help")

	err := globalFlags.Parse(args[min(1, len(args)):])
	if err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut, "Run 'bitcheck --help' for usage.")

		return ExitError
	}

	g := &Globals{WorkDir: *workDir, ConfigPath: *configPath, Env: env, Signals: sigCh}
	commands := []*Command{RunCmd(g), DigestsCmd(), PrintConfigCmd(g)}

	rest := globalFlags.Args()
	if *help || len(rest) == 0 {
		printUsage(out, commands)

		return ExitOK
	}

	if rest[0] == "help" {
		printUsage(out, commands)

		return ExitOK
	}

	for _, cmd := range commands {
		if cmd.Name() == rest[0] {
			return cmd.Run(context.Background(), NewIO(out, errOut), rest[1:])
		}
	}

	fprintln(errOut, "error:", fmt.Errorf("%w: %s", errUnknownCommand, rest[0]))
	printUsage(errOut, commands)

	return ExitError
}

var errUnknownCommand = errors.New("unknown command")

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, commands []*Command) {
	fprintln(w, `bitcheck - verify that storage returns the bytes it was given

Usage: bitcheck [options] <command> [args]

Options:
  -C, --cwd <dir>        Run as if started in <dir>
  -c, --config <file>    Use specified config file
  -h, --help             Show help

Commands:`)

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}

	fprintln(w, `
Exit status: 0 no mismatches, 2 mismatches found, 1 error, 130 interrupted.`)
}
