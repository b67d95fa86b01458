package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one bitcheck subcommand. Its name is the first word of Usage.
type Command struct {
	Flags *flag.FlagSet

	// Usage follows "bitcheck" in help, e.g. "run [flags] [target-dir]".
	Usage string

	// Short is the line in the command listing; Long (or Short if empty) is
	// shown by "bitcheck <cmd> --help".
	Short string
	Long  string

	// Exec gets the positional args left after flag parsing.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// ExitCodeError carries a specific exit code out of Exec. Err, if set, is
// printed as "error: ..." before exiting.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}

	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error { return e.Err }

// Name returns the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine formats the command for the listing in the global usage.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-26s %s", c.Usage, c.Short)
}

// PrintHelp prints usage, description and flag defaults.
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: bitcheck", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println(desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")

		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.Printf("%s", buf.String())
	}
}

// Run parses args, runs Exec and returns the process exit code. Errors are
// printed here, before collected warnings.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)

			return 0
		}

		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)

		return 1
	}

	err = c.Exec(ctx, o, c.Flags.Args())

	code := 0

	var exitErr *ExitCodeError

	switch {
	case errors.As(err, &exitErr):
		if exitErr.Err != nil {
			o.ErrPrintln("error:", exitErr.Err)
		}

		code = exitErr.Code
	case err != nil:
		o.ErrPrintln("error:", err)

		code = 1
	}

	o.Finish()

	return code
}
