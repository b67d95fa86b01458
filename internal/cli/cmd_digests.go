package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/bitcheck/pkg/digest"
	"github.com/calvinalkan/bitcheck/pkg/entropy"
)

// DigestsCmd returns the digests command.
func DigestsCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("digests", flag.ContinueOnError),
		Usage: "digests",
		Short: "List digest algorithms and entropy sources",
		Long: `List the digest algorithms in the order "auto" tries them, with the result
of each one's self test, followed by the entropy sources.`,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			execDigests(o)

			return nil
		},
	}
}

func execDigests(o *IO) {
	auto := ""

	for _, s := range digest.Statuses() {
		mark := ""

		if s.Available && auto == "" {
			auto = s.Name
			mark = " (auto)"
		}

		state := "ok"
		if !s.Available {
			state = "unavailable: " + s.Err.Error()
		}

		o.Printf("%d. %-12s %s%s\n", s.Rank, s.Name, state, mark)
	}

	o.Println()
	o.Println("entropy:")

	for i, name := range entropy.Names() {
		o.Printf("%d. %s\n", i+1, name)
	}
}
