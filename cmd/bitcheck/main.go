// Package main provides bitcheck, a storage integrity tester that writes
// random files, reads them back past the page cache and compares digests.
package main

import (
	"os"
	"os/signal"
	"strings"

	"github.com/calvinalkan/bitcheck/internal/cli"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, cli.NotifySignals()...)

	exitCode := cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, env, sigCh)

	os.Exit(exitCode)
}
