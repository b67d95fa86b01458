package cli

import (
	"context"
	"encoding/json"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/bitcheck/internal/config"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(g *Globals) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long: `Display the effective configuration as JSON and which files it was loaded from.
Command line flags of 'run' are not applied.`,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execPrintConfig(o, g)
		},
	}
}

func execPrintConfig(o *IO, g *Globals) error {
	cfg, err := config.Resolve(config.LoadInput{
		WorkDirOverride: g.WorkDir,
		ConfigPath:      g.ConfigPath,
		Env:             g.Env,
	})
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	o.Println(string(data))
	o.Println()
	o.Println("# sources")
	o.Println("effective_cwd=" + cfg.EffectiveCwd)

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		o.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			o.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			o.Println("project_config=" + cfg.Sources.Project)
		}
	}

	err = cfg.Validate()
	if err != nil {
		o.Warn("not runnable as is: %v", err)
	}

	return nil
}
