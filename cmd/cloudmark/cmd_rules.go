package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/cloudmark/internal/plugin"
	"github.com/yairfalse/cloudmark/internal/rule"
	"github.com/yairfalse/cloudmark/internal/ruleset"
)

// rulesCmd represents the rules command
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the rules an evaluation would run",
	Example: `  cloudmark rules                      # Built-in rules
  cloudmark rules -r team.yaml         # Built-in plus file rules
  cloudmark rules --no-builtin -r team.yaml`,
	Args: cobra.NoArgs,
	RunE: runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)

	addRuleFlags(rulesCmd)
}

func runRules(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	reg, err := ruleset.Load(cmd.Context(), ruleset.Options{
		Builtin: cfg.Rules.BuiltinEnabled(),
		Files:   cfg.Rules.Files,
		Disable: cfg.Rules.Disable,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	return errors.Join(printRules(cmd.OutOrStdout(), reg), reg.Done())
}

func printRules(out io.Writer, reg *plugin.Registry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tFINDING")
	for _, p := range reg.All() {
		kind, finding := describeRule(p)
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name(), kind, finding)
	}
	return w.Flush()
}

func describeRule(p rule.Plugin) (kind, finding string) {
	switch r := p.(type) {
	case *rule.FlagRule:
		return "flag", r.FindingTag()
	case *rule.RegoRule:
		return "rego", r.FindingTag()
	default:
		return "plugin", "-"
	}
}
