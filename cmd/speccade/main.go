// Command speccade is the deterministic procedural asset pipeline CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opd-ai/speccade/pkg/budget"
	"github.com/opd-ai/speccade/pkg/lint"
	"github.com/opd-ai/speccade/pkg/spec"
)

var (
	flagBudget     string
	flagBudgetFile string
	flagJSON       bool
	flagStrict     bool
	flagLogLevel   string
	flagLogJSON    bool
	flagOut        string
	flagDisabled   []string
	flagOnly       []string
	flagCache      string
)

var rootCmd = &cobra.Command{
	Use:   "speccade <command>",
	Short: "deterministic procedural asset pipeline",
	Long: `speccade validates declarative asset specs and generates their
artifacts: WAV sound effects, PNG textures, and XM/IT tracker modules.
The same spec and seed always produce the same bytes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(flagLogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q", flagLogLevel)
		}
		logrus.SetLevel(level)
		if flagLogJSON {
			logrus.SetFormatter(&logrus.JSONFormatter{})
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagBudget, "budget", "default", "budget profile (default, strict, nethercore, zx-8bit)")
	pf.StringVar(&flagBudgetFile, "budget-file", "", "custom budget profile YAML file")
	pf.BoolVar(&flagJSON, "json", false, "machine-readable JSON output")
	pf.BoolVar(&flagStrict, "strict", false, "treat warnings as failures")
	pf.StringVar(&flagLogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.BoolVar(&flagLogJSON, "log-json", false, "JSON log formatting")
	pf.StringSliceVar(&flagDisabled, "disable-rule", nil, "lint rule ids to skip")
	pf.StringSliceVar(&flagOnly, "only-rules", nil, "run only these lint rule ids")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(expandCmd)
	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(watchCmd)
}

// initConfig merges an optional speccade.yaml: flags win over config, which
// wins over defaults. Nothing here ever changes artifact bytes.
func initConfig() {
	viper.SetConfigName("speccade")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.speccade")

	viper.SetDefault("budget", "default")
	viper.SetDefault("out", ".")
	viper.SetDefault("cache", "")

	if err := viper.ReadInConfig(); err == nil {
		if !rootCmd.PersistentFlags().Changed("budget") {
			flagBudget = viper.GetString("budget")
		}
		if flagOut == "" || flagOut == "." {
			flagOut = viper.GetString("out")
		}
		if flagCache == "" {
			flagCache = viper.GetString("cache")
		}
	}
}

// resolveProfile picks the budget profile from the flags.
func resolveProfile() (*budget.Profile, error) {
	if flagBudgetFile != "" {
		return budget.LoadFile(flagBudgetFile)
	}
	return budget.Lookup(flagBudget)
}

func lintOptions() lint.Options {
	return lint.Options{
		DisabledRules: flagDisabled,
		OnlyRules:     flagOnly,
		Strict:        flagStrict,
	}
}

// jsonResult is the machine-readable envelope every command emits with
// --json: a single top-level object with stable codes inside.
type jsonResult struct {
	OK       bool          `json:"ok"`
	Errors   []interface{} `json:"errors"`
	Warnings []interface{} `json:"warnings"`
}

// emitResult prints diagnostics and lint findings in the selected format
// and returns whether the run failed under the severity policy.
func emitResult(ds spec.Diagnostics, issues []lint.Issue) bool {
	failed := ds.HasErrors() || lint.Failed(issues, flagStrict)
	if flagStrict && ds.HasWarnings() {
		failed = true
	}

	if flagJSON {
		res := jsonResult{OK: !failed, Errors: []interface{}{}, Warnings: []interface{}{}}
		for _, d := range ds {
			if d.Severity == spec.SeverityError {
				res.Errors = append(res.Errors, d)
			} else {
				res.Warnings = append(res.Warnings, d)
			}
		}
		for _, is := range issues {
			if is.Severity == lint.SeverityError {
				res.Errors = append(res.Errors, is)
			} else {
				res.Warnings = append(res.Warnings, is)
			}
		}
		out, _ := json.Marshal(res)
		fmt.Println(string(out))
		return failed
	}

	for _, d := range ds {
		fmt.Fprintf(os.Stderr, "%s %s %s: %s\n", d.Severity, d.Code, d.Path, d.Message)
		for _, sg := range d.Suggestions {
			fmt.Fprintf(os.Stderr, "  suggestion: %s %s = %v\n", sg.Op, sg.Path, sg.Value)
		}
	}
	for _, is := range issues {
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", is.Severity, is.RuleID, is.Message)
		if is.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "  suggestion: %s\n", is.Suggestion)
		}
	}
	return failed
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if flagJSON {
			res := jsonResult{OK: false, Errors: []interface{}{err.Error()}, Warnings: []interface{}{}}
			out, _ := json.Marshal(res)
			fmt.Println(string(out))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
