package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/speccade/pkg/artifact"
	"github.com/opd-ai/speccade/pkg/lint"
	"github.com/opd-ai/speccade/pkg/pipeline"
	"github.com/opd-ai/speccade/pkg/spec"
)

var validateCmd = &cobra.Command{
	Use:   "validate <spec.json>",
	Short: "validate a spec against the contract and budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prof, err := resolveProfile()
		if err != nil {
			return err
		}
		report, _, err := pipeline.Validate(args[0], prof)
		if err != nil {
			return err
		}
		if emitResult(report.Diagnostics, nil) {
			return fmt.Errorf("validation failed")
		}
		return nil
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <spec.json>",
	Short: "generate all declared artifacts and run the lint gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prof, err := resolveProfile()
		if err != nil {
			return err
		}

		opts := &pipeline.Options{Strict: flagStrict, Lint: lintOptions()}
		if flagCache != "" {
			cache, err := pipeline.OpenCache(flagCache)
			if err != nil {
				return err
			}
			defer cache.Close()
			opts.Cache = cache
		}

		report, genErr := pipeline.Generate(args[0], flagOut, prof, opts)
		var ds spec.Diagnostics
		var issues []lint.Issue
		if report != nil {
			ds = report.Diagnostics
			issues = report.Lint
		}
		if emitResult(ds, issues) || genErr != nil {
			if genErr != nil {
				return genErr
			}
			return fmt.Errorf("generate failed")
		}
		return nil
	},
}

var expandCmd = &cobra.Command{
	Use:   "expand <compose-spec.json>",
	Short: "expand a compose spec to canonical tracker params",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prof, err := resolveProfile()
		if err != nil {
			return err
		}
		out, err := pipeline.Expand(args[0], prof)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var lintCmd = &cobra.Command{
	Use:   "lint <artifact> [spec.json]",
	Short: "run the quality rules over a generated artifact",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		var params *spec.AudioParams
		if len(args) == 2 {
			specData, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			s, err := spec.Parse(specData)
			if err != nil {
				return err
			}
			if s.Recipe.Kind == spec.KindAudio {
				params, _ = s.AudioParams()
			}
		}

		opts := lintOptions()
		var issues []lint.Issue
		switch artifact.FormatFor(args[0]) {
		case "wav":
			issues, err = lint.CheckWAV(data, params, &opts)
		case "png":
			issues, err = lint.CheckPNG(data, false, &opts)
		default:
			return fmt.Errorf("lint does not support %q artifacts directly", artifact.FormatFor(args[0]))
		}
		if err != nil {
			return err
		}

		if emitResult(nil, issues) {
			return fmt.Errorf("lint failed")
		}
		return nil
	},
}

var hashCmd = &cobra.Command{
	Use:   "hash <artifact>",
	Short: "print the format-aware BLAKE3 hash of an artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := pipeline.Hash(args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			fmt.Printf("{\"ok\":true,\"hash\":%q}\n", h)
		} else {
			fmt.Println(h)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "regenerate specs in a directory when they change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prof, err := resolveProfile()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sig
			cancel()
		}()

		opts := &pipeline.Options{Strict: flagStrict, Lint: lintOptions()}
		return pipeline.Watch(ctx, args[0], 200*time.Millisecond, func(specPath string) {
			if _, err := pipeline.Generate(specPath, flagOut, prof, opts); err != nil {
				logrus.WithError(err).WithField("spec", specPath).Error("regeneration failed")
			}
		})
	},
}

func init() {
	generateCmd.Flags().StringVar(&flagOut, "out", ".", "artifact output root")
	generateCmd.Flags().StringVar(&flagCache, "cache", "", "artifact cache database path")
	watchCmd.Flags().StringVar(&flagOut, "out", ".", "artifact output root")
}
