package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/agentuity/memo/cache"
	"github.com/agentuity/memo/env"
	"github.com/agentuity/memo/logger"
	"github.com/agentuity/memo/store"
	"github.com/agentuity/memo/tui"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

var validFormats = []string{"text", "json", "yaml"}

// errUsage marks errors caused by bad arguments or flags.
var errUsage = errors.New("usage")

type rootOptions struct {
	format string
	logger logger.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "memo",
		Short:         "Inspect and maintain a memo result cache",
		Long:          "memo inspects and maintains the persistent result cache used by memoized computations.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.format) {
				return errors.Mark(errors.Newf("invalid format %q: must be one of %v", opts.format, validFormats), errUsage)
			}
			if _, err := env.LogFormat(cmd); err != nil {
				return errors.Mark(err, errUsage)
			}
			if err := env.CheckLogLevel(cmd); err != nil {
				return errors.Mark(err, errUsage)
			}
			if _, err := env.Backend(cmd); err != nil {
				return errors.Mark(err, errUsage)
			}
			opts.logger = env.NewLogger(cmd).WithPrefix("[memo]")
			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return errors.Mark(err, errUsage)
	})

	flags := cmd.PersistentFlags()
	flags.String("path", "", "cache file (default $"+cache.EnvPath+" or the user cache directory)")
	flags.String("backend", "", "store backend, bolt or sqlite (default $"+cache.EnvBackend+" or bolt)")
	flags.String("log-level", "", "log level (default $"+logger.EnvLogLevel+" or info)")
	flags.String("log-format", "text", "log format (text|json)")
	flags.StringVar(&opts.format, "format", "text", "output format (text|json|yaml)")

	cmd.AddCommand(
		newPathCommand(opts),
		newStatsCommand(opts),
		newGetCommand(opts),
		newDeleteCommand(opts),
		newPurgeCommand(opts),
		newPruneCommand(opts),
		newVerifyCommand(opts),
		newCompactCommand(opts),
	)
	return cmd
}

// execute runs cmd and maps its error to an exit code.
func execute(ctx context.Context, cmd *cobra.Command) int {
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitSuccess
	}
	tui.ShowError(cmd.ErrOrStderr(), "%s", err)
	if errors.Is(err, errUsage) {
		return exitUsage
	}
	return exitFailure
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return errors.Mark(err, errUsage)
		}
		return nil
	}
}

func openCache(cmd *cobra.Command, opts *rootOptions) (*cache.Cache, error) {
	backend, err := env.Backend(cmd)
	if err != nil {
		return nil, errors.Mark(err, errUsage)
	}
	path := env.CachePath(cmd)
	opts.logger.Debug("opening %s cache at %s", backend, path)
	return cache.Open(path,
		cache.WithLogger(opts.logger),
		cache.WithStoreOptions(store.WithBackend(backend)),
	)
}

// withCache opens the cache for the duration of fn.
func withCache(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, c *cache.Cache) error) (err error) {
	c, err := openCache(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, c.Close())
	}()
	return fn(cmd.Context(), c)
}

// render writes v as JSON or YAML, or calls text for the text format.
func render(w io.Writer, opts *rootOptions, v any, text func(w io.Writer)) error {
	switch opts.format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	text(w)
	return nil
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	if stem, ok := strings.CutSuffix(word, "y"); ok {
		return fmt.Sprintf("%d %sies", n, stem)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
