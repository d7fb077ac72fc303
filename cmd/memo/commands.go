package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/agentuity/memo/cache"
	"github.com/agentuity/memo/cachekey"
	"github.com/agentuity/memo/env"
	"github.com/agentuity/memo/sys"
	"github.com/agentuity/memo/tui"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
)

type pathInfo struct {
	Path    string `json:"path" yaml:"path"`
	Backend string `json:"backend" yaml:"backend"`
	Exists  bool   `json:"exists" yaml:"exists"`
}

func newPathCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the location of the cache file",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, _ := env.Backend(cmd)
			info := pathInfo{Path: env.CachePath(cmd), Backend: string(backend)}
			_, err := os.Stat(info.Path)
			info.Exists = err == nil
			return render(cmd.OutOrStdout(), opts, info, func(w io.Writer) {
				fmt.Fprintln(w, info.Path)
			})
		},
	}
}

type statsReport struct {
	cache.Stats `yaml:",inline"`
	DiskFree    uint64 `json:"disk_free" yaml:"disk_free"`
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the size of the cache",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, opts, func(ctx context.Context, c *cache.Cache) error {
				st, err := c.Stats(ctx)
				if err != nil {
					return err
				}
				report := statsReport{Stats: st, DiskFree: sys.DiskFree(st.Path)}
				return render(cmd.OutOrStdout(), opts, report, func(w io.Writer) {
					tui.Properties(w, [][2]string{
						{"Path", tui.Directory(st.Path)},
						{"Backend", string(st.Backend)},
						{"Entries", strconv.Itoa(st.Entries)},
						{"Payload", tui.Bytes(uint64(st.PayloadBytes))},
						{"File", tui.Bytes(uint64(st.FileBytes))},
						{"Disk free", tui.Bytes(report.DiskFree)},
					})
				})
			})
		},
	}
}

func parseKeys(args []string) ([]cachekey.Key, error) {
	keys := make([]cachekey.Key, 0, len(args))
	for _, arg := range args {
		key, err := cachekey.Parse(arg)
		if err != nil {
			return nil, errors.Mark(err, errUsage)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	var payload bool
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Show a stored entry",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := parseKeys(args)
			if err != nil {
				return err
			}
			return withCache(cmd, opts, func(ctx context.Context, c *cache.Cache) error {
				entry, found, err := c.Get(ctx, keys[0])
				if err != nil {
					return err
				}
				if !found {
					return errors.Newf("no entry for %s", keys[0])
				}
				if payload {
					_, err := cmd.OutOrStdout().Write(entry.Payload)
					return err
				}
				return render(cmd.OutOrStdout(), opts, entry, func(w io.Writer) {
					tui.Properties(w, [][2]string{
						{"Key", entry.Key.String()},
						{"Format", entry.Format.String()},
						{"Compression", entry.Compression.String()},
						{"Created", entry.CreatedAt.Format(time.RFC3339) + " " + tui.Muted("("+tui.Age(entry.CreatedAt)+")")},
						{"Size", tui.Bytes(uint64(entry.Size))},
					})
				})
			})
		},
	}
	cmd.Flags().BoolVar(&payload, "payload", false, "write the raw decompressed payload instead")
	return cmd
}

type removedReport struct {
	Removed int `json:"removed" yaml:"removed"`
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>...",
		Short: "Remove entries by key",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := parseKeys(args)
			if err != nil {
				return err
			}
			return withCache(cmd, opts, func(ctx context.Context, c *cache.Cache) error {
				n, err := c.Delete(ctx, keys...)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, removedReport{Removed: n}, func(w io.Writer) {
					tui.ShowSuccess(w, "Removed %s", plural(n, "entry"))
				})
			})
		},
	}
}

func newPurgeCommand(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove every entry",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				ok, err := tui.Ask("Remove every entry from "+env.CachePath(cmd)+"?", false)
				if errors.Is(err, tui.ErrNoTerminal) {
					return errors.Mark(errors.New("refusing to purge without a terminal, pass --force"), errUsage)
				}
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			return withCache(cmd, opts, func(ctx context.Context, c *cache.Cache) error {
				n, err := c.Purge(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, removedReport{Removed: n}, func(w io.Writer) {
					tui.ShowSuccess(w, "Purged %s", plural(n, "entry"))
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "do not ask for confirmation")
	return cmd
}

func newPruneCommand(opts *rootOptions) *cobra.Command {
	var olderThan string
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove entries older than a given age",
		Example: "  memo prune --older-than 30d\n" +
			"  memo prune --older-than 1w2d",
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := str2duration.ParseDuration(olderThan)
			if err != nil || age <= 0 {
				return errors.Mark(errors.Newf("invalid --older-than %q", olderThan), errUsage)
			}
			return withCache(cmd, opts, func(ctx context.Context, c *cache.Cache) error {
				n, err := c.Prune(ctx, time.Now().Add(-age))
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, removedReport{Removed: n}, func(w io.Writer) {
					tui.ShowSuccess(w, "Pruned %s older than %s", plural(n, "entry"), olderThan)
				})
			})
		},
	}
	cmd.Flags().StringVar(&olderThan, "older-than", "30d", "minimum age of removed entries, e.g. 12h, 7d or 2w")
	return cmd
}

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check every entry's header and checksum",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, opts, func(ctx context.Context, c *cache.Cache) error {
				var report cache.VerifyReport
				err := tui.ShowSpinner(ctx, "Verifying entries...", func(ctx context.Context) error {
					var err error
					report, err = c.Verify(ctx, remove)
					return err
				})
				if err != nil {
					return err
				}
				err = render(cmd.OutOrStdout(), opts, report, func(w io.Writer) {
					if len(report.Corrupt) == 0 {
						tui.ShowSuccess(w, "Checked %s, all valid", plural(report.Checked, "entry"))
						return
					}
					rows := make([][]string, 0, len(report.Corrupt))
					for _, key := range report.Corrupt {
						rows = append(rows, []string{tui.MaxWidth(key, tui.Width()-4)})
					}
					tui.Table(w, []string{"Corrupt key"}, rows)
					if remove {
						tui.ShowSuccess(w, "Removed %s", plural(report.Removed, "corrupt entry"))
					} else {
						tui.ShowWarning(w, "Found %s, run %s to remove them", plural(len(report.Corrupt), "corrupt entry"), tui.Command("verify", "--delete"))
					}
				})
				if err != nil {
					return err
				}
				if len(report.Corrupt) > 0 && !remove {
					return errors.Newf("%s", plural(len(report.Corrupt), "corrupt entry"))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&remove, "delete", false, "remove corrupt entries")
	return cmd
}

func newCompactCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compact <destination>",
		Short: "Write a defragmented copy of the cache file",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst, err := filepath.Abs(args[0])
			if err != nil {
				return errors.Mark(err, errUsage)
			}
			return withCache(cmd, opts, func(ctx context.Context, c *cache.Cache) error {
				err := tui.ShowSpinner(ctx, "Compacting "+c.Path()+"...", func(ctx context.Context) error {
					return c.Compact(ctx, dst)
				})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, pathInfo{Path: dst, Exists: true}, func(w io.Writer) {
					tui.ShowSuccess(w, "Wrote %s", tui.Directory(dst))
				})
			})
		},
	}
}
