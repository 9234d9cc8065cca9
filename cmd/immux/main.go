// Command immux is the engine-only CLI: every subcommand opens the store
// directly and bypasses the transaction manager entirely, writing each
// mutation non-transactionally (§6 CLI surface, Open Question 4).
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/ledgerwatch/immuxdb/chainheight"
	"github.com/ledgerwatch/immuxdb/command"
	"github.com/ledgerwatch/immuxdb/config"
	"github.com/ledgerwatch/immuxdb/content"
	"github.com/ledgerwatch/immuxdb/ecc"
	"github.com/ledgerwatch/immuxdb/executor"
	"github.com/ledgerwatch/immuxdb/grouping"
	"github.com/ledgerwatch/immuxdb/storeengine"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	dataDir    string
	eccMode    string
	maxKeySize string
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "immux",
	Short: "Engine-only command-line client for an immux store",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "store directory (defaults to config.Default())")
	rootCmd.PersistentFlags().StringVar(&eccMode, "ecc-mode", "", "Identity|TMR")
	rootCmd.PersistentFlags().StringVar(&maxKeySize, "max-key-size", "", "ceiling on a single key's length, e.g. 8KB")

	rootCmd.AddCommand(getCmd, setCmd, revertOneCmd, revertAllCmd, removeOneCmd, removeAllCmd, inspectCmd)
}

func openExecutor() (*executor.Executor, func(), error) {
	prefs, err := resolvePreferences()
	if err != nil {
		return nil, nil, err
	}
	engine, err := storeengine.Open(prefs.LogDir, prefs.ECCMode)
	if err != nil {
		return nil, nil, fmt.Errorf("immux: open store: %w", err)
	}

	srv := storeengine.NewServer(engine)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()

	return executor.New(srv, prefs.MaxKeySize), func() {
		cancel()
		<-done
		engine.Close()
	}, nil
}

func resolvePreferences() (config.Preferences, error) {
	base := config.Default()
	if dataDir != "" {
		base.LogDir = dataDir
	}
	prefs, err := config.Load(base.LogDir)
	if err != nil {
		return config.Preferences{}, err
	}
	return config.ApplyFlags(prefs, config.Flags{DataDir: dataDir, ECCMode: eccMode, MaxKeySize: maxKeySize})
}

var getCmd = &cobra.Command{
	Use:   "get <grouping> <key>",
	Short: "Print the current value of a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, closeFn, err := openExecutor()
		if err != nil {
			return err
		}
		defer closeFn()

		label := grouping.LabelFromString(args[0])
		key := grouping.UnitKeyFromString(args[1])
		value, ok, err := x.Get(cmd.Context(), label, key, nil)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("immux: key %s/%s not found", args[0], args[1])
		}
		fmt.Println(value.String())
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <grouping> <key> <value>",
	Short: "Set a key to a string value",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, closeFn, err := openExecutor()
		if err != nil {
			return err
		}
		defer closeFn()

		label := grouping.LabelFromString(args[0])
		key := grouping.UnitKeyFromString(args[1])
		return x.Insert(cmd.Context(), label, key, content.String(args[2]), nil)
	},
}

var revertOneCmd = &cobra.Command{
	Use:   "revert_one <grouping> <key> <height>",
	Short: "Revert a key to its value at a past height",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		height, err := parseHeight(args[2])
		if err != nil {
			return err
		}
		x, closeFn, err := openExecutor()
		if err != nil {
			return err
		}
		defer closeFn()

		label := grouping.LabelFromString(args[0])
		key := grouping.UnitKeyFromString(args[1])
		return x.RevertOne(cmd.Context(), label, key, height, nil)
	},
}

var revertAllCmd = &cobra.Command{
	Use:   "revert_all <height>",
	Short: "Revert the entire store to a past height",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		height, err := parseHeight(args[0])
		if err != nil {
			return err
		}
		x, closeFn, err := openExecutor()
		if err != nil {
			return err
		}
		defer closeFn()
		return x.RevertAll(cmd.Context(), height)
	},
}

var removeOneCmd = &cobra.Command{
	Use:   "remove_one <grouping> <key>",
	Short: "Delete a single key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, closeFn, err := openExecutor()
		if err != nil {
			return err
		}
		defer closeFn()

		label := grouping.LabelFromString(args[0])
		key := grouping.UnitKeyFromString(args[1])
		return x.RemoveOne(cmd.Context(), label, key, nil)
	},
}

var removeAllCmd = &cobra.Command{
	Use:   "remove_all",
	Short: "Delete every key in the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		x, closeFn, err := openExecutor()
		if err != nil {
			return err
		}
		defer closeFn()
		return x.RemoveAll(cmd.Context())
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <grouping> [key]",
	Short: "Print the full history of a key, or the whole log if key is omitted",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, closeFn, err := openExecutor()
		if err != nil {
			return err
		}
		defer closeFn()

		if len(args) == 2 {
			outcome, err := x.InspectOne(cmd.Context(), grouping.LabelFromString(args[0]), grouping.UnitKeyFromString(args[1]))
			if err != nil {
				return err
			}
			renderHistory(outcome.History)
			return nil
		}
		outcome, err := x.InspectAll(cmd.Context())
		if err != nil {
			return err
		}
		renderHistory(outcome.History)
		return nil
	},
}

// renderHistory prints history as a table: height, command. Mirrors the
// original CLI's plain-text inspect dump, upgraded to tablewriter's
// aligned output.
func renderHistory(history []command.CommandAtHeight) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Height", "Command"})
	for _, entry := range history {
		table.Append([]string{strconv.FormatUint(uint64(entry.Height), 10), entry.Command.String()})
	}
	table.Render()
}

func parseHeight(raw string) (chainheight.Height, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("immux: invalid height %q: %w", raw, err)
	}
	return chainheight.New(v), nil
}
