package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/meshwatch/meshwatch/pkg/meshproto"
	"github.com/meshwatch/meshwatch/pkg/store"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Inspect and manage stored devices",
}

var nodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active devices and their map state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := openStore(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer s.Close()

		ids, err := s.ActiveDevices(cmd.Context())
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}
		sort.Strings(ids)
		for _, key := range ids {
			printNode(cmd.Context(), cmd.OutOrStdout(), s, key)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d active devices\n", len(ids))
		return nil
	},
}

func printNode(ctx context.Context, w io.Writer, s store.Store, key string) {
	id, err := meshproto.ParseNodeID(key)
	if err != nil {
		return
	}
	dot, err := s.GetDot(ctx, key)
	if err != nil {
		fmt.Fprintf(w, "%s  (no map state)\n", id)
		return
	}
	name := dot.LongName
	if name == "" {
		name = dot.ShortName
	}
	fmt.Fprintf(w, "%-10s  %-24s  %9.5f %9.5f  %s\n",
		id, name, dot.Latitude, dot.Longitude,
		dot.STime.Time().Format("2006-01-02 15:04:05"))
}

var nodesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove all stored data for a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := meshproto.ParseNodeID(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := openStore(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.DeleteDevice(cmd.Context(), id.Key())
		if err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %d keys\n", id, n)
		return nil
	},
}

func init() {
	nodesCmd.AddCommand(nodesListCmd)
	nodesCmd.AddCommand(nodesDeleteCmd)
	rootCmd.AddCommand(nodesCmd)
}
