package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"lifxsync/internal/store"
)

var devicesJSON bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the stored mode and enabled flag of every known bulb",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := store.Open(log, cfg.Store.Driver, cfg.Store.Path)
		if err != nil {
			return err
		}
		defer s.Close()

		devices, err := s.Devices(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if devicesJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(devices)
		}
		if len(devices) == 0 {
			fmt.Fprintln(out, "No stored bulb settings")
			return nil
		}

		addrs := lo.Keys(devices)
		slices.Sort(addrs)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tMODE\tENABLED")
		for _, addr := range addrs {
			e := devices[addr]
			fmt.Fprintf(w, "%s\t%d\t%t\n", addr, e.Mode, e.Enabled)
		}
		return w.Flush()
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "print JSON instead of a table")
}
