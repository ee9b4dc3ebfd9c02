package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lifxsync/internal/discovery"
)

var (
	peersTimeout time.Duration
	peersPort    int
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Find other lifxsync daemons on the local network",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		peers := discovery.NewScanner(log, peersTimeout).Peers(cmd.Context(), peersPort)
		out := cmd.OutOrStdout()
		if len(peers) == 0 {
			fmt.Fprintln(out, "No lifxsync daemons found")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tURL\tACTIVE\tDEVICES\tVERSION")
		for _, p := range peers {
			fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\n", p.Name, p.URL(), p.Active, p.Devices, p.Version)
		}
		return w.Flush()
	},
}

func init() {
	peersCmd.Flags().DurationVar(&peersTimeout, "timeout", 3*time.Second, "how long to wait for mDNS answers")
	peersCmd.Flags().IntVar(&peersPort, "port", 7420, "API port to probe when nobody answers over mDNS (0 disables the subnet probe)")
}
