package cmd

import (
	"net/url"

	"github.com/spf13/cobra"
)

var (
	statsFrom string
	statsTo   string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate delivery counts over a time window",
	Long: `Fetches success/failure counts for deliveries created in a time window.
Without flags the window is the last 24 hours.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if statsFrom != "" {
			q.Set("from", statsFrom)
		}
		if statsTo != "" {
			q.Set("to", statsTo)
		}
		body, err := apiGet("/v1/stats", q)
		if err != nil {
			return err
		}
		printJSON(body)
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsFrom, "from", "", "window start (RFC3339)")
	statsCmd.Flags().StringVar(&statsTo, "to", "", "window end (RFC3339)")
	rootCmd.AddCommand(statsCmd)
}
