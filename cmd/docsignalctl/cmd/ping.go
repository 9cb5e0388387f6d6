package cmd

import (
	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check connectivity to the notifier admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiGet("/v1/ping", nil)
		if err != nil {
			return err
		}
		printJSON(body)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
