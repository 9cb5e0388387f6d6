package cmd

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	listTaskID string
	listStatus string
	listLimit  int
	listOffset int
)

var deliveriesCmd = &cobra.Command{
	Use:   "deliveries",
	Short: "Browse and manage delivery records",
}

var deliveriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deliveries by task or status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listTaskID == "" && listStatus == "" {
			return fmt.Errorf("either --task or --status is required")
		}
		q := url.Values{}
		if listTaskID != "" {
			q.Set("task_id", listTaskID)
		}
		if listStatus != "" {
			q.Set("status", listStatus)
		}
		q.Set("limit", strconv.Itoa(listLimit))
		q.Set("offset", strconv.Itoa(listOffset))

		body, err := apiGet("/v1/deliveries", q)
		if err != nil {
			return err
		}
		printJSON(body)
		return nil
	},
}

var deliveriesGetCmd = &cobra.Command{
	Use:   "get <delivery-id>",
	Short: "Fetch one delivery record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiGet("/v1/deliveries/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		printJSON(body)
		return nil
	},
}

var deliveriesRetryCmd = &cobra.Command{
	Use:   "retry <delivery-id>",
	Short: "Force a retry of a permanently failed delivery",
	Long: `Resets the attempt bookkeeping of a failed delivery and re-dispatches it.
Only deliveries in the terminal failed state can be retried.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiPost("/v1/deliveries/" + url.PathEscape(args[0]) + "/retry")
		if err != nil {
			return err
		}
		printJSON(body)
		return nil
	},
}

func init() {
	deliveriesListCmd.Flags().StringVar(&listTaskID, "task", "", "filter by task ID")
	deliveriesListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, sending, delivered, retrying, failed)")
	deliveriesListCmd.Flags().IntVar(&listLimit, "limit", 20, "max records to return")
	deliveriesListCmd.Flags().IntVar(&listOffset, "offset", 0, "pagination offset")

	deliveriesCmd.AddCommand(deliveriesListCmd)
	deliveriesCmd.AddCommand(deliveriesGetCmd)
	deliveriesCmd.AddCommand(deliveriesRetryCmd)
	rootCmd.AddCommand(deliveriesCmd)
}
