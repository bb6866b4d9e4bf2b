package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"rental-portal/internal/rentals"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
)

var rentalsCmd = &cobra.Command{
	Use:   "rentals",
	Short: "View rental listings",
}

var rentalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rentals in catalogue order",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		quietLogger()

		list, err := provider.ListRentals(ctx, 0)
		if err != nil {
			fail("Error listing rentals: %v", err)
		}
		if len(list) == 0 {
			fmt.Println("No rentals found.")
			return
		}

		tag, err := language.Parse(cfg.Locale)
		if err != nil {
			tag = language.Und
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCATEGORY\tNAME\tCREATED AT")
		for _, r := range rentals.SortRentals(list, tag) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Category, r.Name, r.CreatedAt.Format(time.RFC3339))
		}
		w.Flush()
	},
}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "View rental requests",
}

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rental requests, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		quietLogger()

		requests, err := provider.ListRentalRequests(ctx)
		if err != nil {
			fail("Error listing requests: %v", err)
		}
		if len(requests) == 0 {
			fmt.Println("No requests found.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tRENTAL\tNAME\tCONTACT\tFROM\tTO\tSTATUS\tCREATED AT")
		for _, r := range requests {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.RentalID, r.Name, r.Contact, r.StartDate, r.EndDate, r.Status, r.CreatedAt.Format(time.RFC3339))
		}
		w.Flush()
	},
}

func init() {
	rentalsCmd.AddCommand(rentalsListCmd)
	requestsCmd.AddCommand(requestsListCmd)
	rootCmd.AddCommand(rentalsCmd)
	rootCmd.AddCommand(requestsCmd)
}
