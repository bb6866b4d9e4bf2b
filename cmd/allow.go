package cmd

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"text/tabwriter"
	"time"

	"rental-portal/internal/access"

	"github.com/spf13/cobra"
)

var allowCmd = &cobra.Command{
	Use:   "allow",
	Short: "Manage the e-mail allow-list",
	Long:  `Add, remove, list and import the e-mail addresses that may sign up and log in.`,
}

// operator names who changed the allow-list from the command line.
func operator() string {
	if u, err := user.Current(); err == nil {
		return "cli:" + u.Username
	}
	return "cli"
}

var allowAddCmd = &cobra.Command{
	Use:   "add [email]",
	Short: "Allow an e-mail address",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		list := access.NewAllowList(provider, cfg.AdminEmail)
		if err := list.Add(context.Background(), args[0], operator()); err != nil {
			fail("Error adding %s: %v", args[0], err)
		}
		fmt.Printf("Allowed %s\n", access.NormalizeEmail(args[0]))
	},
}

var allowRemoveCmd = &cobra.Command{
	Use:   "remove [email]",
	Short: "Remove an e-mail address",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		list := access.NewAllowList(provider, cfg.AdminEmail)
		if err := list.Remove(context.Background(), args[0]); err != nil {
			fail("Error removing %s: %v", args[0], err)
		}
		fmt.Printf("Removed %s\n", access.NormalizeEmail(args[0]))
	},
}

var allowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allowed e-mail addresses",
	Run: func(cmd *cobra.Command, args []string) {
		quietLogger()
		list := access.NewAllowList(provider, cfg.AdminEmail)
		entries, err := list.List(context.Background())
		if err != nil {
			fail("Error listing allow-list: %v", err)
		}
		if len(entries) == 0 {
			fmt.Println("Allow-list is empty.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EMAIL\tADDED BY\tCREATED AT")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Email, e.AddedBy, e.CreatedAt.Format(time.RFC3339))
		}
		w.Flush()
	},
}

var allowImportCmd = &cobra.Command{
	Use:   "import [csv]",
	Short: "Import e-mail addresses from a CSV export",
	Long: `Import addresses from a CSV or tab separated export. UTF-8 and UTF-16
files with a byte order mark are accepted. Rows with a status column are only
imported when the status is active.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		list := access.NewAllowList(provider, cfg.AdminEmail)
		n, err := list.Import(context.Background(), args[0], operator())
		if err != nil {
			fail("Error importing %s: %v", args[0], err)
		}
		fmt.Printf("Imported %d addresses\n", n)
	},
}

var allowRequestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List pending allow-list requests",
	Run: func(cmd *cobra.Command, args []string) {
		quietLogger()
		requests, err := provider.ListAllowRequests(context.Background())
		if err != nil {
			fail("Error listing requests: %v", err)
		}
		if len(requests) == 0 {
			fmt.Println("No requests found.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EMAIL\tREQUESTED AT")
		for _, r := range requests {
			fmt.Fprintf(w, "%s\t%s\n", r.Email, r.CreatedAt.Format(time.RFC3339))
		}
		w.Flush()
	},
}

func init() {
	allowCmd.AddCommand(allowAddCmd, allowRemoveCmd, allowListCmd, allowImportCmd, allowRequestsCmd)
	rootCmd.AddCommand(allowCmd)
}
