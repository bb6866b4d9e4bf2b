package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"rental-portal/internal/identity"

	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "View signed-up users",
}

var listUsersCmd = &cobra.Command{
	Use:   "list",
	Short: "List users with their admin claim",
	Run: func(cmd *cobra.Command, args []string) {
		listUsers(context.Background())
	},
}

func listUsers(ctx context.Context) {
	quietLogger()

	identities, err := identity.NewProvider(ctx, cfg, provider, firebaseApp)
	if err != nil {
		fail("Failed to initialize identity provider: %v", err)
	}

	users, err := provider.ListUsers(ctx)
	if err != nil {
		fail("Failed to list users: %v", err)
	}
	if len(users) == 0 {
		fmt.Println("No users found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "UID\tEMAIL\tNAME\tADMIN\tCREATED AT")
	for _, u := range users {
		admin := "?"
		if claims, err := identities.Claims(ctx, u.ID); err == nil {
			admin = fmt.Sprint(identity.IsAdmin(claims))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Email, u.DisplayName, admin, u.CreatedAt.Format(time.RFC3339))
	}
	w.Flush()
}

func init() {
	usersCmd.AddCommand(listUsersCmd)
	rootCmd.AddCommand(usersCmd)
}
