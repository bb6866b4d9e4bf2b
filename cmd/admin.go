package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"rental-portal/internal/identity"

	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Grant or revoke the admin claim",
	Long: `Set the admin custom claim of an account. This is the only way of
granting admin rights; the web interface never changes claims.`,
}

var adminGrantCmd = &cobra.Command{
	Use:   "grant [email]",
	Short: "Grant admin rights",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setAdmin(context.Background(), args[0], true)
	},
}

var adminRevokeCmd = &cobra.Command{
	Use:   "revoke [email]",
	Short: "Revoke admin rights",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setAdmin(context.Background(), args[0], false)
	},
}

func setAdmin(ctx context.Context, email string, admin bool) {
	identities, err := identity.NewProvider(ctx, cfg, provider, firebaseApp)
	if err != nil {
		fail("Failed to initialize identity provider: %v", err)
	}

	id, err := identities.SetAdminByEmail(ctx, email, admin)
	if err != nil {
		fail("Failed to set admin claim for %s: %v", email, err)
	}

	slog.Info("Admin claim updated", "uid", id.UID, "email", id.Email, "admin", admin)
	if admin {
		fmt.Printf("Granted admin to %s (%s). It applies to their next request.\n", id.Email, id.UID)
	} else {
		fmt.Printf("Revoked admin from %s (%s).\n", id.Email, id.UID)
	}
}

func init() {
	adminCmd.AddCommand(adminGrantCmd)
	adminCmd.AddCommand(adminRevokeCmd)
	rootCmd.AddCommand(adminCmd)
}
