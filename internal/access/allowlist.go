package access

import (
	"context"
	"fmt"
	"log/slog"

	"rental-portal/internal/storage"
)

// AllowList decides who may sign up and sign in: the admin address and
// every address on the stored list.
type AllowList struct {
	store      storage.Provider
	adminEmail string
}

func NewAllowList(store storage.Provider, adminEmail string) *AllowList {
	return &AllowList{store: store, adminEmail: NormalizeEmail(adminEmail)}
}

func (a *AllowList) IsAllowed(ctx context.Context, email string) (bool, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return false, nil
	}
	if a.adminEmail != "" && email == a.adminEmail {
		return true, nil
	}
	return a.store.IsEmailAllowed(ctx, email)
}

func (a *AllowList) Add(ctx context.Context, email, addedBy string) error {
	email = NormalizeEmail(email)
	if err := ValidEmail(email); err != nil {
		return err
	}
	return a.store.AddAllowedEmail(ctx, storage.AllowedEmail{Email: email, AddedBy: addedBy})
}

func (a *AllowList) Remove(ctx context.Context, email string) error {
	return a.store.RemoveAllowedEmail(ctx, NormalizeEmail(email))
}

func (a *AllowList) List(ctx context.Context) ([]storage.AllowedEmail, error) {
	return a.store.ListAllowedEmails(ctx)
}

// Import adds every address of a member list file and returns how many were
// read.
func (a *AllowList) Import(ctx context.Context, csvFile, addedBy string) (int, error) {
	emails, err := ReadEmailListFile(csvFile)
	if err != nil {
		return 0, err
	}
	for _, email := range emails {
		if err := a.store.AddAllowedEmail(ctx, storage.AllowedEmail{Email: email, AddedBy: addedBy}); err != nil {
			return 0, fmt.Errorf("failed to add %s: %w", email, err)
		}
	}
	slog.Info("Imported allow-list", "file", csvFile, "count", len(emails))
	return len(emails), nil
}

// Request records that email asked to be allowed.
func (a *AllowList) Request(ctx context.Context, email string) (storage.AllowRequest, error) {
	email = NormalizeEmail(email)
	if err := ValidEmail(email); err != nil {
		return storage.AllowRequest{}, err
	}
	return a.store.CreateAllowRequest(ctx, storage.AllowRequest{Email: email})
}
