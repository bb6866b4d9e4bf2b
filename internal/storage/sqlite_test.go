package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"rental-portal/internal/config"
	"rental-portal/internal/pubsub"
)

func newTestSQLite(t *testing.T) *SQLiteProvider {
	t.Helper()
	broker := pubsub.NewMemoryBroker()
	provider, err := OpenSQLite(context.Background(), &config.Storage{Type: "sqlite"}, broker)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		provider.Close()
		broker.Close()
	})
	return provider
}

func TestSQLite_MigratesToLatest(t *testing.T) {
	p := newTestSQLite(t)
	version, err := p.GetSchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("GetSchemaVersion failed: %v", err)
	}
	latest, _ := NewMigrationRunner("sqlite3").GetLatestMigrationVersion()
	if version != latest || version < 1 {
		t.Errorf("schema version = %d, want %d", version, latest)
	}

	// Running again is a no-op.
	if err := p.runMigrations(context.Background(), "sqlite3"); err != nil {
		t.Errorf("second runMigrations failed: %v", err)
	}
}

func TestMigrationRunner_DownOrder(t *testing.T) {
	runner := NewMigrationRunner("sqlite3")
	migrations, err := runner.LoadMigrations(1, 0)
	if err != nil {
		t.Fatalf("LoadMigrations failed: %v", err)
	}
	if len(migrations) != 1 || migrations[0].Up || migrations[0].After() != 0 {
		t.Errorf("unexpected down migrations: %+v", migrations)
	}
	if _, err := runner.LoadMigrations(1, 1); !errors.Is(err, ErrMigrateCurrentVersionSameAsTarget) {
		t.Errorf("LoadMigrations(1, 1) = %v", err)
	}
}

func TestSQLite_UpsertUserMerges(t *testing.T) {
	p := newTestSQLite(t)
	ctx := context.Background()

	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := p.UpsertUser(ctx, User{ID: "u1", Email: "a@example.com", DisplayName: "A", CreatedAt: first}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if err := p.UpsertUser(ctx, User{ID: "u1", Email: "a@example.com"}); err != nil {
		t.Fatalf("second UpsertUser failed: %v", err)
	}

	user, err := p.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.DisplayName != "A" {
		t.Errorf("display name = %q, empty upsert must not blank it", user.DisplayName)
	}
	if !user.CreatedAt.Equal(first) {
		t.Errorf("createdAt = %v, want %v", user.CreatedAt, first)
	}
	if !user.UpdatedAt.After(first) {
		t.Errorf("updatedAt = %v, should have moved forward", user.UpdatedAt)
	}

	if _, err := p.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser(missing) = %v, want ErrNotFound", err)
	}
}

func TestSQLite_RentalLifecycle(t *testing.T) {
	p := newTestSQLite(t)
	ctx := context.Background()

	older, err := p.CreateRental(ctx, Rental{Name: "Tent", Category: "Outdoor", CreatedAt: time.Now().UTC().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("CreateRental failed: %v", err)
	}
	newer, err := p.CreateRental(ctx, Rental{Name: "Camera", Category: "Photo"})
	if err != nil {
		t.Fatalf("CreateRental failed: %v", err)
	}
	if _, err := p.CreateRental(ctx, Rental{ID: newer.ID, Name: "dup"}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate CreateRental = %v, want ErrConflict", err)
	}

	rentals, err := p.ListRentals(ctx, 0)
	if err != nil {
		t.Fatalf("ListRentals failed: %v", err)
	}
	if len(rentals) != 2 || rentals[0].ID != newer.ID || rentals[1].ID != older.ID {
		t.Fatalf("ListRentals should be newest first, got %+v", rentals)
	}
	if limited, _ := p.ListRentals(ctx, 1); len(limited) != 1 {
		t.Errorf("ListRentals(1) returned %d rows", len(limited))
	}

	older.Name = "Big tent"
	older.CreatedAt = time.Now().UTC()
	if err := p.UpdateRental(ctx, older); err != nil {
		t.Fatalf("UpdateRental failed: %v", err)
	}
	got, err := p.GetRental(ctx, older.ID)
	if err != nil {
		t.Fatalf("GetRental failed: %v", err)
	}
	if got.Name != "Big tent" {
		t.Errorf("name = %q after update", got.Name)
	}
	if got.CreatedAt.After(time.Now().UTC().Add(-30 * time.Minute)) {
		t.Errorf("UpdateRental must not change createdAt, got %v", got.CreatedAt)
	}

	if err := p.DeleteRental(ctx, older.ID); err != nil {
		t.Fatalf("DeleteRental failed: %v", err)
	}
	if err := p.DeleteRental(ctx, older.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteRental = %v, want ErrNotFound", err)
	}
	if err := p.UpdateRental(ctx, Rental{ID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRental(missing) = %v, want ErrNotFound", err)
	}
}

func TestSQLite_RentalRequestDefaultsToPending(t *testing.T) {
	p := newTestSQLite(t)
	ctx := context.Background()

	request, err := p.CreateRentalRequest(ctx, RentalRequest{
		RentalID:  "r1",
		Name:      "Taro",
		StartDate: "2025-06-01",
		EndDate:   "2025-06-03",
	})
	if err != nil {
		t.Fatalf("CreateRentalRequest failed: %v", err)
	}
	if request.Status != RequestStatusPending || request.ID == "" {
		t.Errorf("unexpected request %+v", request)
	}

	if _, err := p.CreateRentalRequest(ctx, RentalRequest{RentalID: "r1", Status: "lost"}); err == nil {
		t.Errorf("expected invalid status to be rejected")
	}

	requests, err := p.ListRentalRequests(ctx)
	if err != nil {
		t.Fatalf("ListRentalRequests failed: %v", err)
	}
	if len(requests) != 1 || requests[0].StartDate != "2025-06-01" {
		t.Errorf("unexpected requests %+v", requests)
	}
}

func TestSQLite_MessagesNeedRoom(t *testing.T) {
	p := newTestSQLite(t)
	ctx := context.Background()

	if _, err := p.AddMessage(ctx, "u1", Message{Text: "hi", SenderUID: "u1", SenderRole: SenderRoleUser}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddMessage without room = %v, want ErrNotFound", err)
	}

	if err := p.UpsertRoom(ctx, Room{ID: "u1", Type: RoomTypeSupport, UserID: "u1"}); err != nil {
		t.Fatalf("UpsertRoom failed: %v", err)
	}
	for _, text := range []string{"one", "two", "three"} {
		if _, err := p.AddMessage(ctx, "u1", Message{Text: text, SenderUID: "u1", SenderRole: SenderRoleUser}); err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
	}

	messages, err := p.ListMessages(ctx, "u1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 3 || messages[0].Text != "one" || messages[2].Text != "three" {
		t.Errorf("messages out of order: %+v", messages)
	}
}

func TestSQLite_SubscribeMessages(t *testing.T) {
	p := newTestSQLite(t)
	ctx := context.Background()

	if err := p.UpsertRoom(ctx, Room{ID: "u1", Type: RoomTypeSupport, UserID: "u1"}); err != nil {
		t.Fatalf("UpsertRoom failed: %v", err)
	}

	snapshots := make(chan []Message, 8)
	unsubscribe, err := p.SubscribeMessages(ctx, "u1", func(m []Message) { snapshots <- m }, func(err error) {
		t.Errorf("unexpected subscription error: %v", err)
	})
	if err != nil {
		t.Fatalf("SubscribeMessages failed: %v", err)
	}
	defer unsubscribe()

	if initial := <-snapshots; len(initial) != 0 {
		t.Fatalf("initial snapshot = %+v, want empty", initial)
	}

	if _, err := p.AddMessage(ctx, "u1", Message{Text: "hello", SenderUID: "u1", SenderRole: SenderRoleUser}); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	select {
	case got := <-snapshots:
		if len(got) != 1 || got[0].Text != "hello" {
			t.Errorf("snapshot = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no snapshot after AddMessage")
	}

	unsubscribe()
	unsubscribe()
	if _, err := p.AddMessage(ctx, "u1", Message{Text: "late", SenderUID: "u1", SenderRole: SenderRoleUser}); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	select {
	case got := <-snapshots:
		t.Errorf("snapshot delivered after unsubscribe: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSQLite_AccountsAndAllowList(t *testing.T) {
	p := newTestSQLite(t)
	ctx := context.Background()

	if err := p.CreateAccount(ctx, Account{UID: "a1", Email: "Admin@Example.com", PasswordHash: "x"}); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if err := p.CreateAccount(ctx, Account{UID: "a2", Email: "admin@example.com"}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate e-mail = %v, want ErrConflict", err)
	}
	account, err := p.GetAccountByEmail(ctx, "ADMIN@example.com")
	if err != nil || account.UID != "a1" {
		t.Fatalf("GetAccountByEmail = %+v, %v", account, err)
	}
	if err := p.SetAccountAdmin(ctx, "a1", true); err != nil {
		t.Fatalf("SetAccountAdmin failed: %v", err)
	}
	if account, _ := p.GetAccount(ctx, "a1"); !account.Admin {
		t.Errorf("admin flag not stored")
	}

	if err := p.AddAllowedEmail(ctx, AllowedEmail{Email: " Guest@Example.com "}); err != nil {
		t.Fatalf("AddAllowedEmail failed: %v", err)
	}
	if err := p.AddAllowedEmail(ctx, AllowedEmail{Email: "guest@example.com"}); err != nil {
		t.Errorf("AddAllowedEmail should be idempotent: %v", err)
	}
	if ok, _ := p.IsEmailAllowed(ctx, "guest@example.com"); !ok {
		t.Errorf("guest should be allowed")
	}
	if err := p.RemoveAllowedEmail(ctx, "GUEST@example.com"); err != nil {
		t.Fatalf("RemoveAllowedEmail failed: %v", err)
	}
	if ok, _ := p.IsEmailAllowed(ctx, "guest@example.com"); ok {
		t.Errorf("guest should no longer be allowed")
	}
	if err := p.RemoveAllowedEmail(ctx, "guest@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove = %v, want ErrNotFound", err)
	}
}

func TestSQLite_Nonces(t *testing.T) {
	p := newTestSQLite(t)
	ctx := context.Background()

	if err := p.CreateNonce(ctx, "live", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreateNonce failed: %v", err)
	}
	if err := p.CreateNonce(ctx, "dead", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("CreateNonce failed: %v", err)
	}

	if ok, _ := p.ExistsNonce(ctx, "live"); !ok {
		t.Errorf("live nonce should exist")
	}
	if ok, _ := p.ExistsNonce(ctx, "dead"); ok {
		t.Errorf("expired nonce should not exist")
	}

	if err := p.ExpireNonces(ctx, time.Now()); err != nil {
		t.Fatalf("ExpireNonces failed: %v", err)
	}
	if ok, _ := p.ConsumeNonce(ctx, "live"); !ok {
		t.Errorf("first consume should succeed")
	}
	if ok, _ := p.ConsumeNonce(ctx, "live"); ok {
		t.Errorf("second consume should fail")
	}
}
