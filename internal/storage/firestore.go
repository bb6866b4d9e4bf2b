package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore has no schema of its own; the version reported is the one the
// document layout of this package corresponds to.
const firestoreSchemaVersion = 1

type FirestoreProvider struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewFirestoreProvider(ctx context.Context, app *firebase.App) (*FirestoreProvider, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open firestore: %w", err)
	}
	return &FirestoreProvider{
		client: client,
		logger: slog.With("component", "storage", "driver", "firestore"),
	}, nil
}

func (p *FirestoreProvider) Close() error {
	return p.client.Close()
}

func (p *FirestoreProvider) GetSchemaVersion(ctx context.Context) (int, error) {
	return firestoreSchemaVersion, nil
}

// mapError translates gRPC status codes into the package sentinels.
func mapError(err error) error {
	switch status.Code(err) {
	case codes.OK:
		return err
	case codes.NotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (p *FirestoreProvider) collection(name string) *firestore.CollectionRef {
	return p.client.Collection(name)
}

func (p *FirestoreProvider) messages(roomID string) *firestore.CollectionRef {
	return p.collection(CollectionRooms).Doc(roomID).Collection(CollectionMessages)
}

func getDoc[T any](ctx context.Context, ref *firestore.DocumentRef, decode func(string, Document) (T, error)) (*T, error) {
	snap, err := ref.Get(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	out, err := decode(snap.Ref.ID, snap.Data())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func decodeDocs[T any](docs []*firestore.DocumentSnapshot, decode func(string, Document) (T, error)) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, err := decode(doc.Ref.ID, doc.Data())
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func queryDocs[T any](ctx context.Context, q firestore.Query, decode func(string, Document) (T, error)) ([]T, error) {
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, mapError(err)
	}
	return decodeDocs(docs, decode)
}

// listen forwards the snapshots of a native Firestore listener until the
// returned disposer is called or the context ends. Only the listener
// goroutine touches the iterator.
func (p *FirestoreProvider) listen(ctx context.Context, q firestore.Query, deliver func([]*firestore.DocumentSnapshot) error, onError func(error)) (Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := q.Snapshots(ctx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if listenerStopped(ctx, err) {
					return
				}
				p.logger.Warn("Snapshot listener failed", "error", err)
				if onError != nil {
					onError(err)
				}
				return
			}
			docs, err := snap.Documents.GetAll()
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = deliver(docs)
			}
			if err != nil && onError != nil && ctx.Err() == nil {
				onError(err)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(cancel)
	}, nil
}

// listenerStopped reports whether a listener error only reflects its own
// cancellation.
func listenerStopped(ctx context.Context, err error) bool {
	return ctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, iterator.Done)
}

// Nonces

func (p *FirestoreProvider) CreateNonce(ctx context.Context, nonce string, expiresAt time.Time) error {
	_, err := p.collection(CollectionNonces).Doc(nonce).Create(ctx, Document{"expiresAt": expiresAt.UTC()})
	return mapError(err)
}

func (p *FirestoreProvider) ExistsNonce(ctx context.Context, nonce string) (bool, error) {
	snap, err := p.collection(CollectionNonces).Doc(nonce).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	expiresAt, _ := snap.Data()["expiresAt"].(time.Time)
	return expiresAt.After(time.Now()), nil
}

func (p *FirestoreProvider) ConsumeNonce(ctx context.Context, nonce string) (bool, error) {
	ref := p.collection(CollectionNonces).Doc(nonce)
	var valid bool
	err := p.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		valid = false
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		} else if err != nil {
			return err
		}
		expiresAt, _ := snap.Data()["expiresAt"].(time.Time)
		valid = expiresAt.After(time.Now())
		return tx.Delete(ref)
	})
	return valid, err
}

func (p *FirestoreProvider) ExpireNonces(ctx context.Context, at time.Time) error {
	docs, err := p.collection(CollectionNonces).Where("expiresAt", "<=", at.UTC()).Documents(ctx).GetAll()
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return err
		}
	}
	if len(docs) > 0 {
		p.logger.Debug("Pruned expired nonces", "count", len(docs))
	}
	return nil
}

// Users

// upsert merges fields into ref, adding createdAt only when the document is
// new.
func (p *FirestoreProvider) upsert(ctx context.Context, ref *firestore.DocumentRef, fields Document, createdAt time.Time) error {
	return p.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			fields["createdAt"] = createdAt
		} else if err != nil {
			return err
		}
		return tx.Set(ref, fields, firestore.MergeAll)
	})
}

func (p *FirestoreProvider) UpsertUser(ctx context.Context, user User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	ts := now()
	fields := Document{"updatedAt": ts}
	if user.Email != "" {
		fields["email"] = user.Email
	}
	if user.DisplayName != "" {
		fields["name"] = user.DisplayName
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = ts
	}
	return p.upsert(ctx, p.collection(CollectionUsers).Doc(user.ID), fields, user.CreatedAt)
}

func (p *FirestoreProvider) GetUser(ctx context.Context, id string) (*User, error) {
	return getDoc(ctx, p.collection(CollectionUsers).Doc(id), DecodeUser)
}

func (p *FirestoreProvider) ListUsers(ctx context.Context) ([]User, error) {
	return queryDocs(ctx, p.collection(CollectionUsers).OrderBy("createdAt", firestore.Desc), DecodeUser)
}

// Rentals

func (p *FirestoreProvider) CreateRental(ctx context.Context, rental Rental) (Rental, error) {
	if rental.ID == "" {
		rental.ID = uuid.NewString()
	}
	if rental.CreatedAt.IsZero() {
		rental.CreatedAt = now()
	}
	_, err := p.collection(CollectionRentals).Doc(rental.ID).Create(ctx, EncodeRental(rental))
	if err != nil {
		return Rental{}, mapError(err)
	}
	return rental, nil
}

func (p *FirestoreProvider) UpdateRental(ctx context.Context, rental Rental) error {
	_, err := p.collection(CollectionRentals).Doc(rental.ID).Update(ctx, []firestore.Update{
		{Path: "name", Value: rental.Name},
		{Path: "category", Value: rental.Category},
		{Path: "description", Value: rental.Description},
		{Path: "imageUrl", Value: rental.ImageURL},
	})
	return mapError(err)
}

func (p *FirestoreProvider) DeleteRental(ctx context.Context, id string) error {
	_, err := p.collection(CollectionRentals).Doc(id).Delete(ctx, firestore.Exists)
	return mapError(err)
}

func (p *FirestoreProvider) GetRental(ctx context.Context, id string) (*Rental, error) {
	return getDoc(ctx, p.collection(CollectionRentals).Doc(id), DecodeRental)
}

func (p *FirestoreProvider) ListRentals(ctx context.Context, limit int) ([]Rental, error) {
	q := p.collection(CollectionRentals).OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return queryDocs(ctx, q, DecodeRental)
}

// Rental requests

func (p *FirestoreProvider) CreateRentalRequest(ctx context.Context, request RentalRequest) (RentalRequest, error) {
	if request.Status == "" {
		request.Status = RequestStatusPending
	}
	if !request.Status.Valid() {
		return RentalRequest{}, fmt.Errorf("invalid request status %q", request.Status)
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now()
	}
	ref := p.collection(CollectionRequests).NewDoc()
	if request.ID != "" {
		ref = p.collection(CollectionRequests).Doc(request.ID)
	}
	if _, err := ref.Create(ctx, EncodeRentalRequest(request)); err != nil {
		return RentalRequest{}, mapError(err)
	}
	request.ID = ref.ID
	return request, nil
}

func (p *FirestoreProvider) requestsQuery() firestore.Query {
	return p.collection(CollectionRequests).OrderBy("createdAt", firestore.Desc)
}

func (p *FirestoreProvider) ListRentalRequests(ctx context.Context) ([]RentalRequest, error) {
	return queryDocs(ctx, p.requestsQuery(), DecodeRentalRequest)
}

func (p *FirestoreProvider) SubscribeRentalRequests(ctx context.Context, onSnapshot func([]RentalRequest), onError func(error)) (Unsubscribe, error) {
	return p.listen(ctx, p.requestsQuery(), func(docs []*firestore.DocumentSnapshot) error {
		requests, err := decodeDocs(docs, DecodeRentalRequest)
		if err != nil {
			return err
		}
		onSnapshot(requests)
		return nil
	}, onError)
}

// Rooms and messages

func (p *FirestoreProvider) UpsertRoom(ctx context.Context, room Room) error {
	if room.ID == "" {
		return fmt.Errorf("room id is required")
	}
	ts := now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = ts
	}
	fields := Document{
		"type":      room.Type,
		"userId":    room.UserID,
		"updatedAt": ts,
	}
	return p.upsert(ctx, p.collection(CollectionRooms).Doc(room.ID), fields, room.CreatedAt)
}

func (p *FirestoreProvider) GetRoom(ctx context.Context, id string) (*Room, error) {
	return getDoc(ctx, p.collection(CollectionRooms).Doc(id), DecodeRoom)
}

func (p *FirestoreProvider) AddMessage(ctx context.Context, roomID string, message Message) (Message, error) {
	if _, err := p.collection(CollectionRooms).Doc(roomID).Get(ctx); err != nil {
		return Message{}, fmt.Errorf("room %s: %w", roomID, mapError(err))
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = now()
	}
	ref := p.messages(roomID).NewDoc()
	if message.ID != "" {
		ref = p.messages(roomID).Doc(message.ID)
	}
	if _, err := ref.Create(ctx, EncodeMessage(message)); err != nil {
		return Message{}, mapError(err)
	}
	message.ID = ref.ID
	message.RoomID = roomID
	return message, nil
}

func (p *FirestoreProvider) decodeMessage(roomID string) func(string, Document) (Message, error) {
	return func(id string, data Document) (Message, error) {
		return DecodeMessage(roomID, id, data)
	}
}

func (p *FirestoreProvider) ListMessages(ctx context.Context, roomID string) ([]Message, error) {
	return queryDocs(ctx, p.messages(roomID).OrderBy("createdAt", firestore.Asc), p.decodeMessage(roomID))
}

func (p *FirestoreProvider) SubscribeMessages(ctx context.Context, roomID string, onSnapshot func([]Message), onError func(error)) (Unsubscribe, error) {
	q := p.messages(roomID).OrderBy("createdAt", firestore.Asc)
	return p.listen(ctx, q, func(docs []*firestore.DocumentSnapshot) error {
		messages, err := decodeDocs(docs, p.decodeMessage(roomID))
		if err != nil {
			return err
		}
		onSnapshot(messages)
		return nil
	}, onError)
}

// Accounts

func (p *FirestoreProvider) CreateAccount(ctx context.Context, account Account) error {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now()
	}
	account.Email = strings.ToLower(account.Email)
	ref := p.collection(CollectionAccounts).Doc(account.UID)
	sameEmail := p.collection(CollectionAccounts).Where("email", "==", account.Email).Limit(1)
	return p.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := tx.Documents(sameEmail).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return ErrConflict
		}
		return mapError(tx.Create(ref, EncodeAccount(account)))
	})
}

func (p *FirestoreProvider) GetAccount(ctx context.Context, uid string) (*Account, error) {
	return getDoc(ctx, p.collection(CollectionAccounts).Doc(uid), DecodeAccount)
}

func (p *FirestoreProvider) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	q := p.collection(CollectionAccounts).Where("email", "==", strings.ToLower(email)).Limit(1)
	accounts, err := queryDocs(ctx, q, DecodeAccount)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNotFound
	}
	return &accounts[0], nil
}

func (p *FirestoreProvider) SetAccountAdmin(ctx context.Context, uid string, admin bool) error {
	_, err := p.collection(CollectionAccounts).Doc(uid).Update(ctx, []firestore.Update{{Path: "admin", Value: admin}})
	return mapError(err)
}

// Allow-list

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (p *FirestoreProvider) AddAllowedEmail(ctx context.Context, entry AllowedEmail) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now()
	}
	entry.Email = normalizeEmail(entry.Email)
	_, err := p.collection(CollectionAllowedEmails).Doc(entry.Email).Create(ctx, Document{
		"email":     entry.Email,
		"addedBy":   entry.AddedBy,
		"createdAt": entry.CreatedAt,
	})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

func (p *FirestoreProvider) RemoveAllowedEmail(ctx context.Context, email string) error {
	_, err := p.collection(CollectionAllowedEmails).Doc(normalizeEmail(email)).Delete(ctx, firestore.Exists)
	return mapError(err)
}

func (p *FirestoreProvider) IsEmailAllowed(ctx context.Context, email string) (bool, error) {
	_, err := p.collection(CollectionAllowedEmails).Doc(normalizeEmail(email)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

func (p *FirestoreProvider) ListAllowedEmails(ctx context.Context) ([]AllowedEmail, error) {
	return queryDocs(ctx, p.collection(CollectionAllowedEmails).OrderBy("email", firestore.Asc), DecodeAllowedEmail)
}

func (p *FirestoreProvider) CreateAllowRequest(ctx context.Context, request AllowRequest) (AllowRequest, error) {
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now()
	}
	request.Email = normalizeEmail(request.Email)
	ref := p.collection(CollectionAllowRequests).NewDoc()
	if _, err := ref.Create(ctx, Document{"email": request.Email, "createdAt": request.CreatedAt}); err != nil {
		return AllowRequest{}, mapError(err)
	}
	request.ID = ref.ID
	return request, nil
}

func (p *FirestoreProvider) ListAllowRequests(ctx context.Context) ([]AllowRequest, error) {
	return queryDocs(ctx, p.collection(CollectionAllowRequests).OrderBy("createdAt", firestore.Desc), DecodeAllowRequest)
}
