package storage

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Documents read from a schemaless store are decoded through explicit
// per-collection schemas. Missing optional fields get their zero default,
// fields of the wrong type are rejected, unknown fields are ignored.

var ErrSchema = errors.New("document does not match schema")

type Document = map[string]any

func schemaError(collection, id, field string, value any) error {
	return fmt.Errorf("%w: %s/%s field %q has type %T", ErrSchema, collection, id, field, value)
}

type decoder struct {
	collection string
	id         string
	data       Document
	err        error
}

func newDecoder(collection, id string, data Document) *decoder {
	if data == nil {
		data = Document{}
	}
	return &decoder{collection: collection, id: id, data: data}
}

func (d *decoder) fail(field string, value any) {
	if d.err == nil {
		d.err = schemaError(d.collection, d.id, field, value)
	}
}

func (d *decoder) string(field string) string {
	switch v := d.data[field].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		d.fail(field, v)
		return ""
	}
}

// time accepts native timestamps and epoch milliseconds, which older
// listing documents were written with.
func (d *decoder) time(field string) time.Time {
	switch v := d.data[field].(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return v.UTC()
	case int64:
		return time.UnixMilli(v).UTC()
	case int:
		return time.UnixMilli(int64(v)).UTC()
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			d.fail(field, v)
			return time.Time{}
		}
		return time.UnixMilli(int64(v)).UTC()
	default:
		d.fail(field, v)
		return time.Time{}
	}
}

func (d *decoder) bool(field string) bool {
	switch v := d.data[field].(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		d.fail(field, v)
		return false
	}
}

func DecodeUser(id string, data Document) (User, error) {
	d := newDecoder(CollectionUsers, id, data)
	user := User{
		ID:          id,
		Email:       d.string("email"),
		DisplayName: d.string("name"),
		CreatedAt:   d.time("createdAt"),
		UpdatedAt:   d.time("updatedAt"),
	}
	return user, d.err
}

func EncodeUser(user User) Document {
	return Document{
		"email":     user.Email,
		"name":      user.DisplayName,
		"createdAt": user.CreatedAt,
		"updatedAt": user.UpdatedAt,
	}
}

func DecodeRental(id string, data Document) (Rental, error) {
	d := newDecoder(CollectionRentals, id, data)
	rental := Rental{
		ID:          id,
		Name:        d.string("name"),
		Category:    d.string("category"),
		Description: d.string("description"),
		ImageURL:    d.string("imageUrl"),
		CreatedAt:   d.time("createdAt"),
	}
	return rental, d.err
}

func EncodeRental(rental Rental) Document {
	return Document{
		"name":        rental.Name,
		"category":    rental.Category,
		"description": rental.Description,
		"imageUrl":    rental.ImageURL,
		"createdAt":   rental.CreatedAt,
	}
}

// DecodeRentalRequest defaults a missing status to pending and rejects
// statuses outside the known set.
func DecodeRentalRequest(id string, data Document) (RentalRequest, error) {
	d := newDecoder(CollectionRequests, id, data)
	request := RentalRequest{
		ID:        id,
		RentalID:  d.string("rentalId"),
		Name:      d.string("name"),
		Contact:   d.string("contact"),
		StartDate: d.string("startDate"),
		EndDate:   d.string("endDate"),
		Note:      d.string("note"),
		Status:    RequestStatus(d.string("status")),
		CreatedAt: d.time("createdAt"),
	}
	if request.Status == "" {
		request.Status = RequestStatusPending
	} else if !request.Status.Valid() {
		d.fail("status", string(request.Status))
	}
	return request, d.err
}

func EncodeRentalRequest(request RentalRequest) Document {
	return Document{
		"rentalId":  request.RentalID,
		"name":      request.Name,
		"contact":   request.Contact,
		"startDate": request.StartDate,
		"endDate":   request.EndDate,
		"note":      request.Note,
		"status":    string(request.Status),
		"createdAt": request.CreatedAt,
	}
}

func DecodeRoom(id string, data Document) (Room, error) {
	d := newDecoder(CollectionRooms, id, data)
	room := Room{
		ID:        id,
		Type:      d.string("type"),
		UserID:    d.string("userId"),
		CreatedAt: d.time("createdAt"),
		UpdatedAt: d.time("updatedAt"),
	}
	if room.Type == "" {
		room.Type = RoomTypeSupport
	}
	if room.UserID == "" {
		room.UserID = id
	}
	return room, d.err
}

func DecodeMessage(roomID, id string, data Document) (Message, error) {
	d := newDecoder(CollectionMessages, id, data)
	message := Message{
		ID:         id,
		RoomID:     roomID,
		Text:       d.string("text"),
		SenderUID:  d.string("senderUid"),
		SenderRole: SenderRole(d.string("senderRole")),
		CreatedAt:  d.time("createdAt"),
	}
	switch message.SenderRole {
	case "":
		message.SenderRole = SenderRoleUser
	case SenderRoleUser, SenderRoleAdmin:
	default:
		d.fail("senderRole", string(message.SenderRole))
	}
	return message, d.err
}

func EncodeMessage(message Message) Document {
	return Document{
		"text":       message.Text,
		"senderUid":  message.SenderUID,
		"senderRole": string(message.SenderRole),
		"createdAt":  message.CreatedAt,
	}
}

func DecodeAccount(id string, data Document) (Account, error) {
	d := newDecoder(CollectionAccounts, id, data)
	account := Account{
		UID:          id,
		Email:        d.string("email"),
		DisplayName:  d.string("displayName"),
		PasswordHash: d.string("passwordHash"),
		Admin:        d.bool("admin"),
		CreatedAt:    d.time("createdAt"),
	}
	return account, d.err
}

func EncodeAccount(account Account) Document {
	return Document{
		"email":        account.Email,
		"displayName":  account.DisplayName,
		"passwordHash": account.PasswordHash,
		"admin":        account.Admin,
		"createdAt":    account.CreatedAt,
	}
}

func DecodeAllowedEmail(id string, data Document) (AllowedEmail, error) {
	d := newDecoder(CollectionAllowedEmails, id, data)
	entry := AllowedEmail{
		Email:     d.string("email"),
		AddedBy:   d.string("addedBy"),
		CreatedAt: d.time("createdAt"),
	}
	if entry.Email == "" {
		entry.Email = id
	}
	return entry, d.err
}

func DecodeAllowRequest(id string, data Document) (AllowRequest, error) {
	d := newDecoder(CollectionAllowRequests, id, data)
	request := AllowRequest{
		ID:        id,
		Email:     d.string("email"),
		CreatedAt: d.time("createdAt"),
	}
	return request, d.err
}
