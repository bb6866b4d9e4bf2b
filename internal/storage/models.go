package storage

import "time"

// Collection names, shared by every provider.
const (
	CollectionUsers         = "users"
	CollectionRentals       = "rentals"
	CollectionRequests      = "rentalRequests"
	CollectionRooms         = "rooms"
	CollectionMessages      = "messages"
	CollectionAccounts      = "accounts"
	CollectionAllowedEmails = "allowedEmails"
	CollectionAllowRequests = "allowRequests"
	CollectionNonces        = "nonces"
)

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
	RequestStatusCanceled RequestStatus = "canceled"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected, RequestStatusCanceled:
		return true
	}
	return false
}

type SenderRole string

const (
	SenderRoleUser  SenderRole = "user"
	SenderRoleAdmin SenderRole = "admin"
)

// Room type tag for per-user support rooms.
const RoomTypeSupport = "support"

// User is the profile document kept for every identity that signed in.
type User struct {
	ID          string    `db:"id" json:"id"`
	Email       string    `db:"email" json:"email"`
	DisplayName string    `db:"display_name" json:"name"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

type Rental struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Category    string    `db:"category" json:"category"`
	Description string    `db:"description" json:"description"`
	ImageURL    string    `db:"image_url" json:"imageUrl"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// RentalRequest dates are calendar dates in YYYY-MM-DD form.
type RentalRequest struct {
	ID        string        `db:"id" json:"id"`
	RentalID  string        `db:"rental_id" json:"rentalId"`
	Name      string        `db:"name" json:"name"`
	Contact   string        `db:"contact" json:"contact"`
	StartDate string        `db:"start_date" json:"startDate"`
	EndDate   string        `db:"end_date" json:"endDate"`
	Note      string        `db:"note" json:"note"`
	Status    RequestStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
}

// Room id equals the id of the user owning it.
type Room struct {
	ID        string    `db:"id" json:"id"`
	Type      string    `db:"type" json:"type"`
	UserID    string    `db:"user_id" json:"userId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type Message struct {
	ID         string     `db:"id" json:"id"`
	RoomID     string     `db:"room_id" json:"-"`
	Text       string     `db:"text" json:"text"`
	SenderUID  string     `db:"sender_uid" json:"senderUid"`
	SenderRole SenderRole `db:"sender_role" json:"senderRole"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

// Account is a credential record of the built-in identity provider.
type Account struct {
	UID          string    `db:"uid" json:"uid"`
	Email        string    `db:"email" json:"email"`
	DisplayName  string    `db:"display_name" json:"displayName"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Admin        bool      `db:"admin" json:"admin"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

type AllowedEmail struct {
	Email     string    `db:"email" json:"email"`
	AddedBy   string    `db:"added_by" json:"addedBy"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// AllowRequest records someone asking to be put on the allow-list.
type AllowRequest struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
