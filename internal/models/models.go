package models

import (
	"time"
)

// Role is the application-level role assigned to a profile
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleStaff   Role = "staff"
)

// Valid reports whether the role is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleStaff:
		return true
	}
	return false
}

// BorrowLimit returns the maximum number of concurrently borrowed books for
// the role. The second return value is true when the role has no limit.
func (r Role) BorrowLimit() (int, bool) {
	switch r {
	case RoleStudent:
		return 3, false
	case RoleTeacher:
		return 5, false
	case RoleStaff:
		return 0, true
	}
	return 0, false
}

// Transaction actions
const (
	ActionBorrow = "borrow"
	ActionReturn = "return"
)

// Profile represents an application user. Auth credentials live in the
// accounts table; a profile is created alongside the account at signup.
type Profile struct {
	ID          string     `db:"id" json:"id"`
	Username    string     `db:"username" json:"username"`
	Role        Role       `db:"role" json:"role"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	LastLoginAt *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
}

// Account holds the credentials for a profile, keyed by the same ID.
// The email is synthesized from the username and never shown to users.
type Account struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"-"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"-"`
}

// Book represents a book in the catalog
type Book struct {
	ID        string    `db:"id" json:"id"`
	BookID    string    `db:"book_id" json:"bookId"` // human-readable code, unique
	Title     string    `db:"title" json:"title"`
	Author    string    `db:"author" json:"author"`
	Stock     int       `db:"stock" json:"stock"`
	Content   string    `db:"content" json:"content,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Transaction is an immutable borrow/return record. The ordered sequence of
// a user's transactions is the sole source of truth for current borrow state.
type Transaction struct {
	ID              string    `db:"id" json:"id"`
	UserID          string    `db:"user_id" json:"userId"`
	BookID          string    `db:"book_id" json:"bookId"`
	Action          string    `db:"action" json:"action"`
	TransactionDate time.Time `db:"transaction_date" json:"transactionDate"`
}

// TransactionDetail is a transaction joined with its book and user. Either
// relation may be nil when the referenced row no longer exists.
type TransactionDetail struct {
	Transaction
	Book *Book    `json:"book,omitempty"`
	User *Profile `json:"user,omitempty"`
}

// BorrowedBook is a projection of the transaction log: a book currently held
// by a user. It is derived, never persisted, and valid only at the moment of
// computation.
type BorrowedBook struct {
	Book       Book      `json:"book"`
	BorrowDate time.Time `json:"borrowDate"`
}

// ActiveUser is a row of the active_users view (profiles with recent logins)
type ActiveUser struct {
	ID          string    `db:"id" json:"id"`
	Username    string    `db:"username" json:"username"`
	Role        Role      `db:"role" json:"role"`
	LastLoginAt time.Time `db:"last_login_at" json:"lastLoginAt"`
}
