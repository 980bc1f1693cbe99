package models

// Request models
type SignUpRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type CreateBookRequest struct {
	BookID  string `json:"bookId" binding:"required"`
	Title   string `json:"title" binding:"required"`
	Author  string `json:"author" binding:"required"`
	Stock   int    `json:"stock" binding:"min=0"`
	Content string `json:"content"`
}

type UpdateBookRequest struct {
	Title   *string `json:"title"`
	Author  *string `json:"author"`
	Stock   *int    `json:"stock" binding:"omitempty,min=0"`
	Content *string `json:"content"`
}

type UpdateRoleRequest struct {
	Role Role `json:"role" binding:"required,oneof=student teacher staff"`
}

// Response models
type AuthResponse struct {
	Status    string   `json:"status"`
	UserID    string   `json:"userId,omitempty"`
	Token     string   `json:"token,omitempty"`
	ExpiresIn int      `json:"expiresIn,omitempty"`
	Profile   *Profile `json:"profile,omitempty"`
}

// SessionResponse resolves the caller's current session. Profile may be null
// when the profile row could not be fetched; callers must not treat that as
// signed-out.
type SessionResponse struct {
	Status  string   `json:"status"`
	UserID  string   `json:"userId"`
	Profile *Profile `json:"profile"`
}

// BorrowResult is the structured outcome of the borrow/return procedures.
// success=false is an expected business-rule rejection, not an error.
type BorrowResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type BorrowCountResponse struct {
	Status string `json:"status"`
	UserID string `json:"userId"`
	Count  int    `json:"count"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
