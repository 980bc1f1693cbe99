package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rliang/library-server/internal/models"
	"github.com/rliang/library-server/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// EmailDomain is the fixed domain used to synthesize an email from a
// username for the underlying account record.
const EmailDomain = "miaoda.com"

// Typed errors the API layer maps to status codes
var (
	ErrInvalidUsername    = errors.New("username can only contain letters, numbers, and underscores")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters long")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidRole        = errors.New("invalid role")
)

// Service defines all the business logic operations
type Service interface {
	// Authentication and session
	SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error)
	ResolveSession(ctx context.Context, userID string) (*models.SessionResponse, error)

	// Profiles
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	ListProfiles(ctx context.Context) ([]models.Profile, error)
	UpdateRole(ctx context.Context, targetID string, role models.Role) error
	ActiveUsers(ctx context.Context) ([]models.ActiveUser, error)

	// Books
	ListBooks(ctx context.Context) ([]models.Book, error)
	SearchBooks(ctx context.Context, query string) ([]models.Book, error)
	GetBook(ctx context.Context, id string) (*models.Book, error)
	CreateBook(ctx context.Context, req models.CreateBookRequest) (*models.Book, error)
	UpdateBook(ctx context.Context, id string, req models.UpdateBookRequest) error
	DeleteBook(ctx context.Context, id string) error

	// Transaction log
	UserTransactions(ctx context.Context, userID string) ([]models.TransactionDetail, error)
	AllTransactions(ctx context.Context) ([]models.TransactionDetail, error)

	// Borrow/return procedures
	BorrowBook(ctx context.Context, userID, bookID string) (*models.BorrowResult, error)
	ReturnBook(ctx context.Context, userID, bookID string) (*models.BorrowResult, error)
	BorrowCount(ctx context.Context, userID string) (int, error)
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo          repository.Repository
	jwtSecret     []byte
	tokenDuration time.Duration
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(repo repository.Repository, jwtSecret string) Service {
	return &DefaultService{
		repo:          repo,
		jwtSecret:     []byte(jwtSecret),
		tokenDuration: 24 * time.Hour, // 24 hours token validity
	}
}

// SyntheticEmail maps a username onto the account email space
func SyntheticEmail(username string) string {
	return fmt.Sprintf("%s@%s", username, EmailDomain)
}

// Authentication methods

// SignUp registers a new account. Validation failures are returned before
// anything touches the repository. The repository decides the role: the
// first registrant becomes staff, everyone else a student. A successful
// signup signs the user in.
func (s *DefaultService) SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error) {
	if !models.ValidUsername(req.Username) {
		return nil, ErrInvalidUsername
	}
	if !models.ValidPassword(req.Password) {
		return nil, ErrPasswordTooShort
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	account := &models.Account{
		ID:           uuid.New().String(),
		Email:        SyntheticEmail(req.Username),
		PasswordHash: string(hashedPassword),
	}

	profile, err := s.repo.CreateAccount(ctx, account, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("error creating account: %w", err)
	}

	token, err := s.generateJWT(profile.ID)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	return &models.AuthResponse{
		Status:    "success",
		UserID:    profile.ID,
		Token:     token,
		ExpiresIn: int(s.tokenDuration.Seconds()),
		Profile:   profile,
	}, nil
}

func (s *DefaultService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	if !models.ValidUsername(req.Username) {
		return nil, ErrInvalidUsername
	}

	account, err := s.repo.GetAccountByEmail(ctx, SyntheticEmail(req.Username))
	if err != nil {
		return nil, fmt.Errorf("error getting account: %w", err)
	}
	if account == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.repo.TouchLastLogin(ctx, account.ID); err != nil {
		return nil, fmt.Errorf("error recording login: %w", err)
	}

	profile, err := s.repo.GetProfile(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("error getting profile: %w", err)
	}

	token, err := s.generateJWT(account.ID)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	return &models.AuthResponse{
		Status:    "success",
		UserID:    account.ID,
		Token:     token,
		ExpiresIn: int(s.tokenDuration.Seconds()),
		Profile:   profile,
	}, nil
}

// ResolveSession answers the client's "who am I" call. A failed profile
// lookup still resolves the session: the caller gets its principal with a
// null profile rather than being treated as signed out.
func (s *DefaultService) ResolveSession(ctx context.Context, userID string) (*models.SessionResponse, error) {
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		profile = nil
	}

	return &models.SessionResponse{
		Status:  "success",
		UserID:  userID,
		Profile: profile,
	}, nil
}

// Profile methods
func (s *DefaultService) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	return s.repo.GetProfile(ctx, id)
}

func (s *DefaultService) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	return s.repo.GetAllProfiles(ctx)
}

func (s *DefaultService) UpdateRole(ctx context.Context, targetID string, role models.Role) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	return s.repo.UpdateProfileRole(ctx, targetID, role)
}

func (s *DefaultService) ActiveUsers(ctx context.Context) ([]models.ActiveUser, error) {
	return s.repo.GetActiveUsers(ctx)
}

// Book methods
func (s *DefaultService) ListBooks(ctx context.Context) ([]models.Book, error) {
	return s.repo.GetAllBooks(ctx)
}

func (s *DefaultService) SearchBooks(ctx context.Context, query string) ([]models.Book, error) {
	if query == "" {
		return s.repo.GetAllBooks(ctx)
	}
	return s.repo.SearchBooks(ctx, query)
}

func (s *DefaultService) GetBook(ctx context.Context, id string) (*models.Book, error) {
	return s.repo.GetBook(ctx, id)
}

func (s *DefaultService) CreateBook(ctx context.Context, req models.CreateBookRequest) (*models.Book, error) {
	book := &models.Book{
		ID:      uuid.New().String(),
		BookID:  req.BookID,
		Title:   req.Title,
		Author:  req.Author,
		Stock:   req.Stock,
		Content: req.Content,
	}

	if err := s.repo.CreateBook(ctx, book); err != nil {
		return nil, fmt.Errorf("error creating book: %w", err)
	}
	return book, nil
}

func (s *DefaultService) UpdateBook(ctx context.Context, id string, req models.UpdateBookRequest) error {
	return s.repo.UpdateBook(ctx, id, req)
}

func (s *DefaultService) DeleteBook(ctx context.Context, id string) error {
	return s.repo.DeleteBook(ctx, id)
}

// Transaction log methods
func (s *DefaultService) UserTransactions(ctx context.Context, userID string) ([]models.TransactionDetail, error) {
	return s.repo.GetUserTransactions(ctx, userID)
}

func (s *DefaultService) AllTransactions(ctx context.Context) ([]models.TransactionDetail, error) {
	return s.repo.GetAllTransactions(ctx)
}

// Borrow/return procedures — the repository holds the atomic critical
// section; the service just passes results through, including structured
// rejections.
func (s *DefaultService) BorrowBook(ctx context.Context, userID, bookID string) (*models.BorrowResult, error) {
	return s.repo.BorrowBook(ctx, userID, bookID)
}

func (s *DefaultService) ReturnBook(ctx context.Context, userID, bookID string) (*models.BorrowResult, error) {
	return s.repo.ReturnBook(ctx, userID, bookID)
}

func (s *DefaultService) BorrowCount(ctx context.Context, userID string) (int, error) {
	return s.repo.GetUserBorrowCount(ctx, userID)
}

// Helper methods
func (s *DefaultService) generateJWT(userID string) (string, error) {
	expirationTime := time.Now().Add(s.tokenDuration)

	claims := jwt.MapClaims{
		"sub": userID, // subject
		"exp": expirationTime.Unix(),
		"iat": time.Now().Unix(), // issued at
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
