package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rliang/library-server/internal/ledger"
	"github.com/rliang/library-server/internal/models"
)

// MemoryRepository is an in-memory Repository used by the tests and by demo
// mode. All methods are safe for concurrent use; the borrow/return
// procedures hold the lock for their whole critical section, matching the
// row-lock semantics of the Postgres implementation.
type MemoryRepository struct {
	mu           sync.Mutex
	accounts     map[string]models.Account // keyed by email
	profiles     map[string]models.Profile // keyed by id
	books        map[string]models.Book    // keyed by id
	transactions []models.Transaction
	clock        func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]models.Account),
		profiles: make(map[string]models.Profile),
		books:    make(map[string]models.Book),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source, for deterministic tests
func (r *MemoryRepository) SetClock(clock func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
}

func (r *MemoryRepository) CreateAccount(
	ctx context.Context,
	account *models.Account,
	username string,
) (*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[account.Email]; ok {
		return nil, ErrDuplicateUsername
	}

	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = r.clock()

	role := models.RoleStudent
	if len(r.profiles) == 0 {
		role = models.RoleStaff
	}

	profile := models.Profile{
		ID:        account.ID,
		Username:  username,
		Role:      role,
		CreatedAt: account.CreatedAt,
	}

	r.accounts[account.Email] = *account
	r.profiles[profile.ID] = profile

	out := profile
	return &out, nil
}

func (r *MemoryRepository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[email]
	if !ok {
		return nil, nil
	}
	return &account, nil
}

func (r *MemoryRepository) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.profiles[id]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

func (r *MemoryRepository) GetAllProfiles(ctx context.Context) ([]models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profiles := make([]models.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].CreatedAt.Before(profiles[j].CreatedAt)
	})
	return profiles, nil
}

func (r *MemoryRepository) UpdateProfileRole(ctx context.Context, id string, role models.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.profiles[id]
	if !ok {
		return ErrNotFound
	}
	profile.Role = role
	r.profiles[id] = profile
	return nil
}

func (r *MemoryRepository) TouchLastLogin(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.profiles[id]
	if !ok {
		return ErrNotFound
	}
	now := r.clock()
	profile.LastLoginAt = &now
	r.profiles[id] = profile
	return nil
}

func (r *MemoryRepository) GetActiveUsers(ctx context.Context) ([]models.ActiveUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock().AddDate(0, 0, -30)
	var users []models.ActiveUser
	for _, p := range r.profiles {
		if p.LastLoginAt != nil && p.LastLoginAt.After(cutoff) {
			users = append(users, models.ActiveUser{
				ID:          p.ID,
				Username:    p.Username,
				Role:        p.Role,
				LastLoginAt: *p.LastLoginAt,
			})
		}
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].LastLoginAt.After(users[j].LastLoginAt)
	})
	return users, nil
}

func (r *MemoryRepository) GetAllBooks(ctx context.Context) ([]models.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedBooksLocked(func(models.Book) bool { return true }), nil
}

func (r *MemoryRepository) SearchBooks(ctx context.Context, query string) ([]models.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := strings.ToLower(query)
	return r.sortedBooksLocked(func(b models.Book) bool {
		return strings.Contains(strings.ToLower(b.Title), q) ||
			strings.Contains(strings.ToLower(b.Author), q) ||
			strings.Contains(strings.ToLower(b.BookID), q)
	}), nil
}

func (r *MemoryRepository) sortedBooksLocked(match func(models.Book) bool) []models.Book {
	books := make([]models.Book, 0, len(r.books))
	for _, b := range r.books {
		if match(b) {
			books = append(books, b)
		}
	}
	sort.Slice(books, func(i, j int) bool {
		return books[i].BookID < books[j].BookID
	})
	return books
}

func (r *MemoryRepository) GetBook(ctx context.Context, id string) (*models.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, ok := r.books[id]
	if !ok {
		return nil, nil
	}
	return &book, nil
}

func (r *MemoryRepository) CreateBook(ctx context.Context, book *models.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if book.ID == "" {
		book.ID = uuid.New().String()
	}
	now := r.clock()
	book.CreatedAt = now
	book.UpdatedAt = now
	r.books[book.ID] = *book
	return nil
}

func (r *MemoryRepository) UpdateBook(ctx context.Context, id string, updates models.UpdateBookRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, ok := r.books[id]
	if !ok {
		return ErrNotFound
	}

	if updates.Title != nil {
		book.Title = *updates.Title
	}
	if updates.Author != nil {
		book.Author = *updates.Author
	}
	if updates.Stock != nil {
		book.Stock = *updates.Stock
	}
	if updates.Content != nil {
		book.Content = *updates.Content
	}
	book.UpdatedAt = r.clock()
	r.books[id] = book
	return nil
}

func (r *MemoryRepository) DeleteBook(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.books[id]; !ok {
		return ErrNotFound
	}
	delete(r.books, id)
	return nil
}

func (r *MemoryRepository) GetUserTransactions(ctx context.Context, userID string) ([]models.TransactionDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transactionsLocked(func(t models.Transaction) bool {
		return t.UserID == userID
	}), nil
}

func (r *MemoryRepository) GetAllTransactions(ctx context.Context) ([]models.TransactionDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transactionsLocked(func(models.Transaction) bool { return true }), nil
}

// transactionsLocked returns matching transactions newest first, with book
// and user joined. A deleted book or profile yields a nil relation, exactly
// like the LEFT JOIN in the Postgres implementation.
func (r *MemoryRepository) transactionsLocked(match func(models.Transaction) bool) []models.TransactionDetail {
	var details []models.TransactionDetail
	// Walk in reverse insertion order so records sharing a timestamp still
	// come out newest first after the stable sort.
	for i := len(r.transactions) - 1; i >= 0; i-- {
		t := r.transactions[i]
		if !match(t) {
			continue
		}
		detail := models.TransactionDetail{Transaction: t}
		if book, ok := r.books[t.BookID]; ok {
			b := book
			detail.Book = &b
		}
		if profile, ok := r.profiles[t.UserID]; ok {
			p := profile
			detail.User = &p
		}
		details = append(details, detail)
	}
	sort.SliceStable(details, func(i, j int) bool {
		return details[i].TransactionDate.After(details[j].TransactionDate)
	})
	return details
}

func (r *MemoryRepository) BorrowBook(ctx context.Context, userID, bookID string) (*models.BorrowResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, ok := r.books[bookID]
	if !ok {
		return &models.BorrowResult{Success: false, Message: "Book not found"}, nil
	}

	profile, ok := r.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}

	borrowed := ledger.Project(r.transactionsLocked(func(t models.Transaction) bool {
		return t.UserID == userID
	}))

	for _, b := range borrowed {
		if b.Book.ID == bookID {
			return &models.BorrowResult{Success: false, Message: "You have already borrowed this book"}, nil
		}
	}

	if limit, unlimited := profile.Role.BorrowLimit(); !unlimited && len(borrowed) >= limit {
		return &models.BorrowResult{
			Success: false,
			Message: fmt.Sprintf("You have reached your borrow limit of %d books", limit),
		}, nil
	}

	if book.Stock <= 0 {
		return &models.BorrowResult{Success: false, Message: "This book is out of stock"}, nil
	}

	now := r.clock()
	book.Stock--
	book.UpdatedAt = now
	r.books[bookID] = book
	r.transactions = append(r.transactions, models.Transaction{
		ID:              uuid.New().String(),
		UserID:          userID,
		BookID:          bookID,
		Action:          models.ActionBorrow,
		TransactionDate: now,
	})

	return &models.BorrowResult{Success: true, Message: "Book borrowed successfully"}, nil
}

func (r *MemoryRepository) ReturnBook(ctx context.Context, userID, bookID string) (*models.BorrowResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, ok := r.books[bookID]
	if !ok {
		return &models.BorrowResult{Success: false, Message: "Book not found"}, nil
	}

	held := false
	for _, b := range ledger.Project(r.transactionsLocked(func(t models.Transaction) bool {
		return t.UserID == userID
	})) {
		if b.Book.ID == bookID {
			held = true
			break
		}
	}
	if !held {
		return &models.BorrowResult{Success: false, Message: "You have not borrowed this book"}, nil
	}

	now := r.clock()
	book.Stock++
	book.UpdatedAt = now
	r.books[bookID] = book
	r.transactions = append(r.transactions, models.Transaction{
		ID:              uuid.New().String(),
		UserID:          userID,
		BookID:          bookID,
		Action:          models.ActionReturn,
		TransactionDate: now,
	})

	return &models.BorrowResult{Success: true, Message: "Book returned successfully"}, nil
}

func (r *MemoryRepository) GetUserBorrowCount(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return ledger.Count(r.transactionsLocked(func(t models.Transaction) bool {
		return t.UserID == userID
	})), nil
}
