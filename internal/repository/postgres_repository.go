package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rliang/library-server/internal/ledger"
	"github.com/rliang/library-server/internal/models"
)

// ErrNotFound is returned when a referenced row does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUsername is returned when signup hits an existing username
var ErrDuplicateUsername = errors.New("username already taken")

// Repository interface defines the methods that any repository implementation must satisfy
type Repository interface {
	// Account and profile operations
	CreateAccount(ctx context.Context, account *models.Account, username string) (*models.Profile, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	GetAllProfiles(ctx context.Context) ([]models.Profile, error)
	UpdateProfileRole(ctx context.Context, id string, role models.Role) error
	TouchLastLogin(ctx context.Context, id string) error
	GetActiveUsers(ctx context.Context) ([]models.ActiveUser, error)

	// Book operations
	GetAllBooks(ctx context.Context) ([]models.Book, error)
	SearchBooks(ctx context.Context, query string) ([]models.Book, error)
	GetBook(ctx context.Context, id string) (*models.Book, error)
	CreateBook(ctx context.Context, book *models.Book) error
	UpdateBook(ctx context.Context, id string, updates models.UpdateBookRequest) error
	DeleteBook(ctx context.Context, id string) error

	// Transaction log operations (append-only; reads are newest first)
	GetUserTransactions(ctx context.Context, userID string) ([]models.TransactionDetail, error)
	GetAllTransactions(ctx context.Context) ([]models.TransactionDetail, error)

	// Atomic borrow/return procedures. Business-rule rejections come back
	// as a BorrowResult with success=false, never as an error.
	BorrowBook(ctx context.Context, userID, bookID string) (*models.BorrowResult, error)
	ReturnBook(ctx context.Context, userID, bookID string) (*models.BorrowResult, error)
	GetUserBorrowCount(ctx context.Context, userID string) (int, error)
}

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// GetDB returns the underlying database connection
func (r *PostgresRepository) GetDB() *sqlx.DB {
	return r.db
}

// Account and profile repository methods

// CreateAccount inserts the account and its profile in one transaction.
// The first profile ever created is promoted to staff; everyone after that
// starts as a student.
func (r *PostgresRepository) CreateAccount(
	ctx context.Context,
	account *models.Account,
	username string,
) (*models.Profile, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	account.CreatedAt = now

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE email = $1)`,
		account.Email).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		err = ErrDuplicateUsername
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		account.ID, account.Email, account.PasswordHash, account.CreatedAt)
	if err != nil {
		return nil, err
	}

	// Profile count decides the role; the accounts insert above holds the
	// uniqueness, this holds the first-registrant promotion.
	var count int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	if err != nil {
		return nil, err
	}

	role := models.RoleStudent
	if count == 0 {
		role = models.RoleStaff
	}

	profile := &models.Profile{
		ID:        account.ID,
		Username:  username,
		Role:      role,
		CreatedAt: now,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (id, username, role, created_at) VALUES ($1, $2, $3, $4)`,
		profile.ID, profile.Username, profile.Role, profile.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return profile, nil
}

func (r *PostgresRepository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT * FROM accounts WHERE email = $1`

	var account models.Account
	err := r.db.GetContext(ctx, &account, query, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Account not found
		}
		return nil, err
	}

	return &account, nil
}

func (r *PostgresRepository) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	query := `SELECT * FROM profiles WHERE id = $1`

	var profile models.Profile
	err := r.db.GetContext(ctx, &profile, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Profile not found
		}
		return nil, err
	}

	return &profile, nil
}

func (r *PostgresRepository) GetAllProfiles(ctx context.Context) ([]models.Profile, error) {
	query := `SELECT * FROM profiles ORDER BY created_at ASC`

	var profiles []models.Profile
	err := r.db.SelectContext(ctx, &profiles, query)
	if err != nil {
		return nil, err
	}

	return profiles, nil
}

func (r *PostgresRepository) UpdateProfileRole(ctx context.Context, id string, role models.Role) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET role = $1 WHERE id = $2`, role, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) TouchLastLogin(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET last_login_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	return err
}

func (r *PostgresRepository) GetActiveUsers(ctx context.Context) ([]models.ActiveUser, error) {
	query := `SELECT * FROM active_users ORDER BY last_login_at DESC`

	var users []models.ActiveUser
	err := r.db.SelectContext(ctx, &users, query)
	if err != nil {
		return nil, err
	}

	return users, nil
}

// Book repository methods
func (r *PostgresRepository) GetAllBooks(ctx context.Context) ([]models.Book, error) {
	query := `SELECT * FROM books ORDER BY book_id ASC`

	var books []models.Book
	err := r.db.SelectContext(ctx, &books, query)
	if err != nil {
		return nil, err
	}

	return books, nil
}

func (r *PostgresRepository) SearchBooks(ctx context.Context, query string) ([]models.Book, error) {
	// Case-insensitive substring match over title, author and book code.
	pattern := "%" + query + "%"

	var books []models.Book
	err := r.db.SelectContext(ctx, &books,
		`SELECT * FROM books
		WHERE title ILIKE $1 OR author ILIKE $1 OR book_id ILIKE $1
		ORDER BY book_id ASC`,
		pattern)
	if err != nil {
		return nil, err
	}

	return books, nil
}

func (r *PostgresRepository) GetBook(ctx context.Context, id string) (*models.Book, error) {
	query := `SELECT * FROM books WHERE id = $1`

	var book models.Book
	err := r.db.GetContext(ctx, &book, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Book not found
		}
		return nil, err
	}

	return &book, nil
}

func (r *PostgresRepository) CreateBook(ctx context.Context, book *models.Book) error {
	if book.ID == "" {
		book.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	book.CreatedAt = now
	book.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO books (id, book_id, title, author, stock, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		book.ID, book.BookID, book.Title, book.Author, book.Stock, book.Content,
		book.CreatedAt, book.UpdatedAt)

	return err
}

func (r *PostgresRepository) UpdateBook(ctx context.Context, id string, updates models.UpdateBookRequest) error {
	book, err := r.GetBook(ctx, id)
	if err != nil {
		return err
	}
	if book == nil {
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

	_, err = r.db.ExecContext(ctx,
		`UPDATE books SET title = $1, author = $2, stock = $3, content = $4, updated_at = $5
		WHERE id = $6`,
		book.Title, book.Author, book.Stock, book.Content, time.Now().UTC(), id)

	return err
}

func (r *PostgresRepository) DeleteBook(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Transaction log repository methods

// transactionRow flattens a transaction joined with its (possibly deleted)
// book and user for sqlx scanning.
type transactionRow struct {
	models.Transaction
	BID        *string    `db:"b_id"`
	BBookID    *string    `db:"b_book_id"`
	BTitle     *string    `db:"b_title"`
	BAuthor    *string    `db:"b_author"`
	BStock     *int       `db:"b_stock"`
	BContent   *string    `db:"b_content"`
	BCreatedAt *time.Time `db:"b_created_at"`
	BUpdatedAt *time.Time `db:"b_updated_at"`
	PID        *string    `db:"p_id"`
	PUsername  *string    `db:"p_username"`
	PRole      *string    `db:"p_role"`
	PCreatedAt *time.Time `db:"p_created_at"`
	PLastLogin *time.Time `db:"p_last_login_at"`
}

const transactionSelect = `
	SELECT t.id, t.user_id, t.book_id, t.action, t.transaction_date,
		b.id AS b_id, b.book_id AS b_book_id, b.title AS b_title,
		b.author AS b_author, b.stock AS b_stock, b.content AS b_content,
		b.created_at AS b_created_at, b.updated_at AS b_updated_at,
		p.id AS p_id, p.username AS p_username, p.role AS p_role,
		p.created_at AS p_created_at, p.last_login_at AS p_last_login_at
	FROM transactions t
	LEFT JOIN books b ON b.id = t.book_id
	LEFT JOIN profiles p ON p.id = t.user_id
`

func (row transactionRow) detail() models.TransactionDetail {
	detail := models.TransactionDetail{Transaction: row.Transaction}

	if row.BID != nil {
		detail.Book = &models.Book{
			ID:        *row.BID,
			BookID:    *row.BBookID,
			Title:     *row.BTitle,
			Author:    *row.BAuthor,
			Stock:     *row.BStock,
			CreatedAt: *row.BCreatedAt,
			UpdatedAt: *row.BUpdatedAt,
		}
		if row.BContent != nil {
			detail.Book.Content = *row.BContent
		}
	}

	if row.PID != nil {
		detail.User = &models.Profile{
			ID:          *row.PID,
			Username:    *row.PUsername,
			Role:        models.Role(*row.PRole),
			CreatedAt:   *row.PCreatedAt,
			LastLoginAt: row.PLastLogin,
		}
	}

	return detail
}

func (r *PostgresRepository) selectTransactions(
	ctx context.Context,
	q sqlx.QueryerContext,
	query string,
	args ...interface{},
) ([]models.TransactionDetail, error) {
	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, err
	}

	details := make([]models.TransactionDetail, 0, len(rows))
	for _, row := range rows {
		details = append(details, row.detail())
	}
	return details, nil
}

func (r *PostgresRepository) GetUserTransactions(ctx context.Context, userID string) ([]models.TransactionDetail, error) {
	query := transactionSelect + ` WHERE t.user_id = $1 ORDER BY t.transaction_date DESC`
	return r.selectTransactions(ctx, r.db, query, userID)
}

func (r *PostgresRepository) GetAllTransactions(ctx context.Context) ([]models.TransactionDetail, error) {
	query := transactionSelect + ` ORDER BY t.transaction_date DESC`
	return r.selectTransactions(ctx, r.db, query)
}

// Borrow/return procedures

// BorrowBook atomically checks eligibility, decrements stock and appends a
// borrow transaction. The book row is locked for the duration so concurrent
// borrowers cannot drive stock below zero.
func (r *PostgresRepository) BorrowBook(ctx context.Context, userID, bookID string) (*models.BorrowResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	var book models.Book
	err = tx.GetContext(ctx, &book, `SELECT * FROM books WHERE id = $1 FOR UPDATE`, bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			tx.Rollback()
			return &models.BorrowResult{Success: false, Message: "Book not found"}, nil
		}
		return nil, err
	}

	var profile models.Profile
	err = tx.GetContext(ctx, &profile, `SELECT * FROM profiles WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("profile %s: %w", userID, ErrNotFound)
		}
		return nil, err
	}

	// Current borrow state comes from replaying the caller's log inside
	// the same transaction.
	history, err := r.selectTransactions(ctx, tx,
		transactionSelect+` WHERE t.user_id = $1 ORDER BY t.transaction_date DESC`, userID)
	if err != nil {
		return nil, err
	}
	borrowed := ledger.Project(history)

	for _, b := range borrowed {
		if b.Book.ID == bookID {
			tx.Rollback()
			return &models.BorrowResult{Success: false, Message: "You have already borrowed this book"}, nil
		}
	}

	if limit, unlimited := profile.Role.BorrowLimit(); !unlimited && len(borrowed) >= limit {
		tx.Rollback()
		return &models.BorrowResult{
			Success: false,
			Message: fmt.Sprintf("You have reached your borrow limit of %d books", limit),
		}, nil
	}

	if book.Stock <= 0 {
		tx.Rollback()
		return &models.BorrowResult{Success: false, Message: "This book is out of stock"}, nil
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE books SET stock = stock - 1, updated_at = $1 WHERE id = $2`, now, bookID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, book_id, action, transaction_date)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), userID, bookID, models.ActionBorrow, now)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &models.BorrowResult{Success: true, Message: "Book borrowed successfully"}, nil
}

// ReturnBook atomically verifies the book is currently held, increments
// stock and appends a return transaction.
func (r *PostgresRepository) ReturnBook(ctx context.Context, userID, bookID string) (*models.BorrowResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	var book models.Book
	err = tx.GetContext(ctx, &book, `SELECT * FROM books WHERE id = $1 FOR UPDATE`, bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			tx.Rollback()
			return &models.BorrowResult{Success: false, Message: "Book not found"}, nil
		}
		return nil, err
	}

	history, err := r.selectTransactions(ctx, tx,
		transactionSelect+` WHERE t.user_id = $1 ORDER BY t.transaction_date DESC`, userID)
	if err != nil {
		return nil, err
	}

	held := false
	for _, b := range ledger.Project(history) {
		if b.Book.ID == bookID {
			held = true
			break
		}
	}
	if !held {
		tx.Rollback()
		return &models.BorrowResult{Success: false, Message: "You have not borrowed this book"}, nil
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE books SET stock = stock + 1, updated_at = $1 WHERE id = $2`, now, bookID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, book_id, action, transaction_date)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), userID, bookID, models.ActionReturn, now)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &models.BorrowResult{Success: true, Message: "Book returned successfully"}, nil
}

func (r *PostgresRepository) GetUserBorrowCount(ctx context.Context, userID string) (int, error) {
	history, err := r.GetUserTransactions(ctx, userID)
	if err != nil {
		return 0, err
	}
	return ledger.Count(history), nil
}
