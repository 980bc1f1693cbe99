package config

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// SetupDatabase initializes the database connection
func SetupDatabase(cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary tables in the database
func createTables(db *sqlx.DB) error {
	// Create accounts table (credentials only)
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id VARCHAR(36) PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create profiles table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			id VARCHAR(36) PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
			username VARCHAR(64) UNIQUE NOT NULL,
			role VARCHAR(10) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_login_at TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	// Create books table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS books (
			id VARCHAR(36) PRIMARY KEY,
			book_id VARCHAR(64) UNIQUE NOT NULL,
			title VARCHAR(255) NOT NULL,
			author VARCHAR(255) NOT NULL,
			stock INTEGER NOT NULL CHECK (stock >= 0),
			content TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create transactions table (append-only borrow ledger)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS transactions (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(36) NOT NULL,
			book_id VARCHAR(36) NOT NULL,
			action VARCHAR(10) NOT NULL CHECK (action IN ('borrow', 'return')),
			transaction_date TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Active users view: profiles with a login in the last 30 days
	_, err = db.Exec(`
		CREATE OR REPLACE VIEW active_users AS
		SELECT id, username, role, last_login_at
		FROM profiles
		WHERE last_login_at IS NOT NULL
		  AND last_login_at > NOW() - INTERVAL '30 days'
	`)
	if err != nil {
		return err
	}

	// Create indexes for better performance
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, transaction_date)",
		"CREATE INDEX IF NOT EXISTS idx_books_book_id ON books(book_id)",
	}

	for _, idx := range indexes {
		_, err = db.Exec(idx)
		if err != nil {
			log.Printf("Warning: Failed to create index: %v", err)
			// Don't return error here, indexes are not critical
		}
	}

	return nil
}
