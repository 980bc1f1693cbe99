// Package ledger derives current borrow state from the append-only
// transaction log. There is no "current borrows" table anywhere in the
// system: the log is the single source of truth, and every reader replays
// it through Project.
package ledger

import (
	"github.com/rliang/library-server/internal/models"
)

// Project computes the set of books currently borrowed by one user from
// their complete transaction history. The input is expected newest-first,
// as the store returns it; replay happens oldest to newest.
//
// Replay rules: a borrow sets (or overwrites) the entry for its book, so
// consecutive borrows without a return keep the latest borrow date; a return
// deletes the entry, and a return with no open borrow is a no-op. A
// transaction whose book relation failed to resolve is skipped entirely.
//
// Project is pure: the same input always yields the same result, and the
// input slice is not modified.
func Project(newestFirst []models.TransactionDetail) []models.BorrowedBook {
	open := make(map[string]models.BorrowedBook)

	for i := len(newestFirst) - 1; i >= 0; i-- {
		tx := newestFirst[i]
		if tx.Book == nil {
			continue
		}

		switch tx.Action {
		case models.ActionBorrow:
			open[tx.Book.ID] = models.BorrowedBook{
				Book:       *tx.Book,
				BorrowDate: tx.TransactionDate,
			}
		case models.ActionReturn:
			delete(open, tx.Book.ID)
		}
	}

	borrowed := make([]models.BorrowedBook, 0, len(open))
	for _, b := range open {
		borrowed = append(borrowed, b)
	}
	return borrowed
}

// Count returns how many books the log leaves currently borrowed
func Count(newestFirst []models.TransactionDetail) int {
	return len(Project(newestFirst))
}
