package ledger_test

import (
	"testing"
	"time"

	"github.com/rliang/library-server/internal/ledger"
	"github.com/rliang/library-server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func book(id, code, title string) *models.Book {
	return &models.Book{ID: id, BookID: code, Title: title, Author: "anon"}
}

func day(t *testing.T, date string) time.Time {
	parsed, err := time.Parse("2006-01-02", date)
	require.NoError(t, err)
	return parsed
}

func tx(b *models.Book, action, date string, t *testing.T) models.TransactionDetail {
	detail := models.TransactionDetail{
		Transaction: models.Transaction{
			Action:          action,
			TransactionDate: day(t, date),
		},
		Book: b,
	}
	if b != nil {
		detail.BookID = b.ID
	}
	return detail
}

// newestFirst builds a log in store order from chronologically ordered events
func newestFirst(txs ...models.TransactionDetail) []models.TransactionDetail {
	out := make([]models.TransactionDetail, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		out = append(out, txs[i])
	}
	return out
}

func TestProjectSingleBorrow(t *testing.T) {
	b := book("1", "B001", "Dune")
	log := newestFirst(tx(b, models.ActionBorrow, "2024-01-02", t))

	borrowed := ledger.Project(log)

	require.Len(t, borrowed, 1)
	assert.Equal(t, *b, borrowed[0].Book)
	assert.Equal(t, day(t, "2024-01-02"), borrowed[0].BorrowDate)
}

func TestProjectBorrowThenReturn(t *testing.T) {
	b := book("1", "B001", "Dune")
	log := newestFirst(
		tx(b, models.ActionBorrow, "2024-01-02", t),
		tx(b, models.ActionReturn, "2024-01-05", t),
	)

	assert.Empty(t, ledger.Project(log))
}

func TestProjectReturnWithoutBorrow(t *testing.T) {
	b := book("1", "B001", "Dune")
	other := book("2", "B002", "Hyperion")
	log := newestFirst(
		tx(other, models.ActionBorrow, "2024-01-01", t),
		tx(b, models.ActionReturn, "2024-01-02", t), // never borrowed
	)

	borrowed := ledger.Project(log)

	require.Len(t, borrowed, 1)
	assert.Equal(t, "2", borrowed[0].Book.ID)
}

func TestProjectDoubleBorrowKeepsLatestDate(t *testing.T) {
	b := book("1", "B001", "Dune")
	log := newestFirst(
		tx(b, models.ActionBorrow, "2024-01-02", t),
		tx(b, models.ActionBorrow, "2024-01-07", t),
	)

	borrowed := ledger.Project(log)

	require.Len(t, borrowed, 1)
	assert.Equal(t, day(t, "2024-01-07"), borrowed[0].BorrowDate)
}

func TestProjectSkipsUnresolvedBook(t *testing.T) {
	kept := book("2", "B002", "Hyperion")
	log := newestFirst(
		tx(nil, models.ActionBorrow, "2024-01-01", t), // book deleted since
		tx(kept, models.ActionBorrow, "2024-01-02", t),
		tx(nil, models.ActionReturn, "2024-01-03", t),
	)

	borrowed := ledger.Project(log)

	require.Len(t, borrowed, 1)
	assert.Equal(t, "2", borrowed[0].Book.ID)
}

func TestProjectMixedLog(t *testing.T) {
	x := book("x", "B00X", "Foundation")
	y := book("y", "B00Y", "Solaris")

	// Chronological: borrow X, borrow Y, return X. The store serves the
	// log newest first.
	log := newestFirst(
		tx(x, models.ActionBorrow, "2024-01-02", t),
		tx(y, models.ActionBorrow, "2024-01-03", t),
		tx(x, models.ActionReturn, "2024-01-05", t),
	)

	borrowed := ledger.Project(log)

	require.Len(t, borrowed, 1)
	assert.Equal(t, "y", borrowed[0].Book.ID)
	assert.Equal(t, day(t, "2024-01-03"), borrowed[0].BorrowDate)
}

func TestProjectDeterministic(t *testing.T) {
	x := book("x", "B00X", "Foundation")
	y := book("y", "B00Y", "Solaris")
	log := newestFirst(
		tx(x, models.ActionBorrow, "2024-01-01", t),
		tx(y, models.ActionBorrow, "2024-01-02", t),
		tx(x, models.ActionReturn, "2024-01-03", t),
		tx(x, models.ActionBorrow, "2024-01-04", t),
	)

	first := ledger.Project(log)
	second := ledger.Project(log)

	assert.ElementsMatch(t, first, second)
	assert.Len(t, first, 2)
}

func TestProjectDoesNotMutateInput(t *testing.T) {
	b := book("1", "B001", "Dune")
	log := newestFirst(
		tx(b, models.ActionBorrow, "2024-01-02", t),
		tx(b, models.ActionReturn, "2024-01-05", t),
	)

	original := make([]models.TransactionDetail, len(log))
	copy(original, log)

	ledger.Project(log)

	assert.Equal(t, original, log)
}

func TestProjectEmptyLog(t *testing.T) {
	assert.Empty(t, ledger.Project(nil))
	assert.Empty(t, ledger.Project([]models.TransactionDetail{}))
}

func TestCount(t *testing.T) {
	x := book("x", "B00X", "Foundation")
	y := book("y", "B00Y", "Solaris")
	log := newestFirst(
		tx(x, models.ActionBorrow, "2024-01-01", t),
		tx(y, models.ActionBorrow, "2024-01-02", t),
		tx(x, models.ActionReturn, "2024-01-03", t),
	)

	assert.Equal(t, 1, ledger.Count(log))
}
