package api_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/rliang/library-server/internal/api/testutils"
	"github.com/rliang/library-server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func borrow(t *testing.T, testCtx *testutils.TestContext, jwt, bookID string) models.BorrowResult {
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/books/"+bookID+"/borrow",
		nil,
		testutils.AuthHeaders(jwt),
	)
	require.Equal(t, http.StatusOK, w.Code)

	var result models.BorrowResult
	testutils.DecodeJSON(t, w, &result)
	return result
}

func returnBook(t *testing.T, testCtx *testutils.TestContext, jwt, bookID string) models.BorrowResult {
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/books/"+bookID+"/return",
		nil,
		testutils.AuthHeaders(jwt),
	)
	require.Equal(t, http.StatusOK, w.Code)

	var result models.BorrowResult
	testutils.DecodeJSON(t, w, &result)
	return result
}

func bookStock(t *testing.T, testCtx *testutils.TestContext, bookID string) int {
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		"/api/books/"+bookID,
		nil,
		testutils.AuthHeaders(testCtx.StudentJWT),
	)
	require.Equal(t, http.StatusOK, w.Code)

	var book models.Book
	testutils.DecodeJSON(t, w, &book)
	return book.Stock
}

func TestBorrowAndReturn(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	book := testutils.AddTestBook(t, testCtx.Repository, "B001", "Dune", "Frank Herbert", 2)

	// Test case 1: Successful borrow decrements stock
	result := borrow(t, testCtx, testCtx.StudentJWT, book.ID)
	assert.True(t, result.Success)
	assert.Equal(t, 1, bookStock(t, testCtx, book.ID))

	// Test case 2: Borrowing the same book again is a structured rejection
	result = borrow(t, testCtx, testCtx.StudentJWT, book.ID)
	assert.False(t, result.Success)
	assert.Equal(t, "You have already borrowed this book", result.Message)
	assert.Equal(t, 1, bookStock(t, testCtx, book.ID), "rejection must not touch stock")

	// Test case 3: Return restores stock
	result = returnBook(t, testCtx, testCtx.StudentJWT, book.ID)
	assert.True(t, result.Success)
	assert.Equal(t, 2, bookStock(t, testCtx, book.ID))

	// Test case 4: Returning a book not held is a structured rejection
	result = returnBook(t, testCtx, testCtx.StudentJWT, book.ID)
	assert.False(t, result.Success)
	assert.Equal(t, "You have not borrowed this book", result.Message)

	// Test case 5: Unknown book
	result = borrow(t, testCtx, testCtx.StudentJWT, "no-such-book")
	assert.False(t, result.Success)
	assert.Equal(t, "Book not found", result.Message)
}

func TestBorrowLimitByRole(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	var books []models.Book
	for i := 0; i < 6; i++ {
		books = append(books, testutils.AddTestBook(
			t, testCtx.Repository,
			fmt.Sprintf("B%03d", i+1), fmt.Sprintf("Volume %d", i+1), "anon", 5,
		))
	}

	// Test case 1: A student holds at most 3 books
	for i := 0; i < 3; i++ {
		result := borrow(t, testCtx, testCtx.StudentJWT, books[i].ID)
		require.True(t, result.Success, "borrow %d should succeed", i+1)
	}

	result := borrow(t, testCtx, testCtx.StudentJWT, books[3].ID)
	assert.False(t, result.Success)
	assert.Equal(t, "You have reached your borrow limit of 3 books", result.Message)

	// Test case 2: Returning one frees a slot
	require.True(t, returnBook(t, testCtx, testCtx.StudentJWT, books[0].ID).Success)
	assert.True(t, borrow(t, testCtx, testCtx.StudentJWT, books[3].ID).Success)

	// Test case 3: Promotion to teacher raises the limit to 5 mid-session
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPut,
		"/api/profiles/"+testCtx.StudentID+"/role",
		models.UpdateRoleRequest{Role: models.RoleTeacher},
		testutils.AuthHeaders(testCtx.StaffJWT),
	)
	require.Equal(t, http.StatusOK, w.Code)

	require.True(t, borrow(t, testCtx, testCtx.StudentJWT, books[4].ID).Success)
	require.True(t, borrow(t, testCtx, testCtx.StudentJWT, books[0].ID).Success)

	result = borrow(t, testCtx, testCtx.StudentJWT, books[5].ID)
	assert.False(t, result.Success)
	assert.Equal(t, "You have reached your borrow limit of 5 books", result.Message)

	// Test case 4: Staff have no limit
	for i := 0; i < 6; i++ {
		result = borrow(t, testCtx, testCtx.StaffJWT, books[i].ID)
		require.True(t, result.Success, "staff borrow %d should succeed", i+1)
	}
}

func TestBorrowStockExhausted(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	book := testutils.AddTestBook(t, testCtx.Repository, "B001", "Dune", "Frank Herbert", 1)

	require.True(t, borrow(t, testCtx, testCtx.StaffJWT, book.ID).Success)

	result := borrow(t, testCtx, testCtx.StudentJWT, book.ID)
	assert.False(t, result.Success)
	assert.Equal(t, "This book is out of stock", result.Message)
	assert.Equal(t, 0, bookStock(t, testCtx, book.ID))
}

func TestBorrowCountEndpoint(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	a := testutils.AddTestBook(t, testCtx.Repository, "B001", "Dune", "Frank Herbert", 2)
	b := testutils.AddTestBook(t, testCtx.Repository, "B002", "Hyperion", "Dan Simmons", 2)

	require.True(t, borrow(t, testCtx, testCtx.StudentJWT, a.ID).Success)
	require.True(t, borrow(t, testCtx, testCtx.StudentJWT, b.ID).Success)
	require.True(t, returnBook(t, testCtx, testCtx.StudentJWT, a.ID).Success)

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		"/api/users/"+testCtx.StudentID+"/borrow-count",
		nil,
		testutils.AuthHeaders(testCtx.StudentJWT),
	)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.BorrowCountResponse
	testutils.DecodeJSON(t, w, &resp)
	assert.Equal(t, 1, resp.Count)
}

func TestTransactionLog(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	book := testutils.AddTestBook(t, testCtx.Repository, "B001", "Dune", "Frank Herbert", 2)

	require.True(t, borrow(t, testCtx, testCtx.StudentJWT, book.ID).Success)
	require.True(t, returnBook(t, testCtx, testCtx.StudentJWT, book.ID).Success)

	// Test case 1: Own log, newest first, with the book joined
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		"/api/transactions/me",
		nil,
		testutils.AuthHeaders(testCtx.StudentJWT),
	)
	require.Equal(t, http.StatusOK, w.Code)

	var log []models.TransactionDetail
	testutils.DecodeJSON(t, w, &log)
	require.Len(t, log, 2)
	assert.Equal(t, models.ActionReturn, log[0].Action)
	assert.Equal(t, models.ActionBorrow, log[1].Action)
	require.NotNil(t, log[0].Book)
	assert.Equal(t, "Dune", log[0].Book.Title)
	require.NotNil(t, log[0].User)
	assert.Equal(t, "some_student", log[0].User.Username)

	// Test case 2: The full log is staff-only
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		"/api/transactions",
		nil,
		testutils.AuthHeaders(testCtx.StudentJWT),
	)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		"/api/transactions",
		nil,
		testutils.AuthHeaders(testCtx.StaffJWT),
	)
	require.Equal(t, http.StatusOK, w.Code)

	testutils.DecodeJSON(t, w, &log)
	assert.Len(t, log, 2)
}
