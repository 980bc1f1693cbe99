package ledger

import (
	"sync"

	"github.com/rliang/library-server/internal/models"
)

// View holds the latest projection of a user's borrow state and guards it
// against out-of-order fetch responses. Fetching is the caller's job: call
// Begin before issuing a fetch, then Apply with the returned generation.
// A response whose generation is no longer current is dropped, so a stale
// fetch can never overwrite fresher state.
//
// View also tracks in-flight borrow/return mutations per book so the UI can
// disable the triggering control and prevent duplicate submissions.
type View struct {
	mu       sync.Mutex
	gen      uint64
	borrowed []models.BorrowedBook
	pending  map[string]bool
}

func NewView() *View {
	return &View{pending: make(map[string]bool)}
}

// Begin starts a new fetch generation and returns its token. Any generation
// issued earlier becomes stale.
func (v *View) Begin() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gen++
	return v.gen
}

// Apply projects the fetched log and installs the result, unless gen is
// stale. Returns whether the projection was installed.
func (v *View) Apply(gen uint64, newestFirst []models.TransactionDetail) bool {
	projected := Project(newestFirst)

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return false
	}
	v.borrowed = projected
	return true
}

// Invalidate discards the current generation so that any in-flight fetch is
// ignored on arrival. Used when the consuming view is torn down.
func (v *View) Invalidate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gen++
	v.borrowed = nil
}

// Borrowed returns the most recently installed projection
func (v *View) Borrowed() []models.BorrowedBook {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.BorrowedBook, len(v.borrowed))
	copy(out, v.borrowed)
	return out
}

// StartMutation marks a borrow/return for the book as in flight. It returns
// false if one is already pending, in which case the caller must not submit.
func (v *View) StartMutation(bookID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pending[bookID] {
		return false
	}
	v.pending[bookID] = true
	return true
}

// EndMutation clears the in-flight mark for the book
func (v *View) EndMutation(bookID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.pending, bookID)
}

// Mutating reports whether a mutation for the book is in flight
func (v *View) Mutating(bookID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending[bookID]
}
