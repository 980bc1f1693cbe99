// Package client speaks the server's REST API and implements the auth
// surface the session manager drives. One Client holds at most one session
// token at a time.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rliang/library-server/internal/models"
	"github.com/rliang/library-server/internal/session"
)

// ErrUnauthorized is returned when the server rejects the session token.
// The client also pushes a signed-out event so the session manager observes
// the invalidation.
var ErrUnauthorized = errors.New("unauthorized")

// RemoteError is a non-2xx response that is not an auth failure
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Client is an HTTP client for the library server
type Client struct {
	baseURL string
	http    *http.Client
	events  chan session.Event

	mu     sync.Mutex
	token  string
	userID string
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		events:  make(chan session.Event, 16),
	}
}

// Events delivers session transitions detected outside the manager's own
// calls, such as token expiry discovered during a data fetch. Feed it to
// session.Manager.Run.
func (c *Client) Events() <-chan session.Event {
	return c.events
}

// RestoreToken installs a token persisted from an earlier run. The next
// ResolveSession call decides whether it still identifies a session.
func (c *Client) RestoreToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.userID = ""
}

// session.AuthClient implementation

func (c *Client) ResolveSession(ctx context.Context) (*session.Principal, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return nil, nil
	}

	var resp models.SessionResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/auth/session", nil, &resp)
	if errors.Is(err, ErrUnauthorized) {
		// Token expired or revoked: no session.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.userID = resp.UserID
	c.mu.Unlock()
	return &session.Principal{ID: resp.UserID, Token: token}, nil
}

func (c *Client) SignIn(ctx context.Context, username, password string) (*session.Principal, error) {
	return c.authenticate(ctx, "/api/auth/login", username, password)
}

func (c *Client) SignUp(ctx context.Context, username, password string) (*session.Principal, error) {
	return c.authenticate(ctx, "/api/auth/signup", username, password)
}

func (c *Client) authenticate(ctx context.Context, path, username, password string) (*session.Principal, error) {
	var resp models.AuthResponse
	req := models.LoginRequest{Username: username, Password: password}
	if err := c.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.token = resp.Token
	c.userID = resp.UserID
	c.mu.Unlock()
	return &session.Principal{ID: resp.UserID, Token: resp.Token}, nil
}

// SignOut drops the local token before asking the server, so a failed
// request still leaves this client signed out.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	hadToken := c.token != ""
	c.mu.Unlock()

	var err error
	if hadToken {
		err = c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	}

	c.mu.Lock()
	c.token = ""
	c.userID = ""
	c.mu.Unlock()

	if errors.Is(err, ErrUnauthorized) {
		return nil // already invalid remotely, nothing to undo
	}
	return err
}

// FetchProfile returns the live profile of the signed-in user. The server
// only exposes the caller's own profile to non-staff, so userID must be the
// current principal's.
func (c *Client) FetchProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/api/profiles/me", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Store calls

func (c *Client) Books(ctx context.Context) ([]models.Book, error) {
	var books []models.Book
	err := c.doJSON(ctx, http.MethodGet, "/api/books", nil, &books)
	return books, err
}

func (c *Client) SearchBooks(ctx context.Context, query string) ([]models.Book, error) {
	var books []models.Book
	path := "/api/books/search?q=" + url.QueryEscape(query)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &books)
	return books, err
}

// MyTransactions fetches the caller's full transaction log, newest first,
// ready for ledger.Project.
func (c *Client) MyTransactions(ctx context.Context) ([]models.TransactionDetail, error) {
	var transactions []models.TransactionDetail
	err := c.doJSON(ctx, http.MethodGet, "/api/transactions/me", nil, &transactions)
	return transactions, err
}

func (c *Client) BorrowBook(ctx context.Context, bookID string) (*models.BorrowResult, error) {
	var result models.BorrowResult
	err := c.doJSON(ctx, http.MethodPost, "/api/books/"+bookID+"/borrow", nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ReturnBook(ctx context.Context, bookID string) (*models.BorrowResult, error) {
	var result models.BorrowResult
	err := c.doJSON(ctx, http.MethodPost, "/api/books/"+bookID+"/return", nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) BorrowCount(ctx context.Context, userID string) (int, error) {
	var resp models.BorrowCountResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/users/"+userID+"/borrow-count", nil, &resp)
	return resp.Count, err
}

// doJSON performs a request with the current token and decodes the JSON
// response into out. A 401 clears the token and pushes a signed-out event.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidate(token)
		return ErrUnauthorized
	}

	if resp.StatusCode >= 400 {
		var remote models.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&remote); decodeErr != nil {
			return &RemoteError{StatusCode: resp.StatusCode, Code: "UNKNOWN", Message: resp.Status}
		}
		return &RemoteError{StatusCode: resp.StatusCode, Code: remote.Code, Message: remote.Message}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// invalidate clears the token that just failed and notifies the session
// manager. A token refreshed concurrently by another call is left alone.
func (c *Client) invalidate(failedToken string) {
	if failedToken == "" {
		return
	}

	c.mu.Lock()
	if c.token != failedToken {
		c.mu.Unlock()
		return
	}
	c.token = ""
	c.userID = ""
	c.mu.Unlock()

	select {
	case c.events <- session.Event{Principal: nil}:
	default:
	}
}
