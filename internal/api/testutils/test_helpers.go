package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rliang/library-server/internal/api"
	"github.com/rliang/library-server/internal/models"
	"github.com/rliang/library-server/internal/repository"
	"github.com/rliang/library-server/internal/service"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const TestJWTSecret = "test-secret-key"

// TestContext holds all dependencies for tests. The repository is the
// in-memory implementation so the suite runs without a database.
type TestContext struct {
	Router     *gin.Engine
	Repository *repository.MemoryRepository
	Service    service.Service
	JWTSecret  []byte

	// StaffID/StaffJWT belong to the first registered profile, which the
	// repository promotes to staff. StudentID/StudentJWT belong to a
	// regular student.
	StaffID    string
	StaffJWT   string
	StudentID  string
	StudentJWT string
}

// SetupTestContext creates a new test context with initialized dependencies
func SetupTestContext(t *testing.T) *TestContext {
	repo := repository.NewMemoryRepository()
	svc := service.NewDefaultService(repo, TestJWTSecret)
	handler := api.NewHandler(svc)

	gin.SetMode(gin.TestMode)
	router := gin.New()

	// Add middleware for JWT secret
	router.Use(func(c *gin.Context) {
		c.Set("jwtSecret", []byte(TestJWTSecret))
		c.Next()
	})

	handler.SetupRoutes(router)

	staffID, staffJWT := CreateTestUser(t, repo, "head_librarian")
	studentID, studentJWT := CreateTestUser(t, repo, "some_student")

	return &TestContext{
		Router:     router,
		Repository: repo,
		Service:    svc,
		JWTSecret:  []byte(TestJWTSecret),
		StaffID:    staffID,
		StaffJWT:   staffJWT,
		StudentID:  studentID,
		StudentJWT: studentJWT,
	}
}

// CreateTestUser registers a user directly through the repository and
// returns its id and a valid JWT. Password is always "testpassword".
func CreateTestUser(t *testing.T, repo repository.Repository, username string) (string, string) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte("testpassword"), bcrypt.DefaultCost)
	require.NoError(t, err)

	account := &models.Account{
		ID:           uuid.New().String(),
		Email:        service.SyntheticEmail(username),
		PasswordHash: string(hashedPassword),
	}

	profile, err := repo.CreateAccount(context.Background(), account, username)
	require.NoError(t, err, "Failed to create test user")

	return profile.ID, SignJWT(t, profile.ID)
}

// SignJWT generates a valid token for the user with the test secret
func SignJWT(t *testing.T, userID string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})

	tokenString, err := token.SignedString([]byte(TestJWTSecret))
	require.NoError(t, err, "Failed to generate JWT token")
	return tokenString
}

// AddTestBook inserts a book through the repository
func AddTestBook(t *testing.T, repo repository.Repository, code, title, author string, stock int) models.Book {
	book := models.Book{
		ID:     uuid.New().String(),
		BookID: code,
		Title:  title,
		Author: author,
		Stock:  stock,
	}
	err := repo.CreateBook(context.Background(), &book)
	require.NoError(t, err, "Failed to create test book")
	return book
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer

	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}

// DecodeJSON unmarshals a recorded response body into out
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), "Failed to decode response body")
}
