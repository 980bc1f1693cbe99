package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rliang/library-server/internal/models"
	"github.com/rliang/library-server/internal/repository"
	"github.com/rliang/library-server/internal/service"
)

// Handler holds the HTTP handlers for the API
type Handler struct {
	svc service.Service
}

// NewHandler creates a new API handler
func NewHandler(svc service.Service) *Handler {
	return &Handler{svc: svc}
}

// SetupRoutes registers all API routes on the router
func (h *Handler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api")

	auth := api.Group("/auth")
	{
		auth.POST("/signup", h.SignUp)
		auth.POST("/login", h.Login)
		auth.POST("/logout", AuthMiddleware(), h.Logout)
		auth.GET("/session", AuthMiddleware(), h.Session)
	}

	profiles := api.Group("/profiles", AuthMiddleware())
	{
		profiles.GET("/me", h.MyProfile)
		profiles.GET("", RequireRole(h.svc, models.RoleStaff), h.ListProfiles)
		profiles.PUT("/:id/role", RequireRole(h.svc, models.RoleStaff), h.UpdateRole)
	}

	users := api.Group("/users", AuthMiddleware())
	{
		users.GET("/active", RequireRole(h.svc, models.RoleStaff), h.ActiveUsers)
		users.GET("/:id/borrow-count", h.BorrowCount)
	}

	books := api.Group("/books", AuthMiddleware())
	{
		books.GET("", h.ListBooks)
		books.GET("/search", h.SearchBooks)
		books.GET("/:id", h.GetBook)
		books.POST("", RequireRole(h.svc, models.RoleStaff), h.CreateBook)
		books.PUT("/:id", RequireRole(h.svc, models.RoleStaff), h.UpdateBook)
		books.DELETE("/:id", RequireRole(h.svc, models.RoleStaff), h.DeleteBook)
		books.POST("/:id/borrow", h.BorrowBook)
		books.POST("/:id/return", h.ReturnBook)
	}

	transactions := api.Group("/transactions", AuthMiddleware())
	{
		transactions.GET("/me", h.MyTransactions)
		transactions.GET("", RequireRole(h.svc, models.RoleStaff), h.AllTransactions)
	}
}

// Auth handlers

func (h *Handler) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	resp, err := h.svc.SignUp(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidUsername), errors.Is(err, service.ErrPasswordTooShort):
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, service.ErrUsernameTaken):
			writeError(c, http.StatusConflict, "CONFLICT", err.Error())
		default:
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create account")
		}
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	resp, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidUsername):
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		default:
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to log in")
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Logout acknowledges the sign-out. Tokens are stateless, so the client
// clears its session optimistically; this endpoint exists so remote
// invalidation has somewhere to grow.
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) Session(c *gin.Context) {
	resp, err := h.svc.ResolveSession(c.Request.Context(), c.GetString("userId"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to resolve session")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Profile handlers

func (h *Handler) MyProfile(c *gin.Context) {
	profile, err := h.svc.GetProfile(c.Request.Context(), c.GetString("userId"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load profile")
		return
	}
	if profile == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Profile not found")
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) ListProfiles(c *gin.Context) {
	profiles, err := h.svc.ListProfiles(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list profiles")
		return
	}
	c.JSON(http.StatusOK, profiles)
}

func (h *Handler) UpdateRole(c *gin.Context) {
	var req models.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	err := h.svc.UpdateRole(c.Request.Context(), c.Param("id"), req.Role)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRole):
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, repository.ErrNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Profile not found")
		default:
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update role")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) ActiveUsers(c *gin.Context) {
	users, err := h.svc.ActiveUsers(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list active users")
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) BorrowCount(c *gin.Context) {
	userID := c.Param("id")
	count, err := h.svc.BorrowCount(c.Request.Context(), userID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to count borrows")
		return
	}
	c.JSON(http.StatusOK, models.BorrowCountResponse{
		Status: "success",
		UserID: userID,
		Count:  count,
	})
}

// Book handlers

func (h *Handler) ListBooks(c *gin.Context) {
	books, err := h.svc.ListBooks(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list books")
		return
	}
	c.JSON(http.StatusOK, books)
}

func (h *Handler) SearchBooks(c *gin.Context) {
	books, err := h.svc.SearchBooks(c.Request.Context(), c.Query("q"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to search books")
		return
	}
	c.JSON(http.StatusOK, books)
}

func (h *Handler) GetBook(c *gin.Context) {
	book, err := h.svc.GetBook(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load book")
		return
	}
	if book == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Book not found")
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *Handler) CreateBook(c *gin.Context) {
	var req models.CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	book, err := h.svc.CreateBook(c.Request.Context(), req)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create book")
		return
	}

	c.JSON(http.StatusCreated, book)
}

func (h *Handler) UpdateBook(c *gin.Context) {
	var req models.UpdateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	err := h.svc.UpdateBook(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Book not found")
			return
		}
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update book")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) DeleteBook(c *gin.Context) {
	err := h.svc.DeleteBook(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Book not found")
			return
		}
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete book")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Transaction handlers

func (h *Handler) MyTransactions(c *gin.Context) {
	transactions, err := h.svc.UserTransactions(c.Request.Context(), c.GetString("userId"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load transactions")
		return
	}
	c.JSON(http.StatusOK, transactions)
}

func (h *Handler) AllTransactions(c *gin.Context) {
	transactions, err := h.svc.AllTransactions(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load transactions")
		return
	}
	c.JSON(http.StatusOK, transactions)
}

// Borrow/return handlers — a BorrowResult with success=false is an expected
// business outcome and still returns 200; only transport/server failures
// become error responses.

func (h *Handler) BorrowBook(c *gin.Context) {
	result, err := h.svc.BorrowBook(c.Request.Context(), c.GetString("userId"), c.Param("id"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to borrow book")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ReturnBook(c *gin.Context) {
	result, err := h.svc.ReturnBook(c.Request.Context(), c.GetString("userId"), c.Param("id"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to return book")
		return
	}
	c.JSON(http.StatusOK, result)
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.ErrorResponse{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}
