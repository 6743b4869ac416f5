// Package handler exposes the portal services over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eventportal/internal/auth"
	"eventportal/internal/dashboard"
	"eventportal/internal/donation"
	"eventportal/internal/event"
	"eventportal/internal/payment"
	"eventportal/internal/razorpay"
	"eventportal/internal/registration"
	"eventportal/internal/storage"
	"eventportal/internal/store"
	"eventportal/internal/token"
	"eventportal/internal/validation"
)

type Students interface {
	Upsert(ctx context.Context, in registration.UpsertInput) (registration.Student, bool, error)
	Get(ctx context.Context, id string) (registration.Student, error)
	Patch(ctx context.Context, id string, in registration.PatchInput) (registration.Student, error)
	List(ctx context.Context, f registration.ListFilter) ([]registration.Student, error)
}

type Events interface {
	Get(ctx context.Context, id string) (event.Event, error)
	List(ctx context.Context) ([]event.Event, error)
	Create(ctx context.Context, in event.Input) (event.Event, error)
	Update(ctx context.Context, id string, in event.Input) (event.Event, error)
	Delete(ctx context.Context, id string) error
}

type Payments interface {
	CreateOrder(ctx context.Context, in payment.OrderInput) (payment.OrderResult, error)
	Verify(ctx context.Context, in payment.VerifyInput) (payment.VerifyResult, error)
	MarkFailed(ctx context.Context, in payment.FailInput) (payment.Transaction, error)
	OwnsOrder(ctx context.Context, orderID string) (bool, error)
	ApplyWebhook(ctx context.Context, evt razorpay.WebhookEvent, raw []byte) error
	List(ctx context.Context, f payment.ListFilter) ([]payment.Transaction, error)
	CreateCoTransaction(ctx context.Context, sess auth.Session, in payment.CoTransactionInput) (payment.CoTransactionResult, error)
	UpdateCoTransactionStatus(ctx context.Context, id, status string) (payment.CoTransaction, error)
	DeleteCoTransaction(ctx context.Context, id string) error
	ListCoTransactions(ctx context.Context, limit, offset int) ([]payment.CoTransaction, error)
}

type Tokens interface {
	Receipt(ctx context.Context, tokenID string) (token.Receipt, error)
	ReceiptByCode(ctx context.Context, code string) (token.Receipt, error)
	Scan(ctx context.Context, sess auth.Session, payload string) (token.Receipt, error)
	List(ctx context.Context, limit, offset int) ([]token.Token, error)
}

type Donations interface {
	ListCategories(ctx context.Context, activeOnly bool) ([]donation.Category, error)
	CreateCategory(ctx context.Context, in donation.CategoryInput) (donation.Category, error)
	UpdateCategory(ctx context.Context, id string, in donation.CategoryInput) (donation.Category, error)
	Create(ctx context.Context, in donation.CreateInput) (donation.CreateResult, error)
	Verify(ctx context.Context, in donation.VerifyInput) (donation.Donation, error)
	Fail(ctx context.Context, in donation.FailInput) (donation.Donation, error)
	OwnsOrder(ctx context.Context, orderID string) (bool, error)
	ApplyWebhook(ctx context.Context, evt razorpay.WebhookEvent) error
	Receipt(ctx context.Context, id string) (donation.ReceiptView, error)
	List(ctx context.Context, f donation.ListFilter) ([]donation.Donation, error)
}

type Stats interface {
	Stats(ctx context.Context) (dashboard.Stats, error)
}

type Accounts interface {
	SignIn(ctx context.Context, email, password string) (auth.Issued, auth.User, error)
	SignOut(ctx context.Context, sess auth.Session) error
	CreateUser(ctx context.Context, in auth.NewUser) (auth.User, error)
}

// ReplayGuard remembers processed webhook ids.
type ReplayGuard interface {
	ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Deps groups what the handlers need. Uploads, Presigner and Replay may be
// nil when the backing service is not configured.
type Deps struct {
	Students  Students
	Events    Events
	Payments  Payments
	Tokens    Tokens
	Donations Donations
	Stats     Stats
	Accounts  Accounts
	Auth      *auth.Authenticator

	Uploads   storage.Store
	Presigner storage.Presigner
	Replay    ReplayGuard

	Log            *zap.Logger
	PortalName     string
	WebhookSecret  string
	CookieSecure   bool
	MaxUploadBytes int64
}

// Handler serves the portal API.
type Handler struct {
	Deps
}

// New builds a Handler.
func New(d Deps) *Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 5 << 20
	}
	if d.PortalName == "" {
		d.PortalName = "Event Portal"
	}
	return &Handler{Deps: d}
}

// Register mounts every API route on r.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")

	v1.POST("/uploads/url", h.PresignUpload)
	v1.POST("/uploads", h.Upload)
	v1.POST("/students", h.UpsertStudent)
	v1.GET("/events", h.ListEvents)

	v1.POST("/payments/orders", h.CreateOrder)
	v1.POST("/payments/verify", h.VerifyPayment)
	v1.POST("/payments/failed", h.PaymentFailed)
	v1.POST("/payments/webhook", h.Webhook)

	v1.GET("/receipts", h.Receipt)
	v1.GET("/receipts/:id/receipt.png", h.ReceiptImage)
	v1.GET("/tokens/:code/barcode.png", h.Barcode)

	v1.GET("/donations/categories", h.DonationCategories)
	v1.POST("/donations", h.CreateDonation)
	v1.POST("/donations/verify", h.VerifyDonation)
	v1.POST("/donations/failed", h.DonationFailed)
	v1.GET("/donations/receipt", h.DonationReceipt)
	v1.GET("/donations/:id/receipt.png", h.DonationReceiptImage)

	v1.POST("/auth/sign-in", h.SignIn)
	v1.POST("/auth/sign-out", h.Auth.RequireSession(), h.SignOut)

	admin := v1.Group("/admin", h.Auth.RequireSession(auth.RoleAdmin))
	{
		admin.GET("/me", h.Me)
		admin.GET("/stats", h.AdminStats)
		admin.POST("/users", h.CreateUser)

		admin.GET("/students", h.ListStudents)
		admin.GET("/students/:id", h.GetStudent)
		admin.PATCH("/students/:id", h.PatchStudent)

		admin.GET("/events", h.ListEvents)
		admin.POST("/events", h.CreateEvent)
		admin.PUT("/events/:id", h.UpdateEvent)
		admin.DELETE("/events/:id", h.DeleteEvent)

		admin.GET("/transactions", h.ListTransactions)
		admin.GET("/co-transactions", h.ListCoTransactions)
		admin.POST("/co-transactions", h.CreateCoTransaction)
		admin.PATCH("/co-transactions/:id", h.UpdateCoTransaction)
		admin.DELETE("/co-transactions/:id", h.DeleteCoTransaction)

		admin.GET("/tokens", h.ListTokens)
		admin.GET("/donations", h.ListDonations)
		admin.GET("/donation-categories", h.AdminDonationCategories)
		admin.POST("/donation-categories", h.CreateDonationCategory)
		admin.PUT("/donation-categories/:id", h.UpdateDonationCategory)
	}

	// Scanner accounts may only look up and redeem tokens.
	scanner := h.Auth.RequireSession(auth.RoleAdmin, auth.RoleScanner)
	v1.POST("/admin/scan", scanner, h.Scan)
	v1.GET("/admin/tokens/:code", scanner, h.TokenByCode)
}

// respondError maps domain errors to HTTP status codes.
func (h *Handler) respondError(c *gin.Context, err error) {
	var ve *validation.Error
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": ve.Fields})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, token.ErrTokenUsed), errors.Is(err, payment.ErrAlreadyPaid), errors.Is(err, event.ErrInUse),
		errors.Is(err, payment.ErrInvalidStatus), errors.Is(err, donation.ErrInvalidStatus),
		errors.Is(err, donation.ErrDefaultTaken), errors.Is(err, auth.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, razorpay.ErrInvalidSignature), errors.Is(err, token.ErrInvalidCode),
		errors.Is(err, storage.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, razorpay.ErrGateway):
		h.Log.Error("gateway call failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable"})
	case errors.Is(err, context.Canceled):
		c.AbortWithStatus(499)
	default:
		h.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func page(c *gin.Context) (limit, offset int) {
	limit, offset = 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func session(c *gin.Context) auth.Session {
	sess, _ := auth.SessionFrom(c)
	return sess
}
