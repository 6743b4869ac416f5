package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eventportal/internal/auth"
	"eventportal/internal/event"
	"eventportal/internal/metrics"
	"eventportal/internal/payment"
	"eventportal/internal/registration"
	"eventportal/internal/store"
	"eventportal/internal/token"
)

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SignIn checks the password and sets the session cookie. The token is
// also returned for API clients.
func (h *Handler) SignIn(c *gin.Context) {
	var req signInRequest
	if !bindJSON(c, &req) {
		return
	}
	issued, user, err := h.Accounts.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, issued.Token, int(time.Until(issued.ExpiresAt).Seconds()), "/", "", h.CookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"token": issued.Token, "expires_at": issued.ExpiresAt.Unix(), "user": user})
}

func (h *Handler) SignOut(c *gin.Context) {
	if err := h.Accounts.SignOut(c.Request.Context(), session(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, "", -1, "/", "", h.CookieSecure, true)
	c.Status(http.StatusNoContent)
}

func (h *Handler) Me(c *gin.Context) {
	sess := session(c)
	c.JSON(http.StatusOK, gin.H{"user_id": sess.UserID, "email": sess.Email, "role": sess.Role, "expires_at": sess.ExpiresAt.Unix()})
}

// CreateUser adds a staff account, typically a scanner for the gate.
func (h *Handler) CreateUser(c *gin.Context) {
	var in auth.NewUser
	if !bindJSON(c, &in) {
		return
	}
	u, err := h.Accounts.CreateUser(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.Log.Info("staff user created", zap.String("user_id", u.ID), zap.String("role", u.Role), zap.String("by", session(c).UserID))
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) AdminStats(c *gin.Context) {
	st, err := h.Stats.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type scanRequest struct {
	Code string `json:"code" binding:"required"`
}

// Scan redeems a check-in token. A second scan of the same code is a 409.
func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if !bindJSON(c, &req) {
		return
	}
	rc, err := h.Tokens.Scan(c.Request.Context(), session(c), req.Code)
	if err != nil {
		metrics.Scans.WithLabelValues(scanResult(err)).Inc()
		h.respondError(c, err)
		return
	}
	metrics.Scans.WithLabelValues("accepted").Inc()
	c.JSON(http.StatusOK, rc)
}

// TokenByCode looks a token up without redeeming it.
func (h *Handler) TokenByCode(c *gin.Context) {
	code, err := token.DecodeScan(c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	rc, err := h.Tokens.ReceiptByCode(c.Request.Context(), code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rc)
}

func scanResult(err error) string {
	switch {
	case errors.Is(err, token.ErrTokenUsed):
		return "already_used"
	case errors.Is(err, token.ErrInvalidCode):
		return "invalid"
	case errors.Is(err, store.ErrNotFound):
		return "unknown"
	default:
		return "error"
	}
}

func (h *Handler) ListStudents(c *gin.Context) {
	limit, offset := page(c)
	list, err := h.Students.List(c.Request.Context(), registration.ListFilter{Query: c.Query("q"), Limit: limit, Offset: offset})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if list == nil {
		list = []registration.Student{}
	}
	c.JSON(http.StatusOK, gin.H{"students": list})
}

func (h *Handler) GetStudent(c *gin.Context) {
	st, err := h.Students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) PatchStudent(c *gin.Context) {
	var in registration.PatchInput
	if !bindJSON(c, &in) {
		return
	}
	st, err := h.Students.Patch(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) CreateEvent(c *gin.Context) {
	var in event.Input
	if !bindJSON(c, &in) {
		return
	}
	e, err := h.Events.Create(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handler) UpdateEvent(c *gin.Context) {
	var in event.Input
	if !bindJSON(c, &in) {
		return
	}
	e, err := h.Events.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) DeleteEvent(c *gin.Context) {
	if err := h.Events.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListTransactions(c *gin.Context) {
	limit, offset := page(c)
	list, err := h.Payments.List(c.Request.Context(), payment.ListFilter{Status: c.Query("status"), Limit: limit, Offset: offset})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if list == nil {
		list = []payment.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": list})
}

func (h *Handler) ListCoTransactions(c *gin.Context) {
	limit, offset := page(c)
	list, err := h.Payments.ListCoTransactions(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if list == nil {
		list = []payment.CoTransaction{}
	}
	c.JSON(http.StatusOK, gin.H{"co_transactions": list})
}

// CreateCoTransaction records an offline payment and issues its token.
func (h *Handler) CreateCoTransaction(c *gin.Context) {
	var in payment.CoTransactionInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.Payments.CreateCoTransaction(c.Request.Context(), session(c), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type coStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) UpdateCoTransaction(c *gin.Context) {
	var req coStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	co, err := h.Payments.UpdateCoTransactionStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, co)
}

func (h *Handler) DeleteCoTransaction(c *gin.Context) {
	if err := h.Payments.DeleteCoTransaction(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListTokens(c *gin.Context) {
	limit, offset := page(c)
	list, err := h.Tokens.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if list == nil {
		list = []token.Token{}
	}
	c.JSON(http.StatusOK, gin.H{"tokens": list})
}
