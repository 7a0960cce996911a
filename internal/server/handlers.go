package server

import (
	"context"
	"crypto/md5"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"oneiro/internal/config"
	"oneiro/internal/models"
)

// minDreamRunes mirrors the client-side minimum so direct API callers get
// the same validation.
const minDreamRunes = 10

const defaultInvoiceDescription = "Расширенное толкование сна"

// Interpreter produces dream interpretations. The LLM implementation lives
// in internal/interpreter; tests inject fakes.
type Interpreter interface {
	Interpret(ctx context.Context, dream string, user *models.User, past []models.Dream) (string, error)
	InterpretGuest(ctx context.Context, dream string) (string, error)
}

// Handler wires the backend HTTP routes.
type Handler struct {
	storage *Storage
	llm     Interpreter
	payment config.PaymentConfig
}

// NewHandler constructs a Handler instance.
func NewHandler(storage *Storage, llm Interpreter, payment config.PaymentConfig) *Handler {
	return &Handler{storage: storage, llm: llm, payment: payment}
}

// RegisterRoutes attaches the backend routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	v1.POST("/users/", h.createUser)
	v1.GET("/users/:id/history", h.getHistory)
	v1.POST("/chat/interpret", h.interpret)
	v1.POST("/chat/interpret_guest", h.interpretGuest)
	v1.POST("/payment/create_invoice", h.createInvoice)
}

type createUserRequest struct {
	FirstName string  `json:"first_name"`
	LastName  *string `json:"last_name"`
	DOB       string  `json:"dob"`
	Phone     string  `json:"phone"`
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}
	user, err := h.storage.CreateOrFindUser(c.Request.Context(), req.FirstName, req.LastName, req.DOB, req.Phone)
	if err != nil {
		if errors.Is(err, ErrPhoneTaken) {
			c.JSON(http.StatusConflict, gin.H{"detail": "Пользователь с таким номером телефона уже зарегистрирован. Попробуйте другой номер."})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) getHistory(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid user id"})
		return
	}
	if _, err := h.storage.GetUser(c.Request.Context(), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	history, err := h.storage.History(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, history)
}

type interpretRequest struct {
	Text   string `json:"text"`
	UserID int64  `json:"user_id"`
}

func (h *Handler) interpret(c *gin.Context) {
	var req interpretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}
	if utf8.RuneCountInString(req.Text) < minDreamRunes {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Текст сна должен содержать не менее 10 символов."})
		return
	}
	user, err := h.storage.GetUser(c.Request.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	// The last few dreams give the model continuity between sessions.
	past, err := h.storage.RecentDreams(c.Request.Context(), user.ID, 3)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	interpretation, err := h.llm.Interpret(c.Request.Context(), req.Text, user, past)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": err.Error()})
		return
	}

	if _, err := h.storage.AddDream(c.Request.Context(), user.ID, req.Text, interpretation); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"interpretation": interpretation})
}

func (h *Handler) interpretGuest(c *gin.Context) {
	var req interpretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}
	if utf8.RuneCountInString(req.Text) < minDreamRunes {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Текст сна должен содержать не менее 10 символов."})
		return
	}
	// Guest dreams are interpreted without context and never persisted.
	interpretation, err := h.llm.InterpretGuest(c.Request.Context(), req.Text)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"interpretation": interpretation})
}

type invoiceRequest struct {
	UserID      int64   `json:"user_id"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

// createInvoice builds a Robokassa test-mode payment link signed with the
// merchant's first password.
func (h *Handler) createInvoice(c *gin.Context) {
	var req invoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}
	if req.UserID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid user id"})
		return
	}
	if req.Amount <= 0 {
		req.Amount = h.payment.DefaultAmount
	}
	if req.Amount <= 0 {
		req.Amount = 100
	}
	description := req.Description
	if description == "" {
		description = defaultInvoiceDescription
	}

	invoiceID := uuid.New().ID()
	amount := strconv.FormatFloat(req.Amount, 'f', -1, 64)
	signature := md5.Sum([]byte(fmt.Sprintf("%s:%s:%d:%s",
		h.payment.MerchantLogin, amount, invoiceID, h.payment.Password1)))

	q := url.Values{}
	q.Set("MerchantLogin", h.payment.MerchantLogin)
	q.Set("OutSum", amount)
	q.Set("InvoiceID", strconv.FormatUint(uint64(invoiceID), 10))
	q.Set("Description", description)
	q.Set("SignatureValue", fmt.Sprintf("%x", signature))
	q.Set("IsTest", "1")

	c.JSON(http.StatusOK, gin.H{
		"payment_url": "https://auth.robokassa.ru/Merchant/Index.aspx?" + q.Encode(),
	})
}
