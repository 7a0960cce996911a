// Package gateway is the HTTP client for the remote interpretation service.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"oneiro/internal/models"
)

// APIError carries the backend's status code and diagnostic payload so
// callers can surface the server-supplied detail verbatim.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("interpretation service returned status %d", e.Status)
}

// Client talks JSON to the interpretation backend. All five operations fail
// with *APIError on non-2xx responses.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the configured base endpoint.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type createUserRequest struct {
	FirstName string  `json:"first_name"`
	LastName  *string `json:"last_name"`
	DOB       string  `json:"dob"`
	Phone     string  `json:"phone"`
}

// CreateOrFindUser registers the user, or logs in an existing one matching
// by name and date of birth. Duplicate phones come back as an APIError with
// the backend's detail text.
func (c *Client) CreateOrFindUser(ctx context.Context, firstName string, lastName *string, dob, phone string) (*models.User, error) {
	var user models.User
	req := createUserRequest{FirstName: firstName, LastName: lastName, DOB: dob, Phone: phone}
	if err := c.post(ctx, "/api/v1/users/", req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

type interpretRequest struct {
	Text   string `json:"text"`
	UserID int64  `json:"user_id,omitempty"`
}

type interpretResponse struct {
	Interpretation string `json:"interpretation"`
}

// InterpretAsGuest submits a dream without a server-side identity.
func (c *Client) InterpretAsGuest(ctx context.Context, text string) (string, error) {
	var resp interpretResponse
	if err := c.post(ctx, "/api/v1/chat/interpret_guest", interpretRequest{Text: text}, &resp); err != nil {
		return "", err
	}
	return resp.Interpretation, nil
}

// InterpretAsRegistered submits a dream on behalf of a registered user.
func (c *Client) InterpretAsRegistered(ctx context.Context, text string, userID int64) (string, error) {
	var resp interpretResponse
	if err := c.post(ctx, "/api/v1/chat/interpret", interpretRequest{Text: text, UserID: userID}, &resp); err != nil {
		return "", err
	}
	return resp.Interpretation, nil
}

type historyEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// FetchHistory returns the user's past conversation in chronological order.
func (c *Client) FetchHistory(ctx context.Context, userID int64) ([]models.Message, error) {
	var entries []historyEntry
	if err := c.get(ctx, fmt.Sprintf("/api/v1/users/%d/history", userID), &entries); err != nil {
		return nil, err
	}
	history := make([]models.Message, 0, len(entries))
	for _, e := range entries {
		role := models.RoleBot
		if e.Role == string(models.RoleUser) {
			role = models.RoleUser
		}
		history = append(history, models.Message{Role: role, Text: e.Text})
	}
	return history, nil
}

type invoiceRequest struct {
	UserID int64   `json:"user_id"`
	Amount float64 `json:"amount"`
}

type invoiceResponse struct {
	PaymentURL string `json:"payment_url"`
}

// CreateInvoice requests a payment link for the user.
func (c *Client) CreateInvoice(ctx context.Context, userID int64, amount float64) (string, error) {
	var resp invoiceResponse
	if err := c.post(ctx, "/api/v1/payment/create_invoice", invoiceRequest{UserID: userID, Amount: amount}, &resp); err != nil {
		return "", err
	}
	return resp.PaymentURL, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var diag struct {
			Detail string `json:"detail"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(data, &diag); err == nil {
			if diag.Detail != "" {
				apiErr.Detail = diag.Detail
			} else {
				apiErr.Detail = diag.Error
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
