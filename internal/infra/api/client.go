package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/session"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/shared/money"
)

// Client talks JSON to the marketplace backend. It implements the workflow
// API consumed by chat room actions and the wallet balance lookup.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	log     *slog.Logger
}

// Option mutates the client at construction time.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func NewClient(baseURL string, log *slog.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("api: base url required")
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.With("component", "api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) CreateInvoice(ctx context.Context, form session.CreateInvoiceForm) (session.CreateInvoiceResponse, error) {
	var resp session.CreateInvoiceResponse
	err := c.post(ctx, "/billing/invoices", form, &resp)
	return resp, err
}

func (c *Client) StartWorkflow(ctx context.Context, form session.StartWorkflowForm) (session.OperationResponse, error) {
	var resp session.OperationResponse
	err := c.post(ctx, "/workflows", form, &resp)
	return resp, err
}

func (c *Client) ApproveQuotation(ctx context.Context, form session.ApproveQuotationForm) (session.OperationResponse, error) {
	var resp session.OperationResponse
	err := c.post(ctx, "/billing/approve-quotation", form, &resp)
	return resp, err
}

func (c *Client) SubmitStartWork(ctx context.Context, form session.SubmitStartWorkForm) (session.OperationResponse, error) {
	var resp session.OperationResponse
	err := c.post(ctx, "/workflows/start-work", form, &resp)
	return resp, err
}

func (c *Client) SubmitWork(ctx context.Context, form session.SubmitStartWorkForm) (session.OperationResponse, error) {
	var resp session.OperationResponse
	err := c.post(ctx, "/workflows/submit-work", form, &resp)
	return resp, err
}

func (c *Client) RequestRevision(ctx context.Context, form session.RequestRevisionForm) (session.OperationResponse, error) {
	var resp session.OperationResponse
	err := c.post(ctx, "/workflows/request-revision", form, &resp)
	return resp, err
}

func (c *Client) ApproveWork(ctx context.Context, form session.ApproveWorkForm) (session.OperationResponse, error) {
	var resp session.OperationResponse
	err := c.post(ctx, "/workflows/approve-work", form, &resp)
	return resp, err
}

func (c *Client) CancelJob(ctx context.Context, form session.CancelJobForm) (session.OperationResponse, error) {
	var resp session.OperationResponse
	err := c.post(ctx, "/workflows/cancel", form, &resp)
	return resp, err
}

func (c *Client) SubmitUserReview(ctx context.Context, form session.SubmitUserReviewForm) (session.SubmitUserReviewResponse, error) {
	var resp session.SubmitUserReviewResponse
	err := c.post(ctx, "/reviews", form, &resp)
	return resp, err
}

type balanceResponse struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Wallet scopes balance lookups to one wallet id; it satisfies the session's
// wallet port.
type Wallet struct {
	client   *Client
	walletID string
}

func (c *Client) Wallet(walletID string) *Wallet {
	return &Wallet{client: c, walletID: walletID}
}

func (w *Wallet) AvailableBalance(ctx context.Context) (money.Money, error) {
	var resp balanceResponse
	path := fmt.Sprintf("/wallets/%s/balance", w.walletID)
	if err := w.client.get(ctx, path, &resp); err != nil {
		return money.Money{}, err
	}
	return money.New(resp.Amount, resp.Currency)
}

func (c *Client) post(ctx context.Context, path string, form, out any) error {
	body, err := json.Marshal(form)
	if err != nil {
		return fmt.Errorf("api: encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("api: build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("api: build %s: %w", path, err)
	}
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("request failed", "path", path, "error", err)
		return fmt.Errorf("api: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := &StatusError{Path: path, StatusCode: resp.StatusCode, Body: string(snippet)}
		c.log.Error("request rejected", "path", path, "status", resp.StatusCode)
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s: %w", path, err)
	}
	return nil
}

// StatusError reports a non-2xx backend response with a body snippet for
// logs.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %s returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

var _ session.WorkflowAPI = (*Client)(nil)
var _ session.Wallet = (*Wallet)(nil)
