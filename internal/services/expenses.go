package services

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/vietddude/flatshare/internal/client"
)

// Expense is a cost paid by one housemate and split between several.
type Expense struct {
	ID           string    `json:"id,omitempty"`
	HouseID      string    `json:"house_id"`
	Description  string    `json:"description"`
	Amount       float64   `json:"amount"`
	PaidBy       string    `json:"paid_by"`
	SplitBetween []string  `json:"split_between,omitempty"`
	Date         time.Time `json:"date"`

	Pending bool `json:"-"`
}

// ExpenseService lists, records and removes expenses.
type ExpenseService struct {
	client Requester
	ttl    time.Duration
}

// NewExpenseService creates an ExpenseService. ttl <= 0 uses five minutes.
func NewExpenseService(c Requester, ttl time.Duration) *ExpenseService {
	if ttl <= 0 {
		ttl = defaultListTTL
	}
	return &ExpenseService{client: c, ttl: ttl}
}

func (s *ExpenseService) List(ctx context.Context, houseID string) ([]Expense, ListResult, error) {
	resp, err := s.client.Request(ctx, http.MethodGet, housePath(houseID, "expenses"), nil, listConfig(s.ttl))
	if err != nil {
		return nil, ListResult{}, err
	}
	var expenses []Expense
	if err := decode(s.client, resp, &expenses, "list_expenses"); err != nil {
		return nil, ListResult{}, err
	}
	return expenses, ListResult{FromCache: resp.FromCache, Stale: resp.Stale}, nil
}

func (s *ExpenseService) Create(ctx context.Context, e Expense) (*Expense, error) {
	if e.HouseID == "" || e.PaidBy == "" {
		return nil, invalid(s.client, "create_expense", "expense validation failed: house_id and paid_by are required")
	}
	if e.Amount <= 0 {
		return nil, invalid(s.client, "create_expense", "expense validation failed: amount must be positive")
	}
	if e.Date.IsZero() {
		e.Date = time.Now().UTC()
	}

	path := housePath(e.HouseID, "expenses")
	resp, err := s.client.Request(ctx, http.MethodPost, path, e, client.RequestConfig{
		Invalidate: []string{path},
	})
	if err != nil {
		return nil, err
	}
	if resp.Queued {
		e.Pending = true
		return &e, nil
	}

	created := e
	if err := decode(s.client, resp, &created, "create_expense"); err != nil {
		return nil, err
	}
	return &created, nil
}

// Delete removes an expense. queued reports that the deletion will be
// delivered on reconnect.
func (s *ExpenseService) Delete(ctx context.Context, houseID, expenseID string) (queued bool, err error) {
	if houseID == "" || expenseID == "" {
		return false, invalid(s.client, "delete_expense", "expense validation failed: house_id and id are required")
	}
	list := housePath(houseID, "expenses")
	resp, err := s.client.Request(ctx, http.MethodDelete, list+"/"+url.PathEscape(expenseID), nil, client.RequestConfig{
		Invalidate: []string{list},
	})
	if err != nil {
		return false, err
	}
	return resp.Queued, nil
}
