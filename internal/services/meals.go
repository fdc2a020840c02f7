package services

import (
	"context"
	"net/http"
	"time"

	"github.com/vietddude/flatshare/internal/client"
)

// Meal is a shared meal cooked in a house.
type Meal struct {
	ID           string    `json:"id,omitempty"`
	HouseID      string    `json:"house_id"`
	Name         string    `json:"name"`
	CookedBy     string    `json:"cooked_by"`
	Participants []string  `json:"participants,omitempty"`
	Cost         float64   `json:"cost"`
	Date         time.Time `json:"date"`

	// Pending is set when the meal was queued for later delivery.
	Pending bool `json:"-"`
}

// MealService lists and records meals.
type MealService struct {
	client Requester
	ttl    time.Duration
}

// NewMealService creates a MealService. ttl <= 0 uses five minutes.
func NewMealService(c Requester, ttl time.Duration) *MealService {
	if ttl <= 0 {
		ttl = defaultListTTL
	}
	return &MealService{client: c, ttl: ttl}
}

// List returns the meals of a house, falling back to the cached listing
// while offline.
func (s *MealService) List(ctx context.Context, houseID string) ([]Meal, ListResult, error) {
	resp, err := s.client.Request(ctx, http.MethodGet, housePath(houseID, "meals"), nil, listConfig(s.ttl))
	if err != nil {
		return nil, ListResult{}, err
	}
	var meals []Meal
	if err := decode(s.client, resp, &meals, "list_meals"); err != nil {
		return nil, ListResult{}, err
	}
	return meals, ListResult{FromCache: resp.FromCache, Stale: resp.Stale}, nil
}

// Create records a meal. While offline the meal is queued and returned with
// Pending set.
func (s *MealService) Create(ctx context.Context, m Meal) (*Meal, error) {
	if m.HouseID == "" || m.Name == "" {
		return nil, invalid(s.client, "create_meal", "meal validation failed: house_id and name are required")
	}
	if m.Date.IsZero() {
		m.Date = time.Now().UTC()
	}

	path := housePath(m.HouseID, "meals")
	resp, err := s.client.Request(ctx, http.MethodPost, path, m, client.RequestConfig{
		Invalidate: []string{path},
	})
	if err != nil {
		return nil, err
	}
	if resp.Queued {
		m.Pending = true
		return &m, nil
	}

	created := m
	if err := decode(s.client, resp, &created, "create_meal"); err != nil {
		return nil, err
	}
	return &created, nil
}
