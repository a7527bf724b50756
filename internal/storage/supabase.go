package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/supabase-community/supabase-go"
)

// Business is the profile the agent speaks on behalf of.
type Business struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number"`
	Location     string `json:"location"`
	HoursText    string `json:"hours_text"`
	PoliciesText string `json:"policies_text"`
}

// Service is a bookable offering of a business.
type Service struct {
	ID              string  `json:"id"`
	BusinessID      string  `json:"business_id"`
	Name            string  `json:"name"`
	DurationMinutes int     `json:"duration_minutes"`
	Price           float64 `json:"price"`
}

// Booking is a confirmed appointment record.
type Booking struct {
	ID            string `json:"id,omitempty"`
	BusinessID    string `json:"business_id"`
	ServiceID     string `json:"service_id"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
}

// CallLog is the per-call summary persisted when a call ends.
type CallLog struct {
	BusinessID string `json:"business_id"`
	CallerID   string `json:"caller_id"`
	Transcript string `json:"transcript"`
	DurationMs int64  `json:"duration_ms"`
	EndedAt    string `json:"ended_at"`
}

// Store wraps the Supabase tables the agent reads and writes.
type Store struct {
	client *supabase.Client
}

// NewStore connects to Supabase with the service-role key.
func NewStore(url, serviceKey string) (*Store, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Store{client: client}, nil
}

// GetBusinessByPhone resolves the business a caller dialed.
func (s *Store) GetBusinessByPhone(ctx context.Context, phone string) (*Business, error) {
	var rows []Business
	_, err := s.client.From("businesses").
		Select("*", "", false).
		Eq("phone_number", phone).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("lookup business by phone: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no business registered for %s", phone)
	}
	return &rows[0], nil
}

// GetServicesForBusiness lists the bookable services of a business.
func (s *Store) GetServicesForBusiness(ctx context.Context, businessID string) ([]Service, error) {
	var rows []Service
	_, err := s.client.From("services").
		Select("*", "", false).
		Eq("business_id", businessID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return rows, nil
}

// CreateBooking commits a confirmed appointment and returns the stored row.
func (s *Store) CreateBooking(ctx context.Context, b Booking) (*Booking, error) {
	b.Status = "confirmed"
	var rows []Booking
	_, err := s.client.From("bookings").
		Insert(b, false, "", "representation", "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create booking: empty response")
	}
	return &rows[0], nil
}

// LogCall persists the call summary. Failures are logged, not returned: a
// missing log row must never take down call teardown.
func (s *Store) LogCall(ctx context.Context, entry CallLog) {
	if entry.EndedAt == "" {
		entry.EndedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, _, err := s.client.From("call_logs").
		Insert(entry, false, "", "minimal", "").
		Execute()
	if err != nil {
		log.Printf("storage: call log insert failed: %v", err)
	}
}
