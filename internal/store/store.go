package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shop-assistant/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// CreatePaymentIntent records a provider payment intent bound to an order
func (s *Store) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (id, order_id, provider, amount, currency, status, approval_url, client_secret, capture_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		intent.ID, intent.OrderID, intent.Provider, intent.Amount, intent.Currency,
		intent.Status, intent.ApprovalURL, intent.ClientSecret, intent.CaptureID)
	return row.Scan(&intent.CreatedAt, &intent.UpdatedAt)
}

// GetPaymentIntent retrieves a payment intent by provider id
func (s *Store) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := s.db.GetContext(ctx, &intent, "SELECT * FROM payment_intents WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment intent not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetPaymentIntentByOrderID retrieves the payment intent bound to an order
func (s *Store) GetPaymentIntentByOrderID(ctx context.Context, orderID int64) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := s.db.GetContext(ctx, &intent,
		"SELECT * FROM payment_intents WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment intent not found for order: %d", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// UpdatePaymentIntentStatus updates intent status and capture reference
func (s *Store) UpdatePaymentIntentStatus(ctx context.Context, id, status, captureID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payment_intents SET status = $1, capture_id = $2, updated_at = NOW() WHERE id = $3",
		status, captureID, id)
	return err
}

// MarkPaymentIntentCaptured flips a not-yet-captured intent to CAPTURED.
// Returns false when the intent was already captured, which is the
// short-circuit signal for duplicate capture calls.
func (s *Store) MarkPaymentIntentCaptured(ctx context.Context, id, captureID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE payment_intents SET status = $1, capture_id = $2, updated_at = NOW() WHERE id = $3 AND status <> $1",
		models.PaymentStatusCaptured, captureID, id)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// IsEventProcessed checks if a provider event has been applied
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed records a provider event as applied
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
