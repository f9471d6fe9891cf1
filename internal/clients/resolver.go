package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/harborline/crm-platform/pkg/logging"
)

// repository is the store surface the resolver needs.
type repository interface {
	GetByExternalID(ctx context.Context, externalID string) (*Client, error)
	FindByPhone(ctx context.Context, phone string) (*Client, error)
	Create(ctx context.Context, c *Client) (*Client, error)
}

// Resolver finds or creates the canonical client for a phone number or
// accounting ID. It never calls external networks; creation is an
// upsert-or-fetch so concurrent deliveries for the same number cannot
// produce duplicate clients.
type Resolver struct {
	repo   repository
	logger *logging.Logger
}

func NewResolver(repo repository, logger *logging.Logger) *Resolver {
	if repo == nil {
		panic("clients: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{repo: repo, logger: logger}
}

// Resolve looks up by accounting ID first, then by normalized phone, and
// finally creates a placeholder client on the Basic plan. Either argument may
// be empty, but not both.
func (r *Resolver) Resolve(ctx context.Context, phone, externalID string) (*Client, error) {
	if phone == "" && externalID == "" {
		return nil, errors.New("clients: resolve requires a phone or external id")
	}

	if externalID != "" {
		client, err := r.repo.GetByExternalID(ctx, externalID)
		if err == nil {
			return client, nil
		}
		if !errors.Is(err, ErrClientNotFound) {
			return nil, fmt.Errorf("clients: resolve by external id: %w", err)
		}
	}

	if phone != "" {
		client, err := r.repo.FindByPhone(ctx, phone)
		if err == nil {
			return client, nil
		}
		if !errors.Is(err, ErrClientNotFound) {
			return nil, fmt.Errorf("clients: resolve by phone: %w", err)
		}
	}

	digits := NormalizePhone(phone)
	placeholder := &Client{
		Name:                 placeholderName(digits),
		Phone:                phone,
		Email:                placeholderEmail(digits),
		ExternalAccountingID: externalID,
	}
	created, err := r.repo.Create(ctx, placeholder)
	if err != nil {
		return nil, fmt.Errorf("clients: create placeholder: %w", err)
	}
	r.logger.Info("created placeholder client",
		"client_id", created.ID,
		"phone_digits", digits,
		"external_id", externalID,
	)
	return created, nil
}

func placeholderName(digits string) string {
	if digits == "" {
		return "Customer (unknown)"
	}
	return "Customer " + digits
}

func placeholderEmail(digits string) string {
	if digits == "" {
		return ""
	}
	return digits + "@placeholder.com"
}
