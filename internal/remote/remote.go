// Package remote holds the contracts the detection and acquisition core uses
// to reach the remote catalog service, plus reference implementations.
package remote

import (
	"context"

	"dropwatch/internal/domain"
)

// IdentityPool owns the authenticated identities. It is read-only once built.
type IdentityPool interface {
	Reader() (domain.Identity, error)
	Identities() []domain.Identity
	Destination(id domain.Identity) (string, error)
	DisplayName(id domain.Identity) string
}

type CatalogSource interface {
	FetchCatalog(ctx context.Context, reader domain.Identity) ([]domain.Item, error)
}

type AcquireRequest struct {
	Destination string `json:"destination"`
	Anonymous   bool   `json:"anonymous"`
	RequestID   string `json:"request_id"`
}

// UnitAcquirer issues a single acquisition call for one unit of item.
type UnitAcquirer interface {
	AcquireUnit(ctx context.Context, id domain.Identity, item domain.Item, req AcquireRequest) error
}
