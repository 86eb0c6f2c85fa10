// Package pairing resolves a user to the couple they belong to.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/domain"
)

// Directory is the identity collaborator that knows each user's linked partner.
// Lookup returns domain.ErrUserNotFound for unknown users.
type Directory interface {
	Lookup(ctx context.Context, userID string) (domain.UserProfile, error)
}

// Resolver derives couple keys from the directory.
type Resolver struct {
	directory Directory
}

// NewResolver constructs a Resolver.
func NewResolver(directory Directory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve returns the caller's pairing, or domain.ErrNotPaired when the user
// has no partner or the partner does not link back.
func (r *Resolver) Resolve(ctx context.Context, userID string) (domain.Pairing, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return domain.Pairing{}, err
	}

	user, err := r.directory.Lookup(ctx, userID)
	if err != nil {
		return domain.Pairing{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	partnerID := strings.TrimSpace(user.PartnerID)
	if partnerID == "" || partnerID == userID {
		return domain.Pairing{}, domain.ErrNotPaired
	}

	partner, err := r.directory.Lookup(ctx, partnerID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.Pairing{}, domain.ErrNotPaired
	}
	if err != nil {
		return domain.Pairing{}, fmt.Errorf("lookup partner %s: %w", partnerID, err)
	}
	// A one-sided link is not a couple yet.
	if strings.TrimSpace(partner.PartnerID) != userID {
		return domain.Pairing{}, domain.ErrNotPaired
	}

	key, err := domain.NewCoupleKey(userID, partnerID)
	if err != nil {
		return domain.Pairing{}, err
	}
	return domain.Pairing{
		Key:         key,
		UserID:      userID,
		UserName:    user.DisplayName,
		PartnerID:   partnerID,
		PartnerName: partner.DisplayName,
	}, nil
}
