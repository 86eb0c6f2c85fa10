package domain

import (
	"fmt"
	"strings"
)

// coupleKeySeparator never appears in a valid user id.
const coupleKeySeparator = ":"

// CoupleKey identifies a pair of users independently of who is asking.
type CoupleKey string

// NewCoupleKey sorts the two ids and joins them, so NewCoupleKey(a, b) and
// NewCoupleKey(b, a) are equal.
func NewCoupleKey(a, b string) (CoupleKey, error) {
	if err := ValidateUserID(a); err != nil {
		return "", err
	}
	if err := ValidateUserID(b); err != nil {
		return "", err
	}
	if a == b {
		return "", fmt.Errorf("%w: user %q cannot pair with itself", ErrInvalidIdentity, a)
	}
	if a > b {
		a, b = b, a
	}
	return CoupleKey(a + coupleKeySeparator + b), nil
}

// Members returns the two user ids in key order.
func (k CoupleKey) Members() (string, string) {
	first, second, _ := strings.Cut(string(k), coupleKeySeparator)
	return first, second
}

// Contains reports whether userID is one of the two members.
func (k CoupleKey) Contains(userID string) bool {
	first, second := k.Members()
	return userID != "" && (userID == first || userID == second)
}

func (k CoupleKey) String() string { return string(k) }

// ValidateUserID rejects ids that are blank or contain the key separator.
func ValidateUserID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidIdentity)
	}
	if strings.Contains(id, coupleKeySeparator) {
		return fmt.Errorf("%w: user id %q contains %q", ErrInvalidIdentity, id, coupleKeySeparator)
	}
	return nil
}

// UserProfile is what the identity directory knows about a user.
type UserProfile struct {
	ID          string
	DisplayName string
	PartnerID   string
}

// Pairing is a resolved couple from the point of view of UserID.
type Pairing struct {
	Key         CoupleKey
	UserID      string
	UserName    string
	PartnerID   string
	PartnerName string
}

// NotificationPreferences is the subset of a user's notification settings the
// completion notifier reads. Users without stored preferences get
// DefaultNotificationPreferences.
type NotificationPreferences struct {
	UserID                   string
	PartnerActivityCompleted bool
}

// DefaultNotificationPreferences enables every category.
func DefaultNotificationPreferences(userID string) NotificationPreferences {
	return NotificationPreferences{UserID: userID, PartnerActivityCompleted: true}
}
