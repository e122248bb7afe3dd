package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

const (
	TwoFactorEmail = "email"
	TwoFactorSMS   = "sms"
	TwoFactorApp   = "app"
)

const (
	GardenRoleOwner       = "owner"
	GardenRoleCoordinator = "coordinator"
	GardenRoleMember      = "member"

	MembershipActive   = "active"
	MembershipPending  = "pending"
	MembershipRejected = "rejected"
)

var (
	ErrEmailTaken   = errors.New("email already registered")
	ErrUserNotFound = errors.New("user not found")
)

type GardenMembership struct {
	GardenID string    `json:"gardenId" bson:"gardenId"`
	Role     string    `json:"role" bson:"role"`
	Status   string    `json:"status" bson:"status"`
	JoinedAt time.Time `json:"joinedAt" bson:"joinedAt"`
}

type User struct {
	ID               string             `bson:"_id"`
	Name             string             `bson:"name"`
	Email            string             `bson:"email"`
	Phone            string             `bson:"phone,omitempty"`
	PasswordHash     string             `bson:"passwordHash"`
	Role             string             `bson:"role"`
	EmailVerified    bool               `bson:"emailVerified"`
	EmailVerifiedAt  *time.Time         `bson:"emailVerifiedAt,omitempty"`
	PhoneVerified    bool               `bson:"phoneVerified"`
	PhoneVerifiedAt  *time.Time         `bson:"phoneVerifiedAt,omitempty"`
	TwoFactorEnabled bool               `bson:"twoFactorEnabled"`
	TwoFactorMethod  string             `bson:"twoFactorMethod,omitempty"`
	TwoFactorSecret  *string            `bson:"twoFactorSecret,omitempty"`
	Gardens          []GardenMembership `bson:"gardens"`
	CreatedAt        time.Time          `bson:"createdAt"`
	UpdatedAt        time.Time          `bson:"updatedAt"`
}

// UserStore persists accounts. Lookups return nil, nil when the user does not
// exist; updates against a missing id return ErrUserNotFound.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	// MarkEmailVerified reports false when the email was already verified.
	MarkEmailVerified(ctx context.Context, id string, at time.Time) (bool, error)
	MarkPhoneVerified(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, hash string) error
	SetTwoFactorSecret(ctx context.Context, id, method string, secret *string) error
	EnableTwoFactor(ctx context.Context, id, method string) error
	DisableTwoFactor(ctx context.Context, id string) error
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidTwoFactorMethod(method string) bool {
	switch method {
	case TwoFactorEmail, TwoFactorSMS, TwoFactorApp:
		return true
	}
	return false
}
