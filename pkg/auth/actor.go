package auth

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/pkg/enums"
)

// Actor is the authenticated caller a service operation runs on behalf of.
type Actor struct {
	UserID uuid.UUID
	Role   enums.Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.RoleAdmin
}

// Is reports whether the actor is the given user.
func (a Actor) Is(userID uuid.UUID) bool {
	return a.UserID != uuid.Nil && a.UserID == userID
}

// IsOptional is Is for nullable owner columns.
func (a Actor) IsOptional(userID *uuid.UUID) bool {
	return userID != nil && a.Is(*userID)
}
