// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type UserID string

type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"display_name"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, displayName string) (*User, error) {
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	return &User{ID: id, DisplayName: displayName}, nil
}

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}
