package profile

import (
	"strings"
	"unicode/utf8"

	"github.com/zhouzirui/echoes/backend/internal/apperr"
)

// NewProfile is the profile creation form.
type NewProfile struct {
	FullName     string `json:"fullName"`
	BirthDate    string `json:"birthDate"`
	DeathDate    string `json:"deathDate,omitempty"`
	Relationship string `json:"relationship"`
	Bio          string `json:"bio"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	Greeting     string `json:"greeting,omitempty"`
}

const (
	minNameLen = 2
	minBioLen  = 10
	maxBioLen  = 500
)

// Validate checks the form and returns apperr.ValidationErrors listing every failure.
func Validate(in NewProfile) error {
	var errs apperr.ValidationErrors

	if utf8.RuneCountInString(strings.TrimSpace(in.FullName)) < minNameLen {
		errs = append(errs, apperr.Validation("fullName", "Name must be at least 2 characters."))
	}
	if strings.TrimSpace(in.BirthDate) == "" {
		errs = append(errs, apperr.Validation("birthDate", "Birth date is required."))
	}
	if strings.TrimSpace(in.Relationship) == "" {
		errs = append(errs, apperr.Validation("relationship", "Relationship is required."))
	}
	bioLen := utf8.RuneCountInString(strings.TrimSpace(in.Bio))
	switch {
	case bioLen < minBioLen:
		errs = append(errs, apperr.Validation("bio", "Bio must be at least 10 characters."))
	case bioLen > maxBioLen:
		errs = append(errs, apperr.Validation("bio", "Bio must not exceed 500 characters."))
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
