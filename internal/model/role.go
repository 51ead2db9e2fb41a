package model

import "fmt"

// Role is the access level carried in a bearer token.
type Role string

const (
	RoleOperator Role = "operator"
	RoleReader   Role = "reader"
)

// RoleRank returns the numeric rank of a role (higher = more privileges).
func RoleRank(r Role) int {
	switch r {
	case RoleOperator:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole Role) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// ValidateSubject checks that a token subject conforms to the allowed format.
// Subjects must be 1-255 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs.
func ValidateSubject(sub string) error {
	if len(sub) == 0 {
		return fmt.Errorf("subject is required")
	}
	if len(sub) > 255 {
		return fmt.Errorf("subject must be at most 255 characters")
	}
	for i := 0; i < len(sub); i++ {
		c := sub[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("subject contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
