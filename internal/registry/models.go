package registry

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// Account represents an account record in the ledger.
type Account struct {
	Email             string    `json:"email"`
	PasswordHash      string    `json:"-"`
	Subscribed        bool      `json:"subscribed"`
	FreeCredits       int       `json:"free_credits"`
	BillingCustomerID string    `json:"billing_customer_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Post represents a generated blog post. Rows are append-only: a post is
// written once after a successful generation and never mutated.
type Post struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"` // JSON payload as returned by the generator
	CreatedAt time.Time `json:"created_at"`
}

// crockfordBase32 is the Crockford base32 alphabet (excludes I, L, O, U).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// GeneratePostID returns a post ID of the form "p-" followed by 10 random
// Crockford base32 characters (50 bits of entropy).
func GeneratePostID() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate post id: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("p-")
	for _, v := range b {
		sb.WriteByte(crockfordBase32[int(v)%len(crockfordBase32)])
	}
	return sb.String(), nil
}
