package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrUserNotFound = errors.New("user not found")

// User is the slice of the identity record the ledger needs.
type User struct {
	ID        uuid.UUID
	Email     string
	FirstName string
	PINHash   string
}

func (u *User) HasPIN() bool { return u.PINHash != "" }

// Resolver looks users up by id.
type Resolver interface {
	ResolveUser(ctx context.Context, id uuid.UUID) (*User, error)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Directory reads users from the collaborator owned users table.
type Directory struct {
	db rowQuerier
}

func NewDirectory(db rowQuerier) *Directory {
	return &Directory{db: db}
}

func (d *Directory) ResolveUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	var pinHash *string
	err := d.db.QueryRow(ctx,
		"SELECT id, email, first_name, pin_hash FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.Email, &u.FirstName, &pinHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	if pinHash != nil {
		u.PINHash = *pinHash
	}
	return &u, nil
}

// HashPIN returns the bcrypt hash stored for a transaction PIN.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPIN reports whether candidate matches hash.
func VerifyPIN(hash, candidate string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}
