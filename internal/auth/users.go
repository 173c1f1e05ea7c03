package auth

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/safar/storefront-core/internal/models"
	"github.com/safar/storefront-core/internal/statestore"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrEmailTaken     = errors.New("email already registered")
	ErrBadCredentials = errors.New("invalid email or password")
)

const adminID = "admin-1337"

// Users is the account directory persisted under the users state key.
// Exactly one admin identity always exists; it is re-ensured on every
// load and save.
type Users struct {
	state         *statestore.Store
	adminEmail    string
	adminPassword string
}

func NewUsers(state *statestore.Store, adminEmail, adminPassword string) *Users {
	return &Users{
		state:         state,
		adminEmail:    models.NormalizeEmail(adminEmail),
		adminPassword: adminPassword,
	}
}

// List returns all users with the admin bootstrapped if absent.
func (u *Users) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := u.state.Load(ctx, statestore.KeyUsers, &users); err != nil {
		return nil, err
	}
	return u.ensureAdmin(users), nil
}

// Save writes the user set back, re-ensuring the admin and hashing
// any plaintext passwords that slipped in through a state import.
func (u *Users) Save(ctx context.Context, users []models.User) error {
	users = u.ensureAdmin(users)
	for i := range users {
		if p := users[i].Password; p != "" && !isHashed(p) {
			users[i].Password = HashPassword(p)
		}
	}
	return u.state.Save(ctx, statestore.KeyUsers, users)
}

func (u *Users) ensureAdmin(users []models.User) []models.User {
	for i := range users {
		if users[i].ID == adminID || models.NormalizeEmail(users[i].Email) == u.adminEmail {
			users[i].Role = models.RoleAdmin
			if users[i].Password == "" && u.adminPassword != "" {
				users[i].Password = HashPassword(u.adminPassword)
			}
			return users
		}
	}
	password := u.adminPassword
	if password == "" {
		password = randomBootstrapPassword()
		log.Printf("ADMIN_PASSWORD not set, bootstrapped admin with a random password")
	}
	return append(users, models.User{
		ID:        adminID,
		Email:     u.adminEmail,
		Name:      "Admin",
		Password:  HashPassword(password),
		Role:      models.RoleAdmin,
		CreatedAt: time.Now().UTC(),
	})
}

func (u *Users) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	users, err := u.List(ctx)
	if err != nil {
		return nil, err
	}
	email = models.NormalizeEmail(email)
	for i := range users {
		if models.NormalizeEmail(users[i].Email) == email {
			return &users[i], nil
		}
	}
	return nil, ErrUserNotFound
}

func (u *Users) FindByID(ctx context.Context, id string) (*models.User, error) {
	users, err := u.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID == id {
			return &users[i], nil
		}
	}
	return nil, ErrUserNotFound
}

// Register creates a new account with a hashed password.
func (u *Users) Register(ctx context.Context, email, name, password string) (*models.User, error) {
	unlock := u.state.Lock(statestore.KeyUsers)
	defer unlock()

	users, err := u.List(ctx)
	if err != nil {
		return nil, err
	}
	email = models.NormalizeEmail(email)
	for i := range users {
		if models.NormalizeEmail(users[i].Email) == email {
			return nil, ErrEmailTaken
		}
	}

	user := models.User{
		ID:        "user-" + uuid.NewString(),
		Email:     email,
		Name:      name,
		Password:  HashPassword(password),
		Role:      models.RoleUser,
		CreatedAt: time.Now().UTC(),
	}
	users = append(users, user)
	if err := u.Save(ctx, users); err != nil {
		return nil, err
	}
	return &user, nil
}

// Authenticate verifies credentials. A successful login against a
// legacy unhashed record upgrades the stored hash in place.
func (u *Users) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := u.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}

	ok, rehash := VerifyPassword(user.Password, password)
	if !ok {
		return nil, ErrBadCredentials
	}

	if rehash {
		if err := u.Update(ctx, user.ID, func(m *models.User) {
			m.Password = HashPassword(password)
		}); err != nil {
			log.Printf("Rehash password for %s failed: %v", user.ID, err)
		}
	}
	return user, nil
}

// Update applies fn to the stored user under the key lock.
func (u *Users) Update(ctx context.Context, id string, fn func(*models.User)) error {
	unlock := u.state.Lock(statestore.KeyUsers)
	defer unlock()

	users, err := u.List(ctx)
	if err != nil {
		return err
	}
	for i := range users {
		if users[i].ID == id {
			fn(&users[i])
			return u.Save(ctx, users)
		}
	}
	return ErrUserNotFound
}

func isHashed(p string) bool {
	return len(p) > len(hashAlgorithm) && p[:len(hashAlgorithm)+1] == hashAlgorithm+"$"
}

func randomBootstrapPassword() string {
	return uuid.NewString()
}
