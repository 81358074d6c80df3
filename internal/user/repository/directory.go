package repository

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/auth"

	"clubnotify/internal/user/domain"
	"clubnotify/pkg/docstore"
)

// Directory resolves user records.
type Directory interface {
	Get(ctx context.Context, id string) (*domain.User, error)
	// Exists reports whether the user still has an account.
	Exists(ctx context.Context, id string) (bool, error)
}

type storeDirectory struct {
	store docstore.Store
}

// NewStoreDirectory reads users from the users collection.
func NewStoreDirectory(store docstore.Store) Directory {
	return &storeDirectory{store: store}
}

func (d *storeDirectory) Get(ctx context.Context, id string) (*domain.User, error) {
	doc, err := d.store.Get(ctx, domain.Collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u := domain.FromDocument(doc)
	return &u, nil
}

func (d *storeDirectory) Exists(ctx context.Context, id string) (bool, error) {
	u, err := d.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return u != nil, nil
}

// authDirectory checks existence against Firebase Authentication, which is
// authoritative for deleted accounts, and reads profiles from the store.
type authDirectory struct {
	*storeDirectory
	client *auth.Client
}

func NewAuthDirectory(store docstore.Store, client *auth.Client) Directory {
	return &authDirectory{storeDirectory: &storeDirectory{store: store}, client: client}
}

func (d *authDirectory) Exists(ctx context.Context, id string) (bool, error) {
	_, err := d.client.GetUser(ctx, id)
	if auth.IsUserNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup auth user %s: %w", id, err)
	}
	return true, nil
}
