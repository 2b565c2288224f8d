package ports

import (
	"context"
	"errors"
)

var ErrSecretNotFound = errors.New("secret not found")

type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	// GetOrCreate returns the stored secret, or stores and returns the value
	// from generate when none exists. created reports which case happened.
	GetOrCreate(ctx context.Context, key string, generate func() (string, error)) (value string, created bool, err error)
}
