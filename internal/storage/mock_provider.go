package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockBlobStore is a testify mock of a blob store for failure injection.
type MockBlobStore struct {
	mock.Mock
}

// PutObject drains data and returns the programmed result.
func (m *MockBlobStore) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	args := m.Called(ctx, path, contentType, payload)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
