package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRequiresClient(t *testing.T) {
	t.Parallel()

	p := New(nil)
	_, err := p.Publish(context.Background(), "exports", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "not configured")
	p.Stop()
}
