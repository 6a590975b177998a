package requestinfo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithClient(t *testing.T) {
	ctx := WithClient(context.Background(), "203.0.113.7", "curl/8.0")

	client := FromContext(ctx)
	assert.Equal(t, "203.0.113.7", client.IP)
	assert.Equal(t, "curl/8.0", client.UserAgent)
}

func TestFromContext_Empty(t *testing.T) {
	assert.Equal(t, Client{}, FromContext(context.Background()))
}
