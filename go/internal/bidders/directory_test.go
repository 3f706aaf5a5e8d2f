package bidders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	ctx := context.Background()
	dir := NewStatic(map[string]string{"u-1": "alice"})

	assert.Equal(t, "alice", Resolve(ctx, dir, "u-1"))
	assert.Equal(t, "u-2", Resolve(ctx, dir, "u-2"))
	assert.Equal(t, "u-3", Resolve(ctx, nil, "u-3"))

	dir.Set("u-2", "bob")
	assert.Equal(t, "bob", Resolve(ctx, dir, "u-2"))
}
