package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arcvault/arcvault/internal/events"
)

func TestFromContext(t *testing.T) {
	ctx := context.Background()

	// Should return default logger when none in context
	logger := events.FromContext(ctx)
	assert.NotNil(t, logger)
}

func TestWithLogger(t *testing.T) {
	ctx := context.Background()
	logger := &events.Logger{}

	ctx = events.WithLogger(ctx, logger)
	retrieved := events.FromContext(ctx)

	assert.Equal(t, logger, retrieved)
}

func TestWithOperation(t *testing.T) {
	ctx := context.Background()
	opID := "op-123"

	ctx = events.WithOperation(ctx, opID)
	retrieved := events.GetOperation(ctx)

	assert.Equal(t, opID, retrieved)

	// Should also add to logger fields
	logger := events.FromContext(ctx)
	assert.NotNil(t, logger)
}

func TestGetOperationEmpty(t *testing.T) {
	ctx := context.Background()
	id := events.GetOperation(ctx)
	assert.Empty(t, id)
}

func TestSetDefault(t *testing.T) {
	customLogger := &events.Logger{}
	events.SetDefault(customLogger)

	ctx := context.Background()
	retrieved := events.FromContext(ctx)

	assert.Equal(t, customLogger, retrieved)
}
