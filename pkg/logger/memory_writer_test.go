package logger_test

import (
	"context"
	"testing"

	"github.com/BradenHooton/bulwark/internal/models"
	"github.com/BradenHooton/bulwark/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWriter_RecentNewestFirst(t *testing.T) {
	mem := logger.NewMemoryWriter(3)

	for _, typ := range []models.EventType{models.EventFailedLogin, models.EventAccountLocked, models.EventSuccessfulLogin, models.EventRateLimitExceeded} {
		require.NoError(t, mem.WriteEvent(context.Background(), newEvent(typ, 0)))
	}

	recent, err := mem.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, models.EventRateLimitExceeded, recent[0].Type)
	assert.Equal(t, models.EventSuccessfulLogin, recent[1].Type)
	assert.Equal(t, models.EventAccountLocked, recent[2].Type)

	events := mem.Events()
	assert.Equal(t, models.EventAccountLocked, events[0].Type)
}

func TestMemoryWriter_LimitAndFilter(t *testing.T) {
	mem := logger.NewMemoryWriter(10)
	mem.Emit(newEvent(models.EventFailedLogin, 0))
	mem.Emit(newEvent(models.EventFailedLogin, 0))
	mem.Emit(newEvent(models.EventAccountLocked, 0))

	recent, err := mem.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, models.EventAccountLocked, recent[0].Type)

	assert.Len(t, mem.OfType(models.EventFailedLogin), 2)
	assert.Empty(t, mem.OfType(models.EventFileUploadRejected))
}
