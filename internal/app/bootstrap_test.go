package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mediasearch/backend/internal/app"
	"mediasearch/backend/internal/config"
)

type countingSchema struct {
	calls     int
	failUntil int
}

func (s *countingSchema) EnsureSchema(context.Context) error {
	s.calls++
	if s.calls <= s.failUntil {
		return errors.New("schema error")
	}
	return nil
}

func TestEnsureSchemaWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		attempts  int
		failUntil int
		wantCalls int
		wantErr   bool
	}{
		{"first try", 1, 0, 1, false},
		{"recovers", 5, 2, 3, false},
		{"gives up", 3, 10, 3, true},
		{"zero attempts still tries once", 0, 0, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &countingSchema{failUntil: tt.failUntil}
			err := app.EnsureSchemaWithRetry(context.Background(), s, tt.attempts, time.Millisecond)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, s.calls)
		})
	}
}

func TestEnsureSchemaWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &countingSchema{failUntil: 100}
	err := app.EnsureSchemaWithRetry(ctx, s, 50, 10*time.Millisecond)
	assert.Error(t, err)
	assert.Less(t, s.calls, 50)
}

func TestBootstrap_DBDown(t *testing.T) {
	cfg := &config.Config{
		DBHost:                     "localhost",
		DBPort:                     54322,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "test",
		BootstrapRetryAttempts:     1,
		BootstrapRetryDelaySeconds: 0,
	}

	start := time.Now()
	deps, err := app.Bootstrap(context.Background(), cfg)

	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "failed to ping db")
	assert.Less(t, time.Since(start), 5*time.Second)
}
