package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"mediasearch/backend/internal/adapter/gemini"
	"mediasearch/backend/internal/syncjob"
)

func TestEmbedder_Embed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": map[string]interface{}{
				"values": []float32{0.1, 0.2, 0.3},
			},
		})
	}))
	defer ts.Close()

	embedder := gemini.NewEmbedder("test-key", "gemini-embedding-001", option.WithEndpoint(ts.URL))
	defer embedder.Close()

	vec, err := embedder.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	if assert.Len(t, vec, 3) {
		assert.Equal(t, float32(0.1), vec[0])
	}
}

func TestEmbedder_MissingAPIKey(t *testing.T) {
	embedder := gemini.NewEmbedder("", "gemini-embedding-001")

	vec, err := embedder.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini api key not configured")
	assert.True(t, syncjob.IsPermanent(err))
	assert.Nil(t, vec)
}

func TestEmbedder_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   syncjob.ErrorClass
	}{
		{"rate limited", http.StatusTooManyRequests, syncjob.ClassTransient},
		{"rejected", http.StatusBadRequest, syncjob.ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]interface{}{"code": tt.status, "message": "nope"},
				})
			}))
			defer ts.Close()

			embedder := gemini.NewEmbedder("test-key", "gemini-embedding-001", option.WithEndpoint(ts.URL))
			defer embedder.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := embedder.Embed(ctx, "hello")
			require.Error(t, err)
			assert.Equal(t, tt.want, syncjob.ClassOf(err))
		})
	}
}
