package reindex_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	handler "mediasearch/backend/features/reindex"
	"mediasearch/backend/internal/reindex"
)

type MockReindexer struct {
	mock.Mock
}

func (m *MockReindexer) Reindex(ctx context.Context, selectors []reindex.Selector) (*reindex.Run, error) {
	args := m.Called(ctx, selectors)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reindex.Run), args.Error(1)
}

func TestHandler_Reindex(t *testing.T) {
	run := &reindex.Run{
		MediaProcessed: 5, TotalSegments: 40, SuccessfulIndexes: 39, FailedIndexes: 1,
		Errors: []reindex.ItemError{{EntityID: "3", Message: "load media: boom"}},
	}

	tests := []struct {
		name       string
		body       string
		setup      func(*MockReindexer)
		wantStatus int
		check      func(*testing.T, map[string]interface{})
	}{
		{
			name: "scoped with partial failure",
			body: `{"media":[{"mediaId":3,"episodes":[1,2]}]}`,
			setup: func(m *MockReindexer) {
				m.On("Reindex", mock.Anything, []reindex.Selector{{MediaID: 3, Episodes: []int{1, 2}}}).Return(run, nil)
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.Equal(t, false, data["success"])
				assert.Equal(t, "Reindex completed with 1 failed indexes", data["message"])
				stats := data["stats"].(map[string]interface{})
				assert.EqualValues(t, 40, stats["totalSegments"])
				assert.EqualValues(t, 39, stats["successfulIndexes"])
				assert.EqualValues(t, 1, stats["failedIndexes"])
				assert.EqualValues(t, 5, stats["mediaProcessed"])
				errs := data["errors"].([]interface{})
				require.Len(t, errs, 1)
				assert.Equal(t, "3", errs[0].(map[string]interface{})["entityId"])
			},
		},
		{
			name: "empty body reindexes everything",
			body: "",
			setup: func(m *MockReindexer) {
				m.On("Reindex", mock.Anything, []reindex.Selector(nil)).
					Return(&reindex.Run{Success: true, Errors: []reindex.ItemError{}}, nil)
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.Equal(t, true, data["success"])
				assert.Equal(t, "Reindex completed successfully", data["message"])
			},
		},
		{
			name:       "invalid json",
			body:       `{"media":`,
			setup:      func(*MockReindexer) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "non-positive media id",
			body:       `{"media":[{"mediaId":0}]}`,
			setup:      func(*MockReindexer) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "enumeration failure keeps partial run",
			body: `{}`,
			setup: func(m *MockReindexer) {
				partial := &reindex.Run{MediaProcessed: 2, TotalSegments: 6, SuccessfulIndexes: 6}
				m.On("Reindex", mock.Anything, []reindex.Selector(nil)).Return(partial, errors.New("list media: db down"))
			},
			wantStatus: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Contains(t, body, "error")
				data := body["data"].(map[string]interface{})
				assert.Equal(t, false, data["success"])
				assert.Equal(t, "list media: db down", data["message"])
				stats := data["stats"].(map[string]interface{})
				assert.EqualValues(t, 2, stats["mediaProcessed"])
				assert.EqualValues(t, 6, stats["successfulIndexes"])
			},
		},
		{
			name: "failure without run",
			body: `{}`,
			setup: func(m *MockReindexer) {
				m.On("Reindex", mock.Anything, []reindex.Selector(nil)).Return(nil, errors.New("boom"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockReindexer)
			tt.setup(m)
			h := handler.NewHandler(m)

			req := httptest.NewRequest("POST", "/reindex", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.Reindex(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			if tt.check != nil {
				tt.check(t, body)
			} else {
				assert.Contains(t, body, "error")
			}
			m.AssertExpectations(t)
		})
	}
}
