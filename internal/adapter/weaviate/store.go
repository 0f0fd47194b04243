package weaviate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"mediasearch/backend/internal/searchindex"
	"mediasearch/backend/internal/syncjob"
)

// Store writes segment documents into one Weaviate class.
type Store struct {
	client    *weaviate.Client
	className string
}

func NewStore(client *weaviate.Client, className string) *Store {
	return &Store{client: client, className: className}
}

// Upsert imports docs in one batch. Batch import replaces objects by id, so
// re-sending a document is harmless. Objects rejected by the index are
// reported in the result as permanent failures.
func (s *Store) Upsert(ctx context.Context, docs []searchindex.Document) (*searchindex.BatchResult, error) {
	result := &searchindex.BatchResult{Failed: map[string]error{}}
	if len(docs) == 0 {
		return result, nil
	}

	objs := make([]*models.Object, 0, len(docs))
	for _, d := range docs {
		objs = append(objs, &models.Object{
			Class:      s.className,
			ID:         strfmt.UUID(d.ID),
			Properties: d.Properties,
			Vector:     d.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch upsert %d objects: %w", len(docs), classify(err))
	}

	for _, item := range resp {
		if item.Result == nil || item.Result.Errors == nil || len(item.Result.Errors.Error) == 0 {
			continue
		}
		msgs := make([]string, 0, len(item.Result.Errors.Error))
		for _, e := range item.Result.Errors.Error {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		result.Failed[string(item.ID)] = syncjob.Permanent(fmt.Errorf("index rejected object: %s", strings.Join(msgs, "; ")))
	}
	return result, nil
}

// DeleteByID removes one object. A missing object counts as deleted.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	err := s.client.Data().Deleter().
		WithClassName(s.className).
		WithID(id).
		Do(ctx)
	if err == nil || isNotFound(err) {
		return nil
	}
	return fmt.Errorf("delete object %s: %w", id, classify(err))
}

// DeleteByMedia removes every object of mediaID and returns how many matched.
func (s *Store) DeleteByMedia(ctx context.Context, mediaID int64) (int, error) {
	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.className).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"mediaId"}).
			WithOperator(filters.Equal).
			WithValueInt(mediaID)).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete objects of media %d: %w", mediaID, classify(err))
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	if resp.Results.Failed > 0 {
		return int(resp.Results.Successful), syncjob.Transient(
			fmt.Errorf("delete objects of media %d: %d of %d failed", mediaID, resp.Results.Failed, resp.Results.Matches))
	}
	return int(resp.Results.Successful), nil
}

func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	meta := graphql.Field{
		Name:   "meta",
		Fields: []graphql.Field{{Name: "count"}},
	}

	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(meta).
		Do(ctx)
	if err != nil {
		return 0, classify(err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[s.className].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, ok := rows[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	m, ok := row["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := m["count"].(float64)
	return int(count), nil
}

func (s *Store) ClassExists(ctx context.Context, className string) (bool, error) {
	return s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (s *Store) CreateClass(ctx context.Context, class *models.Class) error {
	return s.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (s *Store) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return s.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (s *Store) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return s.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return searchindex.EnsureSchema(ctx, s, s.className)
}

func isNotFound(err error) bool {
	var wce *fault.WeaviateClientError
	return errors.As(err, &wce) && wce.IsUnexpectedStatusCode && wce.StatusCode == http.StatusNotFound
}

// classify maps client errors onto retry classes: 429 and 5xx are transient,
// other 4xx are validation rejections, transport errors are transient.
func classify(err error) error {
	var wce *fault.WeaviateClientError
	if errors.As(err, &wce) && wce.IsUnexpectedStatusCode {
		switch {
		case wce.StatusCode == http.StatusTooManyRequests, wce.StatusCode >= 500:
			return syncjob.Transient(err)
		case wce.StatusCode >= 400:
			return syncjob.Permanent(err)
		}
	}
	return syncjob.Transient(err)
}
