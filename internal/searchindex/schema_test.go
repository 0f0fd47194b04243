package searchindex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

type MockSchemaClient struct {
	CreatedClass    *models.Class
	ExistingClass   *models.Class
	AddedProperties []*models.Property
	ExistsErr       error
}

func (m *MockSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	if m.ExistsErr != nil {
		return false, m.ExistsErr
	}
	return m.ExistingClass != nil, nil
}

func (m *MockSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	m.CreatedClass = class
	return nil
}

func (m *MockSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return m.ExistingClass, nil
}

func (m *MockSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	m.AddedProperties = append(m.AddedProperties, property)
	return nil
}

func TestEnsureSchema_CreatesClass(t *testing.T) {
	client := &MockSchemaClient{}
	require.NoError(t, EnsureSchema(context.Background(), client, "Segment"))
	require.NotNil(t, client.CreatedClass)

	assert.Equal(t, "Segment", client.CreatedClass.Class)
	assert.Equal(t, "none", client.CreatedClass.Vectorizer)

	types := map[string]string{}
	for _, p := range client.CreatedClass.Properties {
		types[p.Name] = p.DataType[0]
	}
	assert.Equal(t, "int", types["mediaId"])
	assert.Equal(t, "text", types["content"])
	assert.Equal(t, "string", types["category"])
	assert.Equal(t, "date", types["updatedAt"])
}

func TestEnsureSchema_AddsMissingProperties(t *testing.T) {
	client := &MockSchemaClient{
		ExistingClass: &models.Class{
			Class: "Segment",
			Properties: []*models.Property{
				{Name: "content", DataType: []string{"text"}},
				{Name: "mediaId", DataType: []string{"int"}},
			},
		},
	}
	require.NoError(t, EnsureSchema(context.Background(), client, "Segment"))

	assert.Nil(t, client.CreatedClass, "existing class must not be recreated")
	added := map[string]bool{}
	for _, p := range client.AddedProperties {
		added[p.Name] = true
	}
	assert.True(t, added["version"])
	assert.True(t, added["episode"])
	assert.False(t, added["content"])
	assert.Len(t, client.AddedProperties, len(segmentProperties())-2)
}

func TestEnsureSchema_ExistsError(t *testing.T) {
	client := &MockSchemaClient{ExistsErr: errors.New("connection refused")}
	err := EnsureSchema(context.Background(), client, "Segment")
	assert.ErrorContains(t, err, "connection refused")
}
