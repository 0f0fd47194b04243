package searchindex

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// SchemaClient defines the interface for index schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

func segmentProperties() []*models.Property {
	return []*models.Property{
		{Name: "content", DataType: []string{"text"}},
		{Name: "contentEnglish", DataType: []string{"text"}},
		{Name: "mediaId", DataType: []string{"int"}},
		{Name: "episode", DataType: []string{"int"}},
		{Name: "position", DataType: []string{"int"}},
		{Name: "startTimeMs", DataType: []string{"int"}},
		{Name: "endTimeMs", DataType: []string{"int"}},
		{Name: "charCount", DataType: []string{"int"}},
		{Name: "category", DataType: []string{"string"}}, // exact match
		{Name: "mediaTitle", DataType: []string{"text"}},
		{Name: "version", DataType: []string{"int"}},
		{Name: "updatedAt", DataType: []string{"date"}},
	}
}

// EnsureSchema creates className if missing, otherwise adds any missing properties.
func EnsureSchema(ctx context.Context, client SchemaClient, className string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return fmt.Errorf("check class %s: %w", className, err)
	}

	properties := segmentProperties()
	if !exists {
		class := &models.Class{
			Class:       className,
			Description: "A timed text segment of a media",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return fmt.Errorf("get class %s: %w", className, err)
	}

	existing := make(map[string]bool)
	for _, p := range class.Properties {
		existing[p.Name] = true
	}
	for _, p := range properties {
		if existing[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, className, p); err != nil {
			return fmt.Errorf("add property %s.%s: %w", className, p.Name, err)
		}
	}
	return nil
}
