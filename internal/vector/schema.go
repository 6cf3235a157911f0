package vector

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/weaviate/weaviate/entities/models"
)

// Property names of a chunk object.
const (
	PropContent    = "content"
	PropChunkID    = "chunkId"
	PropDocumentID = "documentId"
	PropSource     = "source"
	PropOrdinal    = "ordinal"
	PropFilename   = "filename"
	PropMetadata   = "metadata"
)

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// ClassName converts a collection name such as "university_regulations"
// into a valid Weaviate class name ("UniversityRegulations").
func ClassName(collection string) string {
	parts := strings.FieldsFunc(collection, func(r rune) bool {
		return r > unicode.MaxASCII || (!unicode.IsLetter(r) && !unicode.IsDigit(r))
	})
	var b strings.Builder
	for _, p := range parts {
		p = strings.ToLower(p)
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	name := b.String()
	if name == "" || !unicode.IsLetter(rune(name[0])) {
		name = "C" + name
	}
	return name
}

func chunkProperties() []*models.Property {
	return []*models.Property{
		{Name: PropContent, DataType: []string{"text"}},
		{Name: PropChunkID, DataType: []string{"string"}},    // exact match
		{Name: PropDocumentID, DataType: []string{"string"}}, // exact match
		{Name: PropSource, DataType: []string{"string"}},
		{Name: PropOrdinal, DataType: []string{"int"}},
		{Name: PropFilename, DataType: []string{"string"}},
		{Name: PropMetadata, DataType: []string{"text"}, IndexSearchable: new(bool)}, // JSON blob
	}
}

// EnsureSchema creates the chunk class for collection, or adds any missing
// properties to an existing one. Vectors are supplied by the caller and
// compared by cosine distance.
func EnsureSchema(ctx context.Context, client SchemaClient, collection string) error {
	className := ClassName(collection)
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return fmt.Errorf("check class %s: %w", className, err)
	}

	properties := chunkProperties()

	if !exists {
		class := &models.Class{
			Class:             className,
			Description:       "A chunk of a regulation document",
			Vectorizer:        "none",
			VectorIndexConfig: map[string]interface{}{"distance": "cosine"},
			Properties:        properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return fmt.Errorf("get class %s: %w", className, err)
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return fmt.Errorf("add property %s: %w", p.Name, err)
			}
		}
	}

	return nil
}
