package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"regchat/internal/index"
	"regchat/internal/text"
	"regchat/internal/vector"
)

// objectNamespace seeds the deterministic object ids so that re-ingesting a
// chunk id overwrites the same object.
var objectNamespace = uuid.MustParse("6f0d3a5e-8c1b-5b7e-9a43-2f1c7e0d4b11")

// Store keeps one collection as a Weaviate class.
type Store struct {
	client    *weaviate.Client
	className string
}

func NewStore(client *weaviate.Client, collection string) *Store {
	return &Store{client: client, className: vector.ClassName(collection)}
}

func (s *Store) ClassName() string { return s.className }

// ObjectID returns the Weaviate object id for a chunk.
func (s *Store) ObjectID(chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(objectNamespace, []byte(s.className+"/"+chunkID)).String())
}

func (s *Store) Upsert(ctx context.Context, records []index.Record) error {
	if len(records) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(records))
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", r.ID, err)
		}
		filename, _ := r.Metadata["filename"].(string)
		source := r.DocumentID
		if v, ok := r.Metadata[text.MetaSource].(string); ok && v != "" {
			source = v
		}
		objects = append(objects, &models.Object{
			Class: s.className,
			ID:    s.ObjectID(r.ID),
			Properties: map[string]interface{}{
				vector.PropContent:    r.Text,
				vector.PropChunkID:    r.ID,
				vector.PropDocumentID: r.DocumentID,
				vector.PropSource:     source,
				vector.PropOrdinal:    r.Ordinal,
				vector.PropFilename:   filename,
				vector.PropMetadata:   string(meta),
			},
			Vector: r.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}

	var failures []string
	for _, o := range resp {
		if o.Result == nil || o.Result.Errors == nil {
			continue
		}
		for _, e := range o.Result.Errors.Error {
			if e != nil {
				failures = append(failures, e.Message)
			}
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("batch upsert: %d object errors: %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

// Search returns the k nearest records by cosine distance. Weaviate does not
// order equal distances, so exact ties come back in arbitrary order.
func (s *Store) Search(ctx context.Context, vec []float32, k int, filter index.Filter) ([]index.ScoredChunk, error) {
	where, err := whereFilter(filter)
	if err != nil {
		return nil, err
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	fields := []graphql.Field{
		{Name: vector.PropContent},
		{Name: vector.PropChunkID},
		{Name: vector.PropDocumentID},
		{Name: vector.PropOrdinal},
		{Name: vector.PropMetadata},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}

	get := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(fields...)
	if where != nil {
		get = get.WithWhere(where)
	}

	res, err := get.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", graphqlErrors(res.Errors))
	}

	rows, err := classRows(res.Data, "Get", s.className)
	if err != nil {
		return nil, err
	}

	results := make([]index.ScoredChunk, 0, len(rows))
	for _, props := range rows {
		r, err := decodeHit(props)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func decodeHit(props map[string]interface{}) (index.ScoredChunk, error) {
	var r index.ScoredChunk
	r.Text, _ = props[vector.PropContent].(string)
	r.ID, _ = props[vector.PropChunkID].(string)
	r.DocumentID, _ = props[vector.PropDocumentID].(string)
	if ordinal, ok := props[vector.PropOrdinal].(float64); ok {
		r.Ordinal = int(ordinal)
	}

	r.Metadata = make(map[string]any)
	if raw, ok := props[vector.PropMetadata].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.Metadata); err != nil {
			return r, fmt.Errorf("corrupted metadata for %s: %w", r.ID, err)
		}
	}
	if _, ok := r.Metadata[text.MetaOrdinal]; ok {
		r.Metadata[text.MetaOrdinal] = r.Ordinal
	}

	additional, ok := props["_additional"].(map[string]interface{})
	if !ok {
		return r, fmt.Errorf("missing distance for %s", r.ID)
	}
	switch d := additional["distance"].(type) {
	case float64:
		r.Score = float32(1 - d)
	case string:
		f, err := strconv.ParseFloat(d, 64)
		if err != nil {
			return r, fmt.Errorf("bad distance %q for %s", d, r.ID)
		}
		r.Score = float32(1 - f)
	default:
		return r, fmt.Errorf("missing distance for %s", r.ID)
	}
	return r, nil
}

func (s *Store) DeleteStale(ctx context.Context, documentID string, keep int) error {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{vector.PropDocumentID}).
				WithOperator(filters.Equal).
				WithValueString(documentID),
			filters.Where().
				WithPath([]string{vector.PropOrdinal}).
				WithOperator(filters.GreaterThanEqual).
				WithValueInt(int64(keep)),
		})
	return s.deleteWhere(ctx, where)
}

func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	where := filters.Where().
		WithPath([]string{vector.PropDocumentID}).
		WithOperator(filters.Equal).
		WithValueString(documentID)
	return s.deleteWhere(ctx, where)
}

func (s *Store) deleteWhere(ctx context.Context, where *filters.WhereBuilder) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.className).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	return err
}

func (s *Store) Documents(ctx context.Context) ([]index.DocumentSummary, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithGroupBy(vector.PropDocumentID).
		WithFields(
			graphql.Field{Name: "groupedBy", Fields: []graphql.Field{{Name: "value"}}},
			graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}},
		).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", graphqlErrors(res.Errors))
	}

	rows, err := classRows(res.Data, "Aggregate", s.className)
	if err != nil {
		return nil, err
	}

	docs := make([]index.DocumentSummary, 0, len(rows))
	for _, row := range rows {
		var d index.DocumentSummary
		if g, ok := row["groupedBy"].(map[string]interface{}); ok {
			d.ID, _ = g["value"].(string)
		}
		d.Chunks = metaCount(row)
		if d.ID != "" {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(a, b int) bool { return docs[a].ID < docs[b].ID })
	return docs, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %s", graphqlErrors(res.Errors))
	}

	rows, err := classRows(res.Data, "Aggregate", s.className)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return metaCount(rows[0]), nil
}

// whereFilter maps index filter keys onto class properties.
func whereFilter(f index.Filter) (*filters.WhereBuilder, error) {
	if len(f) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	operands := make([]*filters.WhereBuilder, 0, len(keys))
	for _, k := range keys {
		w := filters.Where().WithOperator(filters.Equal)
		switch k {
		case text.MetaSource:
			w = w.WithPath([]string{vector.PropSource}).WithValueString(f[k])
		case text.MetaChunkID:
			w = w.WithPath([]string{vector.PropChunkID}).WithValueString(f[k])
		case "document_id":
			w = w.WithPath([]string{vector.PropDocumentID}).WithValueString(f[k])
		case "filename":
			w = w.WithPath([]string{vector.PropFilename}).WithValueString(f[k])
		case text.MetaOrdinal:
			n, err := strconv.ParseInt(f[k], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("ordinal filter %q: %w", f[k], err)
			}
			w = w.WithPath([]string{vector.PropOrdinal}).WithValueInt(n)
		default:
			return nil, fmt.Errorf("unsupported filter key %q", k)
		}
		operands = append(operands, w)
	}

	if len(operands) == 1 {
		return operands[0], nil
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands), nil
}

// classRows extracts data[op][class] as a list of property maps.
func classRows(data map[string]models.JSONObject, op, class string) ([]map[string]interface{}, error) {
	section, ok := data[op].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("malformed %s response", op)
	}
	raw, ok := section[class].([]interface{})
	if !ok {
		if section[class] == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("malformed %s response for %s", op, class)
	}

	rows := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if props, ok := item.(map[string]interface{}); ok {
			rows = append(rows, props)
		}
	}
	return rows, nil
}

func metaCount(row map[string]interface{}) int {
	meta, ok := row["meta"].(map[string]interface{})
	if !ok {
		return 0
	}
	if c, ok := meta["count"].(float64); ok {
		return int(c)
	}
	return 0
}

func graphqlErrors(errs []*models.GraphQLError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
