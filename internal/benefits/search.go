// internal/benefits/search.go
package benefits

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/meilisearch/meilisearch-go"
)

// BeneficioIndex is the discovery index behind the search endpoint.
type BeneficioIndex interface {
	IndexBeneficio(ctx context.Context, b *Beneficio) error
	Search(ctx context.Context, asociacionID uuid.UUID, query string) ([]uuid.UUID, error)
}

// beneficioDocument is the flattened shape stored in Meilisearch.
type beneficioDocument struct {
	ID           string  `json:"id"`
	AsociacionID string  `json:"asociacion_id"`
	ComercioID   string  `json:"comercio_id"`
	Titulo       string  `json:"titulo"`
	Descripcion  string  `json:"descripcion"`
	Descuento    float64 `json:"descuento"`
	Estado       string  `json:"estado"`
}

// MeiliIndex indexes beneficios in a Meilisearch instance.
type MeiliIndex struct {
	index meilisearch.IndexManager
}

// NewMeiliIndex connects to Meilisearch and configures the beneficios index.
func NewMeiliIndex(host, apiKey, indexName string) *MeiliIndex {
	client := meilisearch.New(host, meilisearch.WithAPIKey(apiKey))
	index := client.Index(indexName)
	// Filtering on tenant is required for every query.
	attrs := []interface{}{"asociacion_id", "estado"}
	index.UpdateFilterableAttributes(&attrs)
	return &MeiliIndex{index: index}
}

func (m *MeiliIndex) IndexBeneficio(ctx context.Context, b *Beneficio) error {
	doc := beneficioDocument{
		ID:           b.ID.String(),
		AsociacionID: b.AsociacionID.String(),
		ComercioID:   b.ComercioID.String(),
		Titulo:       b.Titulo,
		Descripcion:  b.Descripcion,
		Descuento:    b.Descuento,
		Estado:       string(b.Estado),
	}
	if _, err := m.index.AddDocumentsWithContext(ctx, []beneficioDocument{doc}, nil); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (m *MeiliIndex) Search(ctx context.Context, asociacionID uuid.UUID, query string) ([]uuid.UUID, error) {
	resp, err := m.index.SearchWithContext(ctx, query, &meilisearch.SearchRequest{
		Filter: fmt.Sprintf("asociacion_id = %q AND estado = %q", asociacionID, BeneficioActivo),
		Limit:  50,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	raw, err := json.Marshal(resp.Hits)
	if err != nil {
		return nil, fmt.Errorf("decode hits: %w", err)
	}
	var hits []struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(raw, &hits); err != nil {
		return nil, fmt.Errorf("decode hits: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

// NoopIndex disables discovery search; SearchBeneficios then degrades to a
// plain DB listing.
type NoopIndex struct{}

func (NoopIndex) IndexBeneficio(ctx context.Context, b *Beneficio) error {
	return nil
}

func (NoopIndex) Search(ctx context.Context, asociacionID uuid.UUID, query string) ([]uuid.UUID, error) {
	return nil, fmt.Errorf("search index not configured")
}
