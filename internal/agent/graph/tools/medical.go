package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/vayu-advisor/server/internal/agent/model"
	logx "github.com/vayu-advisor/server/pkg/logger"
)

// MedicalSearcher retrieves research passages for a health condition.
// No hits is an empty slice, not an error.
type MedicalSearcher interface {
	Search(ctx context.Context, condition string, k int) ([]model.MedicalFinding, error)
}

// ElasticSearcher runs BM25 queries against the medical journal index.
type ElasticSearcher struct {
	es    *elasticsearch.Client
	index string
}

// searchFields boosts passage text over figure captions and OCR.
var searchFields = []string{
	"text^2",
	"metadata.image_info.caption^1.5",
	"metadata.image_info.description^1.2",
	"metadata.image_info.ocr_text",
}

// NewElasticSearcher builds a client from config. A missing URL is an error.
func NewElasticSearcher(cfg model.MedicalConfig) (*ElasticSearcher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("elasticsearch url is not configured")
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:              []string{cfg.URL},
		Username:               cfg.User,
		Password:               cfg.Password,
		CertificateFingerprint: cfg.CertFingerprint,
		MaxRetries:             3,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return NewElasticSearcherWithClient(es, cfg.Index), nil
}

func NewElasticSearcherWithClient(es *elasticsearch.Client, index string) *ElasticSearcher {
	return &ElasticSearcher{es: es, index: index}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64 `json:"_score"`
			Source struct {
				Text       string         `json:"text"`
				SourcePDF  string         `json:"source_pdf"`
				PageNumber int            `json:"page_number"`
				Metadata   map[string]any `json:"metadata"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *ElasticSearcher) Search(ctx context.Context, condition string, k int) ([]model.MedicalFinding, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return []model.MedicalFinding{}, nil
	}
	if k <= 0 {
		k = 5
	}

	body := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  condition,
				"fields": searchFields,
			},
		},
		"size": k,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode search body: %w", err)
	}

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("search %s: %s: %s", s.index, res.Status(), strings.TrimSpace(string(b)))
	}

	var decoded searchResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]model.MedicalFinding, 0, len(decoded.Hits.Hits))
	for _, h := range decoded.Hits.Hits {
		out = append(out, model.MedicalFinding{
			Condition: condition,
			Score:     h.Score,
			Text:      h.Source.Text,
			Source:    h.Source.SourcePDF,
			Page:      h.Source.PageNumber,
			Metadata:  h.Source.Metadata,
		})
	}
	logx.Debug().Str("tool", model.ToolMedical).Str("condition", condition).Int("hits", len(out)).Msg("medical search done")
	return out, nil
}

var _ MedicalSearcher = (*ElasticSearcher)(nil)
