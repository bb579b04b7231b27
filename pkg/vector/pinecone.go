package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultPineconeBaseURL    = "https://api.pinecone.io"
	defaultPineconeAPIVersion = "2025-01"
	defaultPineconeCloud      = "aws"
	defaultPineconeRegion     = "us-east-1"
)

// PineconeConfig configures the hosted Pinecone provider.
type PineconeConfig struct {
	APIKey     string
	APIVersion string
	BaseURL    string
	Cloud      string
	Region     string
	Timeout    time.Duration
}

// PineconeProvider implements Provider against the Pinecone serverless API.
// Control-plane calls (index lifecycle) go to BaseURL; data-plane calls go
// to the per-index host resolved via describe and cached.
type PineconeProvider struct {
	cfg  PineconeConfig
	http *http.Client

	mu    sync.RWMutex
	hosts map[string]string
}

// NewPineconeProvider constructs the provider.
func NewPineconeProvider(cfg PineconeConfig) (*PineconeProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("pinecone api key required")
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = defaultPineconeAPIVersion
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultPineconeBaseURL
	}
	if strings.TrimSpace(cfg.Cloud) == "" {
		cfg.Cloud = defaultPineconeCloud
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = defaultPineconeRegion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &PineconeProvider{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		hosts: make(map[string]string),
	}, nil
}

// ListIndexes implements Provider.
func (p *PineconeProvider) ListIndexes(ctx context.Context) ([]string, error) {
	var out pineconeIndexList
	if err := p.do(ctx, http.MethodGet, p.controlURL("/indexes"), nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Indexes))
	for _, idx := range out.Indexes {
		names = append(names, idx.Name)
	}
	return names, nil
}

// CreateIndex implements Provider. A 409 from Pinecone means the index
// already exists and is treated as success.
func (p *PineconeProvider) CreateIndex(ctx context.Context, name string, dimension int, metric string) error {
	if dimension <= 0 {
		return fmt.Errorf("pinecone create index: dimension required")
	}
	if strings.TrimSpace(metric) == "" {
		metric = "cosine"
	}
	req := pineconeCreateIndexRequest{
		Name:      name,
		Dimension: dimension,
		Metric:    metric,
	}
	req.Spec.Serverless.Cloud = p.cfg.Cloud
	req.Spec.Serverless.Region = p.cfg.Region
	err := p.do(ctx, http.MethodPost, p.controlURL("/indexes"), req, nil)
	if isHTTPStatus(err, http.StatusConflict) {
		return nil
	}
	return err
}

// DeleteIndex implements Provider. A 404 is treated as success.
func (p *PineconeProvider) DeleteIndex(ctx context.Context, name string) error {
	err := p.do(ctx, http.MethodDelete, p.controlURL("/indexes/"+name), nil, nil)
	if isHTTPStatus(err, http.StatusNotFound) {
		err = nil
	}
	if err == nil {
		p.mu.Lock()
		delete(p.hosts, name)
		p.mu.Unlock()
	}
	return err
}

// Upsert implements Provider.
func (p *PineconeProvider) Upsert(ctx context.Context, index string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	host, err := p.indexHost(ctx, index)
	if err != nil {
		return err
	}
	vectors := make([]pineconeVector, 0, len(records))
	for _, rec := range records {
		vectors = append(vectors, pineconeVector{
			ID:       rec.ID,
			Values:   rec.Values,
			Metadata: metadataToMap(rec.Metadata),
		})
	}
	return p.do(ctx, http.MethodPost, "https://"+host+"/vectors/upsert", pineconeUpsertRequest{Vectors: vectors}, nil)
}

// Query implements Provider.
func (p *PineconeProvider) Query(ctx context.Context, index string, vec []float32, topK int) ([]Match, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("pinecone query: vector required")
	}
	if topK <= 0 {
		topK = 5
	}
	host, err := p.indexHost(ctx, index)
	if err != nil {
		return nil, err
	}
	req := pineconeQueryRequest{
		Vector:          vec,
		TopK:            topK,
		IncludeMetadata: true,
	}
	var resp pineconeQueryResponse
	if err := p.do(ctx, http.MethodPost, "https://"+host+"/query", req, &resp); err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		matches = append(matches, Match{
			ID:       m.ID,
			Score:    m.Score,
			Metadata: metadataFromMap(m.Metadata),
		})
	}
	return matches, nil
}

// DeleteRecords implements Provider.
func (p *PineconeProvider) DeleteRecords(ctx context.Context, index string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	host, err := p.indexHost(ctx, index)
	if err != nil {
		return err
	}
	return p.do(ctx, http.MethodPost, "https://"+host+"/vectors/delete", pineconeDeleteRequest{IDs: ids}, nil)
}

func (p *PineconeProvider) controlURL(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

// indexHost resolves and caches the data-plane host for an index.
func (p *PineconeProvider) indexHost(ctx context.Context, index string) (string, error) {
	p.mu.RLock()
	host, ok := p.hosts[index]
	p.mu.RUnlock()
	if ok {
		return host, nil
	}
	var desc pineconeIndexDescription
	if err := p.do(ctx, http.MethodGet, p.controlURL("/indexes/"+index), nil, &desc); err != nil {
		return "", fmt.Errorf("pinecone describe index %s: %w", index, err)
	}
	host = strings.TrimSpace(desc.Host)
	if host == "" {
		return "", fmt.Errorf("pinecone describe index %s: empty host", index)
	}
	p.mu.Lock()
	p.hosts[index] = host
	p.mu.Unlock()
	return host, nil
}

func (p *PineconeProvider) do(ctx context.Context, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Api-Key", p.cfg.APIKey)
	req.Header.Set("X-Pinecone-Api-Version", p.cfg.APIVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("pinecone request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &pineconeHTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("pinecone decode: %w", err)
	}
	return nil
}

type pineconeHTTPError struct {
	Status int
	Body   string
}

func (e *pineconeHTTPError) Error() string {
	return fmt.Sprintf("pinecone http %d: %s", e.Status, e.Body)
}

func isHTTPStatus(err error, status int) bool {
	if err == nil {
		return false
	}
	httpErr, ok := err.(*pineconeHTTPError)
	return ok && httpErr.Status == status
}

func metadataToMap(md Metadata) map[string]any {
	out := map[string]any{
		"project_id":  md.ProjectID,
		"document_id": md.DocumentID,
		"text":        md.Text,
	}
	if md.ProjectName != "" {
		out["project_name"] = md.ProjectName
	}
	if md.DocumentName != "" {
		out["document_name"] = md.DocumentName
	}
	return out
}

func metadataFromMap(raw map[string]any) Metadata {
	str := func(key string) string {
		v, _ := raw[key].(string)
		return v
	}
	return Metadata{
		ProjectID:    str("project_id"),
		DocumentID:   str("document_id"),
		Text:         str("text"),
		ProjectName:  str("project_name"),
		DocumentName: str("document_name"),
	}
}

// Pinecone wire types.

type pineconeIndexList struct {
	Indexes []struct {
		Name string `json:"name"`
		Host string `json:"host"`
	} `json:"indexes"`
}

type pineconeIndexDescription struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
}

type pineconeCreateIndexRequest struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Spec      struct {
		Serverless struct {
			Cloud  string `json:"cloud"`
			Region string `json:"region"`
		} `json:"serverless"`
	} `json:"spec"`
}

type pineconeVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type pineconeUpsertRequest struct {
	Vectors []pineconeVector `json:"vectors"`
}

type pineconeQueryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type pineconeQueryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
}

type pineconeDeleteRequest struct {
	IDs []string `json:"ids"`
}
