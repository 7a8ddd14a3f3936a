// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package pii

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

const (
	// DefaultLanguage is the analyzer language when none is configured.
	DefaultLanguage = "en"

	// DefaultTimeout is the HTTP timeout for the analyzer and anonymizer.
	DefaultTimeout = 10 * time.Second
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ServiceConfig configures the external analyzer/anonymizer client.
type ServiceConfig struct {
	AnalyzerURL   string        // Required: base URL of the analyzer service
	AnonymizerURL string        // Required: base URL of the anonymizer service
	Language      string        // Optional: analyzer language (default: en)
	Timeout       time.Duration // Optional: HTTP timeout (default: 10s)
}

// ServiceDetector is the primary detection path: it calls the external
// analyzer for Detect and the external anonymizer for Anonymize. Failures
// surface as errors; the caller decides whether to fall back to the regex
// set or to proceed without matches.
type ServiceDetector struct {
	analyzerURL   string
	anonymizerURL string
	language      string
	client        HTTPClient
}

// NewServiceDetector creates a detector client for the external services.
func NewServiceDetector(cfg ServiceConfig) (*ServiceDetector, error) {
	if cfg.AnalyzerURL == "" {
		return nil, fmt.Errorf("analyzer URL is required")
	}
	if cfg.AnonymizerURL == "" {
		return nil, fmt.Errorf("anonymizer URL is required")
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &ServiceDetector{
		analyzerURL:   cfg.AnalyzerURL,
		anonymizerURL: cfg.AnonymizerURL,
		language:      cfg.Language,
		client:        &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// SetHTTPClient sets a custom HTTP client for testing.
func (d *ServiceDetector) SetHTTPClient(client HTTPClient) {
	d.client = client
}

// Wire types for the external services.

type analyzeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type analyzeEntity struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

type anonymizeRequest struct {
	Text            string          `json:"text"`
	AnalyzerResults []analyzeEntity `json:"analyzer_results"`
}

type anonymizeItem struct {
	Operator   string `json:"operator"`
	EntityType string `json:"entity_type"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Text       string `json:"text"`
}

type anonymizeResponse struct {
	Text  string          `json:"text"`
	Items []anonymizeItem `json:"items"`
}

// serviceEntityTypes maps analyzer entity names to gateway entity types.
var serviceEntityTypes = map[string]EntityType{
	"EMAIL_ADDRESS": EntityEmail,
	"EMAIL":         EntityEmail,
	"PHONE_NUMBER":  EntityPhone,
	"PHONE":         EntityPhone,
	"CREDIT_CARD":   EntityCreditCard,
	"US_SSN":        EntitySSN,
	"SSN":           EntitySSN,
	"IP_ADDRESS":    EntityIPAddress,
	"PERSON":        EntityPerson,
	"LOCATION":      EntityLocation,
	"ORGANIZATION":  EntityOrganization,
	"NRP":           EntityOrganization,
	"DATE_TIME":     EntityDateTime,
	"URL":           EntityURL,
}

func mapEntityType(name string) EntityType {
	if et, ok := serviceEntityTypes[name]; ok {
		return et
	}
	return EntityCustom
}

func serviceEntityName(et EntityType) string {
	switch et {
	case EntityEmail:
		return "EMAIL_ADDRESS"
	case EntityPhone:
		return "PHONE_NUMBER"
	case EntitySSN:
		return "US_SSN"
	default:
		return string(et)
	}
}

// Detect calls the analyzer service and maps its entities to matches,
// sorted by start offset ascending.
func (d *ServiceDetector) Detect(ctx context.Context, text string) ([]Match, error) {
	var entities []analyzeEntity
	if err := d.post(ctx, d.analyzerURL+"/analyze", analyzeRequest{Text: text, Language: d.language}, &entities); err != nil {
		return nil, fmt.Errorf("pii analyzer: %w", err)
	}

	matches := make([]Match, 0, len(entities))
	for _, e := range entities {
		if e.Start < 0 || e.End > len(text) || e.Start >= e.End {
			continue
		}
		matches = append(matches, Match{
			EntityType: mapEntityType(e.EntityType),
			Start:      e.Start,
			End:        e.End,
			Score:      e.Score,
			Text:       text[e.Start:e.End],
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })
	return matches, nil
}

// Anonymize calls the anonymizer service, then pairs each returned
// operation with its original span to build the mapping list. The service's
// generic replacements are rewritten into the request-unique placeholders
// issued by the token map: placeholders are reserved in text order so the
// first occurrence of a type gets _1, and the rewrites are applied
// right-to-left so offsets stay valid.
func (d *ServiceDetector) Anonymize(ctx context.Context, text string, matches []Match, tokens *TokenMap) (string, []TokenMapping, error) {
	spans := Deoverlap(matches)
	if len(spans) == 0 {
		return text, nil, nil
	}

	req := anonymizeRequest{Text: text}
	for _, m := range spans {
		req.AnalyzerResults = append(req.AnalyzerResults, analyzeEntity{
			EntityType: serviceEntityName(m.EntityType),
			Start:      m.Start,
			End:        m.End,
			Score:      m.Score,
		})
	}

	var resp anonymizeResponse
	if err := d.post(ctx, d.anonymizerURL+"/anonymize", req, &resp); err != nil {
		return "", nil, fmt.Errorf("pii anonymizer: %w", err)
	}

	// The service reports one operation per span, with offsets into the
	// transformed text. Both lists are in text order, so they pair by index;
	// a count mismatch means the service disagreed about the spans and the
	// local path is the safe answer.
	if len(resp.Items) != len(spans) {
		anonymized, mappings := tokens.Apply(text, spans)
		return anonymized, mappings, nil
	}

	items := make([]anonymizeItem, len(resp.Items))
	copy(items, resp.Items)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Start < items[j].Start })

	type replacement struct {
		item        anonymizeItem
		placeholder string
	}
	repls := make([]replacement, 0, len(items))
	created := make([]TokenMapping, 0, len(items))
	for i := range items {
		if items[i].Start < 0 || items[i].End > len(resp.Text) || items[i].Start >= items[i].End {
			continue
		}
		placeholder := tokens.next(spans[i].EntityType)
		created = append(created, tokens.record(spans[i].Text, placeholder, spans[i].EntityType))
		repls = append(repls, replacement{item: items[i], placeholder: placeholder})
	}

	out := resp.Text
	for i := len(repls) - 1; i >= 0; i-- {
		r := repls[i]
		out = out[:r.item.Start] + r.placeholder + out[r.item.End:]
	}
	return out, created, nil
}

// post sends a JSON request and decodes a JSON response. Non-2xx statuses
// are returned as errors carrying the response body.
func (d *ServiceDetector) post(ctx context.Context, url string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
