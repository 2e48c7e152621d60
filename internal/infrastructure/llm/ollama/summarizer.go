package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

const summarySystemPrompt = "You are a DICOM metadata expert. Return only valid JSON."

// Summarizer asks the model which attributes are clinically significant.
// Values always come from the input bag: the model only picks keys.
type Summarizer struct {
	client    *Client
	catalogue *Catalogue
	maxInput  int
}

func NewSummarizer(client *Client, catalogue *Catalogue) *Summarizer {
	return &Summarizer{client: client, catalogue: catalogue, maxInput: 16000}
}

func (s *Summarizer) Summarize(ctx context.Context, meta map[string]domain.Value) (map[string]domain.Value, error) {
	if len(meta) == 0 {
		return map[string]domain.Value{}, nil
	}
	prompt, err := s.prompt(meta)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.generateJSON(ctx, summarySystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var picked map[string]json.RawMessage
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &picked); err != nil {
		return nil, fmt.Errorf("parse summary json: %w", err)
	}

	out := map[string]domain.Value{}
	dropped := 0
	for key := range picked {
		v, ok := meta[key]
		if !ok {
			dropped++
			continue
		}
		if isEmpty(v) {
			continue
		}
		out[key] = v
	}
	// Required catalogue fields survive even when the model skips them.
	for key, v := range s.catalogue.Select(meta) {
		out[key] = v
	}
	if dropped > 0 {
		slog.Debug("summary_keys_dropped", "count", dropped)
	}
	return out, nil
}

func (s *Summarizer) prompt(meta map[string]domain.Value) (string, error) {
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	body := string(payload)
	if len(body) > s.maxInput {
		body = body[:s.maxInput]
	}
	return fmt.Sprintf(`You are an expert radiologist analyzing DICOM metadata. From the metadata below, extract every clinically significant attribute needed for patient identification, study and series context, acquisition parameters, image viewing and equipment details.

Always include these fields when present:
%s
Return a JSON object keyed by attribute keyword with the exact values. Omit empty or null fields.

DICOM Metadata:
%s
`, s.catalogue.describe(), body), nil
}

// CatalogueSummarizer selects catalogue fields without a model.
type CatalogueSummarizer struct {
	catalogue *Catalogue
}

func NewCatalogueSummarizer(catalogue *Catalogue) *CatalogueSummarizer {
	return &CatalogueSummarizer{catalogue: catalogue}
}

func (s *CatalogueSummarizer) Summarize(_ context.Context, meta map[string]domain.Value) (map[string]domain.Value, error) {
	return s.catalogue.Select(meta), nil
}
