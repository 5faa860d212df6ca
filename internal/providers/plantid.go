package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProviderPlantID is the ledger name of the plant identifier vendor.
const ProviderPlantID = "plant-id"

// maxAlternatives bounds how many non-top suggestions are kept.
const maxAlternatives = 4

// PlantIDGateway wraps the Plant.id identification and health assessment
// API. It accepts 1–5 base64 images per call.
type PlantIDGateway struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// PlantIDOption configures the gateway.
type PlantIDOption func(*PlantIDGateway)

// WithPlantIDBaseURL overrides the API endpoint (tests, proxies).
func WithPlantIDBaseURL(u string) PlantIDOption {
	return func(g *PlantIDGateway) { g.baseURL = u }
}

// WithPlantIDTimeout overrides the per-call timeout.
func WithPlantIDTimeout(d time.Duration) PlantIDOption {
	return func(g *PlantIDGateway) { g.client.Timeout = d }
}

// NewPlantIDGateway creates the gateway. No network activity happens
// until the first call.
func NewPlantIDGateway(apiKey string, opts ...PlantIDOption) *PlantIDGateway {
	g := &PlantIDGateway{
		apiKey:  apiKey,
		baseURL: "https://plant.id/api/v3",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type plantIDIdentifyRequest struct {
	Images        []string `json:"images"`
	SimilarImages bool     `json:"similar_images"`
}

type plantIDSuggestion struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`

	SimilarImages []struct {
		URL string `json:"url"`
	} `json:"similar_images"`

	Details struct {
		CommonNames []string `json:"common_names"`
		Taxonomy    struct {
			Family string `json:"family"`
			Genus  string `json:"genus"`
		} `json:"taxonomy"`
		Description struct {
			Value string `json:"value"`
		} `json:"description"`
		EntityID string `json:"entity_id"`
	} `json:"details"`
}

type plantIDIdentifyResponse struct {
	Result struct {
		IsPlant struct {
			Binary      bool    `json:"binary"`
			Probability float64 `json:"probability"`
		} `json:"is_plant"`
		Classification struct {
			Suggestions []plantIDSuggestion `json:"suggestions"`
		} `json:"classification"`
	} `json:"result"`
}

// Identify submits images and returns the top suggestion plus up to four
// alternatives. An empty classification is terminal NO_MATCH: retrying
// the same images cannot produce a different answer.
func (g *PlantIDGateway) Identify(ctx context.Context, images []string) (*IdentificationResult, error) {
	payload := plantIDIdentifyRequest{Images: NormalizeImages(images), SimilarImages: true}

	var out plantIDIdentifyResponse
	if err := g.post(ctx, "/identification?details=common_names,taxonomy,description", payload, &out); err != nil {
		return nil, err
	}

	suggestions := out.Result.Classification.Suggestions
	if len(suggestions) == 0 {
		return nil, &Error{
			Provider: ProviderPlantID, Code: CodeNoMatch, Retryable: false,
			Err: fmt.Errorf("empty classification"),
		}
	}

	result := &IdentificationResult{
		IsPlant: out.Result.IsPlant.Binary,
		Top:     mapSuggestion(suggestions[0]),
	}
	for _, s := range suggestions[1:] {
		if len(result.Alternatives) == maxAlternatives {
			break
		}
		result.Alternatives = append(result.Alternatives, mapSuggestion(s))
	}
	return result, nil
}

func mapSuggestion(s plantIDSuggestion) SpeciesCandidate {
	c := SpeciesCandidate{
		ScientificName:   s.Name,
		CommonNames:      s.Details.CommonNames,
		Family:           s.Details.Taxonomy.Family,
		Genus:            s.Details.Taxonomy.Genus,
		Confidence:       s.Probability,
		PlantIDSpeciesID: s.Details.EntityID,
		Description:      s.Details.Description.Value,
	}
	if c.ScientificName == "" {
		c.ScientificName = "Unknown"
	}
	if c.Family == "" {
		c.Family = "Unknown"
	}
	if c.Genus == "" {
		c.Genus = "Unknown"
	}
	if c.CommonNames == nil {
		c.CommonNames = []string{}
	}
	if len(s.SimilarImages) > 0 {
		c.SimilarImageURL = s.SimilarImages[0].URL
	}
	return c
}

type plantIDHealthRequest struct {
	Images []string `json:"images"`
}

type plantIDHealthResponse struct {
	Result struct {
		IsHealthy struct {
			Binary      bool    `json:"binary"`
			Probability float64 `json:"probability"`
		} `json:"is_healthy"`
		Disease struct {
			Suggestions []struct {
				Name        string  `json:"name"`
				Probability float64 `json:"probability"`
				Details     struct {
					Description string `json:"description"`
					Treatment   struct {
						Biological []string `json:"biological"`
						Chemical   []string `json:"chemical"`
						Prevention []string `json:"prevention"`
					} `json:"treatment"`
				} `json:"details"`
			} `json:"suggestions"`
		} `json:"disease"`
	} `json:"result"`
}

// AssessHealth submits images for disease assessment.
func (g *PlantIDGateway) AssessHealth(ctx context.Context, images []string) (*HealthResult, error) {
	payload := plantIDHealthRequest{Images: NormalizeImages(images)}

	var out plantIDHealthResponse
	if err := g.post(ctx, "/health_assessment?details=description,treatment", payload, &out); err != nil {
		return nil, err
	}

	result := &HealthResult{Healthy: out.Result.IsHealthy.Binary}
	for _, s := range out.Result.Disease.Suggestions {
		treatment := append([]string{}, s.Details.Treatment.Biological...)
		treatment = append(treatment, s.Details.Treatment.Chemical...)
		treatment = append(treatment, s.Details.Treatment.Prevention...)
		result.Findings = append(result.Findings, HealthFinding{
			Name:        s.Name,
			Description: s.Details.Description,
			Confidence:  s.Probability,
			Treatment:   treatment,
		})
	}
	if !result.Healthy && len(result.Findings) == 0 {
		return nil, &Error{
			Provider: ProviderPlantID, Code: CodeInvalidResponse, Retryable: false,
			Err: fmt.Errorf("unhealthy verdict with no findings"),
		}
	}
	return result, nil
}

func (g *PlantIDGateway) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("plant-id: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("plant-id: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", g.apiKey)
	req.Header.Set("User-Agent", UserAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return classifyTransport(ProviderPlantID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(ProviderPlantID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(ProviderPlantID, resp, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{
			Provider: ProviderPlantID, Code: CodeInvalidResponse, Retryable: false,
			Err: fmt.Errorf("decode response: %w", err),
		}
	}
	return nil
}
