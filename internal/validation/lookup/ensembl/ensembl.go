// Package ensembl implements the secondary (failover) identifier provider
// against the Ensembl REST xrefs endpoint. Ensembl's xrefs/symbol lookup
// has no batch form, so BatchSize reports 1 and the lookup subsystem
// submits one identifier per call, per §4.5 step 4.
package ensembl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/biovalidate/internal/validation/lookup"
)

const defaultBaseURL = "https://rest.ensembl.org"

type Client struct {
	httpClient *http.Client
	baseURL    string
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
	}
}

func (c *Client) Name() string   { return "ensembl" }
func (c *Client) BatchSize() int { return 1 }

type xrefEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_id"`
}

func (c *Client) Resolve(ctx context.Context, organism string, identifiers []string) ([]lookup.Answer, error) {
	answers := make([]lookup.Answer, 0, len(identifiers))
	for _, id := range identifiers {
		answer, err := c.resolveOne(ctx, organism, id)
		if err != nil {
			return answers, err
		}
		answers = append(answers, answer)
	}
	return answers, nil
}

func (c *Client) resolveOne(ctx context.Context, organism, identifier string) (lookup.Answer, error) {
	species := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(organism), " ", "_"))
	reqURL := fmt.Sprintf("%s/xrefs/symbol/%s/%s", c.baseURL, url.PathEscape(species), url.PathEscape(identifier))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return lookup.Answer{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return lookup.Answer{}, fmt.Errorf("ensembl xrefs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return lookup.Answer{}, fmt.Errorf("ensembl xrefs: server error %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return lookup.Answer{}, fmt.Errorf("ensembl xrefs: rate limited")
	}
	if resp.StatusCode == http.StatusNotFound {
		return lookup.Answer{Identifier: identifier, Found: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return lookup.Answer{}, fmt.Errorf("ensembl xrefs: unexpected status %d", resp.StatusCode)
	}

	var entries []xrefEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return lookup.Answer{}, fmt.Errorf("ensembl xrefs: decode: %w", err)
	}

	switch len(entries) {
	case 0:
		return lookup.Answer{Identifier: identifier, Found: false}, nil
	case 1:
		return lookup.Answer{Identifier: identifier, Found: true, CanonicalName: entries[0].DisplayName}, nil
	default:
		return lookup.Answer{Identifier: identifier, Found: true, Ambiguous: true, CanonicalName: entries[0].DisplayName}, nil
	}
}
