package library

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry is one selectable track set. Its four stems live under Dir by
// conventional file name (accompaniment, bass, drums, vocals); stems whose
// file is missing render as silent channels.
type Entry struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Dir   string `yaml:"dir"`
}

// Catalog is the ordered list of selectable track sets plus the clock asset
// sessions sync to. It is read-only input: sessions consult it at start and
// on switch requests.
type Catalog struct {
	Clock  string  `yaml:"clock"`
	Tracks []Entry `yaml:"tracks"`
}

// LoadCatalog reads a catalog manifest from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return parseCatalog(data)
}

// FetchCatalog downloads a manifest over HTTP and parses the body as the
// same YAML document a local file would hold.
func FetchCatalog(ctx context.Context, url string) (*Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalog %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog %s: %w", url, err)
	}
	return parseCatalog(data)
}

func parseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if c.Clock == "" {
		return fmt.Errorf("catalog: missing clock asset")
	}
	if len(c.Tracks) == 0 {
		return fmt.Errorf("catalog: no tracks")
	}
	seen := make(map[string]bool, len(c.Tracks))
	for i, e := range c.Tracks {
		if e.ID == "" {
			return fmt.Errorf("catalog: track %d has no id", i)
		}
		if e.Dir == "" {
			return fmt.Errorf("catalog: track %s has no dir", e.ID)
		}
		if seen[e.ID] {
			return fmt.Errorf("catalog: duplicate track id %s", e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

// Entry returns the catalog entry with the given id.
func (c *Catalog) Entry(id string) (Entry, bool) {
	for _, e := range c.Tracks {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// IDs returns the track identifiers in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.Tracks))
	for i, e := range c.Tracks {
		ids[i] = e.ID
	}
	return ids
}
