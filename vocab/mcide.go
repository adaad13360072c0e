package vocab

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// MCIDEClient fetches the consortium's minimum Common ICU Data Elements
// category CSVs (category → group associations). Fetching happens once
// per builder run, before any reconciliation work; a local cache copy is
// kept so offline runs fall back to the last downloaded version.
type MCIDEClient struct {
	http     *resty.Client
	baseURL  string
	cacheDir string
	log      *zap.Logger
}

// NewMCIDEClient builds a client against baseURL. cacheDir may be empty
// to disable the offline fallback.
func NewMCIDEClient(baseURL, cacheDir string, log *zap.Logger) *MCIDEClient {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(2)
	return &MCIDEClient{
		http:     client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		cacheDir: cacheDir,
		log:      log,
	}
}

// CategoryGroups downloads <baseURL>/<file> and returns a categoryCol →
// groupCol lookup. On download failure it reads the cached copy instead.
func (c *MCIDEClient) CategoryGroups(ctx context.Context, file, categoryCol, groupCol string) (map[string]string, error) {
	body, err := c.fetch(ctx, file)
	if err != nil {
		cached, cacheErr := c.readCache(file)
		if cacheErr != nil {
			return nil, fmt.Errorf("fetch mcide %s: %w", file, err)
		}
		c.log.Warn("mcide download failed, using cached copy",
			zap.String("file", file), zap.Error(err))
		body = cached
	}

	lookup, err := parseCategoryGroups(body, categoryCol, groupCol)
	if err != nil {
		return nil, fmt.Errorf("parse mcide %s: %w", file, err)
	}
	c.log.Info("loaded mcide category groups",
		zap.String("file", file), zap.Int("categories", len(lookup)))
	return lookup, nil
}

func (c *MCIDEClient) fetch(ctx context.Context, file string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(c.baseURL + "/" + file)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("http %d", resp.StatusCode())
	}
	body := resp.Body()
	if c.cacheDir != "" {
		if err := os.MkdirAll(c.cacheDir, 0o755); err == nil {
			_ = os.WriteFile(c.cachePath(file), body, 0o644)
		}
	}
	return body, nil
}

func (c *MCIDEClient) readCache(file string) ([]byte, error) {
	if c.cacheDir == "" {
		return nil, fmt.Errorf("no cache dir configured")
	}
	return os.ReadFile(c.cachePath(file))
}

func (c *MCIDEClient) cachePath(file string) string {
	return filepath.Join(c.cacheDir, file)
}

func parseCategoryGroups(body []byte, categoryCol, groupCol string) (map[string]string, error) {
	r := csv.NewReader(strings.NewReader(string(body)))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty csv")
	}

	catIdx, groupIdx := -1, -1
	for i, col := range records[0] {
		switch strings.TrimSpace(col) {
		case categoryCol:
			catIdx = i
		case groupCol:
			groupIdx = i
		}
	}
	if catIdx < 0 || groupIdx < 0 {
		return nil, fmt.Errorf("columns %s/%s not found", categoryCol, groupCol)
	}

	lookup := make(map[string]string, len(records)-1)
	for _, rec := range records[1:] {
		if catIdx >= len(rec) || groupIdx >= len(rec) {
			continue
		}
		cat := strings.TrimSpace(rec[catIdx])
		group := strings.TrimSpace(rec[groupIdx])
		if cat == "" || group == "" {
			continue
		}
		lookup[cat] = group
	}
	return lookup, nil
}
