// Package rest reads organizational trees from an HTTP level backend.
package rest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"osmlevels/internal/domain"
	models "osmlevels/internal/domain/models/hierarchy"
	repo "osmlevels/internal/domain/repositories/hierarchy"
	"osmlevels/internal/retry"
)

// LevelClient implements LevelSource against:
//
//	GET {base}/trees/{treeId}/children?parent_id={id}
//	GET {base}/trees/{treeId}/path?external_id={id}
//	GET {base}/trees/{treeId}/stats
type LevelClient struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	logger      *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	Logger      *slog.Logger
}

// NewLevelClient creates a client for the level backend
func NewLevelClient(cfg Config) *LevelClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &LevelClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		logger:      cfg.Logger,
	}
}

func (c *LevelClient) FetchChildren(ctx context.Context, treeID, parentID string) ([]models.Node, error) {
	q := url.Values{}
	if parentID != "" && parentID != models.RootID {
		q.Set("parent_id", parentID)
	}

	var nodes []models.Node
	found, err := c.get(ctx, c.treeURL(treeID, "children", q), &nodes)
	if err != nil {
		return nil, domain.NewFetchError("children", err)
	}
	if !found {
		return nil, domain.NewFetchError("children", fmt.Errorf("parent %q not found in tree %q", parentID, treeID))
	}
	if nodes == nil {
		nodes = []models.Node{}
	}
	return nodes, nil
}

func (c *LevelClient) FetchPathByExternalID(ctx context.Context, treeID, externalID string) ([]models.Node, error) {
	q := url.Values{}
	q.Set("external_id", externalID)

	var nodes []models.Node
	found, err := c.get(ctx, c.treeURL(treeID, "path", q), &nodes)
	if err != nil {
		return nil, domain.NewFetchError("path", err)
	}
	if !found {
		return []models.Node{}, nil
	}
	return nodes, nil
}

func (c *LevelClient) FetchStats(ctx context.Context, treeID string) (models.Stats, error) {
	var stats models.Stats
	found, err := c.get(ctx, c.treeURL(treeID, "stats", nil), &stats)
	if err != nil {
		return models.Stats{}, domain.NewFetchError("stats", err)
	}
	if !found {
		return models.Stats{}, domain.NewFetchError("stats", fmt.Errorf("tree %q not found", treeID))
	}
	return stats, nil
}

func (c *LevelClient) treeURL(treeID, resource string, q url.Values) string {
	u := fmt.Sprintf("%s/trees/%s/%s", c.baseURL, url.PathEscape(treeID), resource)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// get decodes a JSON body into out. A 404 yields found=false with no error;
// 5xx and transport failures are retried.
func (c *LevelClient) get(ctx context.Context, u string, out any) (bool, error) {
	return retry.Do(ctx, c.retryConfig, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return false, err
		}
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, retry.Retryable(err)
		}
		defer resp.Body.Close()

		c.logger.Debug("level backend request",
			"url", u,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		switch {
		case resp.StatusCode == http.StatusNotFound:
			io.Copy(io.Discard, resp.Body)
			return false, nil
		case resp.StatusCode >= 500:
			return false, retry.Retryable(fmt.Errorf("level backend returned %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return false, fmt.Errorf("level backend returned %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
		return true, nil
	})
}

var _ repo.LevelSource = (*LevelClient)(nil)
