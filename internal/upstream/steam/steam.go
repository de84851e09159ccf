// Package steam implements the Steam Workshop source: item details from the
// Web API, payload download from the item's file_url, dependencies and
// screenshots scraped from the community page and app details from the
// store API.
package steam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/open-workshop/workshop-cache/internal/upstream"
)

const sourceKey = "steam"

func init() {
	upstream.MustRegister(upstream.Source{
		Key:         sourceKey,
		Description: "Steam Workshop (Web API + community pages)",
		New:         New,
	})
}

// Client talks to the three Steam endpoints.
type Client struct {
	http          *http.Client
	apiBase       string
	storeBase     string
	communityBase string
	userAgent     string
	maxPayload    int64
}

// New builds a Steam client from source options.
func New(opts upstream.Options) (upstream.Fetcher, error) {
	if opts.Client == nil {
		return nil, errors.New("steam: http client is required")
	}
	if opts.APIBase == "" || opts.StoreBase == "" || opts.CommunityBase == "" {
		return nil, errors.New("steam: api, store and community base urls are required")
	}
	return &Client{
		http:          opts.Client,
		apiBase:       strings.TrimRight(opts.APIBase, "/"),
		storeBase:     strings.TrimRight(opts.StoreBase, "/"),
		communityBase: strings.TrimRight(opts.CommunityBase, "/"),
		userAgent:     opts.UserAgent,
		maxPayload:    opts.MaxPayloadSize,
	}, nil
}

// Details returns item metadata without downloading the payload.
func (c *Client) Details(ctx context.Context, id uint64) (upstream.Metadata, error) {
	file, err := c.publishedFile(ctx, id)
	if err != nil {
		return upstream.Metadata{}, err
	}
	return file.metadata(), nil
}

// Fetch downloads the payload of an item together with its metadata,
// dependencies and screenshots.
func (c *Client) Fetch(ctx context.Context, id uint64) (upstream.Payload, upstream.Metadata, error) {
	file, err := c.publishedFile(ctx, id)
	if err != nil {
		return upstream.Payload{}, upstream.Metadata{}, err
	}
	meta := file.metadata()
	if meta.FileURL == "" {
		return upstream.Payload{}, meta, fmt.Errorf("steam: item %d has no downloadable file", id)
	}

	data, err := c.download(ctx, meta.FileURL)
	if err != nil {
		return upstream.Payload{}, meta, err
	}

	// 社区页面只提供附加信息，失败时不影响主流程。
	if page, err := c.page(ctx, id); err == nil {
		meta.Dependencies = page.dependencies
		meta.Screenshots = page.screenshots
	}

	name := path.Base(strings.ReplaceAll(meta.Filename, `\`, "/"))
	if name == "" || name == "." || name == "/" {
		name = strconv.FormatUint(id, 10) + ".bin"
	}
	return upstream.Payload{Files: []upstream.File{{Name: name, Data: data}}}, meta, nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("steam: %s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, upstream.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("steam: %s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) download(ctx context.Context, fileURL string) ([]byte, error) {
	if _, err := url.Parse(fileURL); err != nil {
		return nil, fmt.Errorf("steam: invalid file url: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if c.maxPayload > 0 {
		reader = io.LimitReader(resp.Body, c.maxPayload+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("steam: read payload: %w", err)
	}
	if c.maxPayload > 0 && int64(len(data)) > c.maxPayload {
		return nil, fmt.Errorf("steam: payload exceeds %d bytes", c.maxPayload)
	}
	return data, nil
}
