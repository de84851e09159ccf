package steam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/open-workshop/workshop-cache/internal/upstream"
)

const shortDescriptionLimit = 256

// flexInt accepts Steam numbers encoded either as JSON numbers or strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("steam: invalid number %q: %w", raw, err)
	}
	*f = flexInt(v)
	return nil
}

type publishedFile struct {
	PublishedFileID flexInt `json:"publishedfileid"`
	Result          int     `json:"result"`
	ConsumerAppID   flexInt `json:"consumer_app_id"`
	Filename        string  `json:"filename"`
	FileSize        flexInt `json:"file_size"`
	FileURL         string  `json:"file_url"`
	PreviewURL      string  `json:"preview_url"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	TimeCreated     flexInt `json:"time_created"`
	TimeUpdated     flexInt `json:"time_updated"`
	Tags            []struct {
		Tag string `json:"tag"`
	} `json:"tags"`
}

type detailsResponse struct {
	Response struct {
		Result  int             `json:"result"`
		Details []publishedFile `json:"publishedfiledetails"`
	} `json:"response"`
}

func (c *Client) publishedFile(ctx context.Context, id uint64) (publishedFile, error) {
	form := url.Values{}
	form.Set("itemcount", "1")
	form.Set("publishedfileids[0]", strconv.FormatUint(id, 10))

	req, err := c.newRequest(ctx, http.MethodPost,
		c.apiBase+"/ISteamRemoteStorage/GetPublishedFileDetails/v1/",
		strings.NewReader(form.Encode()))
	if err != nil {
		return publishedFile{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return publishedFile{}, err
	}
	defer resp.Body.Close()

	var payload detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return publishedFile{}, fmt.Errorf("steam: decode details: %w", err)
	}
	if len(payload.Response.Details) == 0 || payload.Response.Details[0].Result != 1 {
		return publishedFile{}, upstream.ErrNotFound
	}
	return payload.Response.Details[0], nil
}

func (f publishedFile) metadata() upstream.Metadata {
	tags := make([]string, 0, len(f.Tags))
	for _, t := range f.Tags {
		if t.Tag != "" {
			tags = append(tags, t.Tag)
		}
	}
	return upstream.Metadata{
		ID:               uint64(f.PublishedFileID),
		GameID:           uint64(f.ConsumerAppID),
		Name:             f.Title,
		ShortDescription: truncate(f.Description, shortDescriptionLimit),
		Description:      f.Description,
		Size:             int64(f.FileSize),
		CreatedAt:        unixTime(f.TimeCreated),
		UpdatedAt:        unixTime(f.TimeUpdated),
		Tags:             tags,
		PreviewURL:       f.PreviewURL,
		FileURL:          f.FileURL,
		Filename:         f.Filename,
		Source:           sourceKey,
	}
}

func unixTime(v flexInt) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(v), 0).UTC()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

type appDetails struct {
	Success bool `json:"success"`
	Data    struct {
		Name             string `json:"name"`
		Type             string `json:"type"`
		HeaderImage      string `json:"header_image"`
		ShortDescription string `json:"short_description"`
		Description      string `json:"detailed_description"`
		Genres           []struct {
			ID          flexInt `json:"id"`
			Description string  `json:"description"`
		} `json:"genres"`
	} `json:"data"`
}

// App returns store details for an application.
func (c *Client) App(ctx context.Context, appID uint64) (upstream.App, error) {
	key := strconv.FormatUint(appID, 10)
	req, err := c.newRequest(ctx, http.MethodGet, c.storeBase+"/api/appdetails?appids="+key+"&cc=tw", nil)
	if err != nil {
		return upstream.App{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return upstream.App{}, err
	}
	defer resp.Body.Close()

	var payload map[string]appDetails
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return upstream.App{}, fmt.Errorf("steam: decode app details: %w", err)
	}
	details, ok := payload[key]
	if !ok || !details.Success {
		return upstream.App{}, upstream.ErrNotFound
	}

	app := upstream.App{
		ID:               appID,
		Name:             details.Data.Name,
		Type:             details.Data.Type,
		HeaderImage:      details.Data.HeaderImage,
		ShortDescription: details.Data.ShortDescription,
		Description:      details.Data.Description,
	}
	for _, g := range details.Data.Genres {
		name := g.Description
		if name == "" {
			name = "No data"
		}
		app.Genres = append(app.Genres, upstream.Genre{ID: uint64(g.ID), Name: name})
	}
	return app, nil
}
