// Package storage defines the records persisted for the workshop cache and
// the filters used to list them. Concrete backends live in subpackages.
package storage

import (
	"errors"
	"time"
)

// ErrNotFound indicates a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Mod is the persisted form of a cached content item.
type Mod struct {
	ID               uint64    `json:"id"`
	GameID           uint64    `json:"game"`
	Name             string    `json:"name"`
	ShortDescription string    `json:"short_description"`
	Description      string    `json:"description"`
	Size             int64     `json:"size"`
	Condition        int       `json:"condition"`
	Source           string    `json:"source"`
	Downloads        int64     `json:"downloads"`
	CreatedAt        time.Time `json:"date_creation"`
	UpdatedAt        time.Time `json:"date_update"`
	RequestedAt      time.Time `json:"date_request"`
	Dependencies     []uint64  `json:"dependencies,omitempty"`
}

// ModCommit carries everything written when a fetch succeeds.
type ModCommit struct {
	Mod          Mod
	Tags         []string
	Dependencies []uint64
	Screenshots  []string
	LogoURL      string
}

// Game is a registered application owning mods.
type Game struct {
	ID               uint64    `json:"id"`
	Name             string    `json:"name"`
	Type             string    `json:"type"`
	Logo             string    `json:"logo"`
	ShortDescription string    `json:"short_description"`
	Description      string    `json:"description"`
	ModsDownloads    int64     `json:"mods_downloads"`
	ModsCount        int64     `json:"mods_count"`
	Source           string    `json:"source"`
	CreatedAt        time.Time `json:"creation_date"`
	Genres           []uint64  `json:"genres,omitempty"`
}

// Genre classifies games.
type Genre struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// Tag classifies mods; tags are allowed per game.
type Tag struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// Resource types.
const (
	ResourceLogo       = "logo"
	ResourceScreenshot = "screenshot"
)

// Resource is a media URL attached to a mod.
type Resource struct {
	ID        uint64    `json:"id"`
	Type      string    `json:"type"`
	URL       string    `json:"url"`
	OwnerID   uint64    `json:"owner_id"`
	UpdatedAt time.Time `json:"date_event"`
}

// Granularity selects the statistics bucket table.
type Granularity string

const (
	Hourly Granularity = "hour"
	Daily  Granularity = "day"
)

// Bucket is a counter for one event type within one hour or day.
type Bucket struct {
	Type  string    `json:"type"`
	Time  time.Time `json:"time"`
	Count int64     `json:"count"`
}

// Counts summarises catalog sizes.
type Counts struct {
	Mods          int64 `json:"mods"`
	Games         int64 `json:"games"`
	Genres        int64 `json:"genres"`
	Tags          int64 `json:"tags"`
	Resources     int64 `json:"resources"`
	ModsDownloads int64 `json:"mods_downloads"`
}

// Sort fields accepted by list queries. Backends map them to columns and
// reject anything else.
const (
	SortName          = "name"
	SortSize          = "size"
	SortCreated       = "created"
	SortUpdated       = "updated"
	SortRequested     = "requested"
	SortSource        = "source"
	SortDownloads     = "downloads"
	SortType          = "type"
	SortModsCount     = "mods_count"
	SortModsDownloads = "mods_downloads"
	SortID            = "id"
)

// Sort orders list results.
type Sort struct {
	Field string
	Desc  bool
}

// Page selects a window of results.
type Page struct {
	Offset int
	Limit  int
}

// ModFilter narrows ListMods.
type ModFilter struct {
	Page
	Sort             Sort
	IDs              []uint64
	Tags             []uint64
	Games            []uint64
	Sources          []string
	Name             string
	WithDependencies bool
	OnlyDownloaded   bool
}

// GameFilter narrows ListGames.
type GameFilter struct {
	Page
	Sort    Sort
	IDs     []uint64
	Genres  []uint64
	Types   []string
	Sources []string
	Name    string
}

// TagFilter narrows ListTags. GameID zero lists all tags.
type TagFilter struct {
	Page
	GameID uint64
	IDs    []uint64
	Name   string
}

// GenreFilter narrows ListGenres.
type GenreFilter struct {
	Page
	IDs  []uint64
	Name string
}

// ResourceFilter narrows ListResources.
type ResourceFilter struct {
	Page
	OwnerIDs []uint64
	Types    []string
}
