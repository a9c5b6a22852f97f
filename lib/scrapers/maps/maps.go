// Package maps fetches aerial and street level imagery of an address.
package maps

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"triagem/lib/cadastre"
	"triagem/lib/portal"
	"triagem/lib/scrapers/core"
)

type Config struct {
	BaseUrl        string `json:"base_url"`
	StaticPath     string `json:"static_path"`
	StreetViewPath string `json:"street_view_path"`
	ApiKey         string `json:"api_key"`
	Zoom           int    `json:"zoom"`
	Size           string `json:"size"`
}

func DefaultConfig() Config {
	return Config{
		BaseUrl:        "https://maps.googleapis.com",
		StaticPath:     "/maps/api/staticmap",
		StreetViewPath: "/maps/api/streetview",
		Zoom:           19,
		Size:           "640x640",
	}
}

const (
	AerialFile = "google_maps_aereo.png"
	FrontFile  = "google_maps_fachada.png"
)

type Session struct {
	config  Config
	client  *core.Client
	workDir string

	address string
}

var _ portal.Extractor = (*Session)(nil)

// Open returns an opener of imagery sessions, no credential is needed.
func Open(config Config, opts core.ClientOptions) portal.Opener[*Session] {
	return func(ctx context.Context, _ cadastre.Credentials, workDir string) (*Session, error) {
		clientOpts := opts
		clientOpts.Name = "maps"
		clientOpts.BaseUrl = config.BaseUrl

		client, err := core.NewClient(ctx, clientOpts)
		if err != nil {
			return nil, err
		}
		return &Session{
			config:  config,
			client:  client,
			workDir: workDir,
		}, nil
	}
}

func (s *Session) Access(ctx context.Context) error {
	if s.config.ApiKey == "" {
		slog.WarnContext(ctx, "no maps api key configured, requests may be refused")
	}
	return nil
}

func (s *Session) Login(ctx context.Context) error {
	return nil
}

// Navigate sets the address to look up, an unknown address is not found.
func (s *Session) Navigate(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" || address == cadastre.AddressNotFound || address == cadastre.NotInformedText {
		return fmt.Errorf("no address to look up: %w", portal.ErrNotFound)
	}
	s.address = address
	return nil
}

func (s *Session) query() url.Values {
	query := url.Values{"size": {s.config.Size}}
	if s.config.ApiKey != "" {
		query.Set("key", s.config.ApiKey)
	}
	return query
}

// Extract fetches the aerial view, which must succeed, and the street
// level view, which may be missing for the address.
func (s *Session) Extract(ctx context.Context) (portal.Extraction, error) {
	if s.address == "" {
		return portal.Extraction{}, fmt.Errorf("no address selected")
	}

	aerial := s.query()
	aerial.Set("center", s.address)
	aerial.Set("markers", s.address)
	aerial.Set("maptype", "satellite")
	aerial.Set("zoom", strconv.Itoa(s.config.Zoom))

	aerialDest := filepath.Join(s.workDir, AerialFile)
	err := s.client.Screenshot(ctx, s.config.StaticPath, aerial, aerialDest)
	if err != nil {
		return portal.Extraction{}, fmt.Errorf("aerial view: %w", err)
	}
	files := []string{aerialDest}

	front := s.query()
	front.Set("location", s.address)
	front.Set("return_error_code", "true")

	frontDest := filepath.Join(s.workDir, FrontFile)
	err = s.client.Screenshot(ctx, s.config.StreetViewPath, front, frontDest)
	if err != nil {
		slog.WarnContext(ctx, "street level view unavailable", "address", s.address, "err", err)
	} else {
		files = append(files, frontDest)
	}

	return portal.Extraction{
		Fields: map[string]cadastre.Value{
			cadastre.FieldSearchedAddress: cadastre.Text(s.address),
		},
		Files: files,
	}, nil
}

func (s *Session) Close() error {
	return s.client.Close()
}
