// Package meta loads configuration documents through the afs abstraction,
// resolving relative locations against a base URL and expanding ${env.KEY}
// expressions before the document is decoded.
package meta

import (
	"context"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
)

// Service resolves and loads configuration assets.
type Service struct {
	fs      afs.Service
	baseURL string
}

// New creates a meta service. baseURL may be empty, in which case only
// absolute locations can be opened.
func New(fs afs.Service, baseURL string) *Service {
	if fs == nil {
		fs = afs.New()
	}
	return &Service{fs: fs, baseURL: baseURL}
}

// Resolve turns a possibly relative location into an absolute URL.
func (s *Service) Resolve(location string) string {
	if s.baseURL == "" || strings.Contains(location, "://") || strings.HasPrefix(location, "/") {
		return location
	}
	return url.Join(s.baseURL, location)
}

// OpenURL loads the document at the given location with env expressions
// expanded.
func (s *Service) OpenURL(ctx context.Context, location string) ([]byte, error) {
	data, err := s.fs.DownloadWithURL(ctx, s.Resolve(location))
	if err != nil {
		return nil, err
	}
	return []byte(expandEnvExpr(string(data))), nil
}

// Exists reports whether the location resolves to an existing asset.
func (s *Service) Exists(ctx context.Context, location string) bool {
	ok, _ := s.fs.Exists(ctx, s.Resolve(location))
	return ok
}
