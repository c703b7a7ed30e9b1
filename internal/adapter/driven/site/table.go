// Package site implements the SiteClient port: a static site table plus an
// HTTP client that logs in and registers against target sites.
package site

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

// DefaultSiteName is the entry used when no other site matches.
const DefaultSiteName = "default"

// Endpoint defaults applied to table entries that leave them blank.
const (
	defaultLoginPath  = "/login"
	defaultSignupPath = "/signup"
	defaultWhoamiPath = "/api/current-user"
)

type tableFile struct {
	Sites []model.Site `yaml:"sites"`
}

// Table maps requested site keys to site entries.
type Table struct {
	sites []model.Site
}

// NewTable builds a table from entries, filling blank endpoint paths.
func NewTable(sites []model.Site) (*Table, error) {
	t := &Table{sites: make([]model.Site, 0, len(sites))}
	for _, s := range sites {
		if s.Name == "" {
			return nil, errors.New("site entry without name")
		}
		if s.BaseURL == "" {
			return nil, fmt.Errorf("site %q has no base_url", s.Name)
		}
		s.BaseURL = strings.TrimRight(s.BaseURL, "/")
		if s.LoginPath == "" {
			s.LoginPath = defaultLoginPath
		}
		if s.SignupPath == "" {
			s.SignupPath = defaultSignupPath
		}
		if s.WhoamiPath == "" {
			s.WhoamiPath = defaultWhoamiPath
		}
		t.sites = append(t.sites, s)
	}
	return t, nil
}

// LoadTable reads the YAML site table at path. An empty path yields only the
// default site. When defaultURL is set and the file defines no "default"
// entry, one is added pointing at defaultURL.
func LoadTable(path, defaultURL string) (*Table, error) {
	var file tableFile
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read site table: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse site table %s: %w", path, err)
		}
	}

	hasDefault := false
	for _, s := range file.Sites {
		if s.Name == DefaultSiteName {
			hasDefault = true
		}
	}
	if !hasDefault && defaultURL != "" {
		file.Sites = append(file.Sites, model.Site{Name: DefaultSiteName, BaseURL: defaultURL})
	}

	return NewTable(file.Sites)
}

// Resolve finds the site for key: exact name or domain match first, then a
// domain contained in key, then the default entry.
func (t *Table) Resolve(key string) (model.Site, error) {
	k := strings.ToLower(strings.TrimSpace(key))

	if k != "" {
		for _, s := range t.sites {
			if strings.EqualFold(s.Name, k) {
				return s, nil
			}
			for _, d := range s.Domains {
				if strings.EqualFold(d, k) {
					return s, nil
				}
			}
		}
		for _, s := range t.sites {
			for _, d := range s.Domains {
				if d != "" && strings.Contains(k, strings.ToLower(d)) {
					return s, nil
				}
			}
		}
	}

	for _, s := range t.sites {
		if s.Name == DefaultSiteName {
			return s, nil
		}
	}
	return model.Site{}, fmt.Errorf("%w: %q", driven.ErrUnknownSite, key)
}
