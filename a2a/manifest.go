package a2a

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

const (
	// DefaultInvokePath is used when a manifest omits the invoke endpoint or
	// cannot be fetched.
	DefaultInvokePath = "/invoke"
	// DefaultDiscoveryPath is the well-known manifest location.
	DefaultDiscoveryPath = "/.well-known/agent.json"
	// DefaultHealthPath is the liveness check location.
	DefaultHealthPath = "/health"

	// defaultAuthor also stands in for a missing identity name.
	defaultAuthor  = "Unknown"
	defaultVersion = "1.0.0"
)

// Identity describes who a remote agent is.
type Identity struct {
	Name        string `json:"name"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Endpoint is a single advertised URL or path.
type Endpoint struct {
	URL string `json:"url"`
}

// Endpoints lists the operations a remote agent exposes.
type Endpoints struct {
	Invoke    Endpoint `json:"invoke"`
	Discovery Endpoint `json:"discovery"`
}

// Interaction describes how to reach a remote agent.
type Interaction struct {
	BaseURL   string    `json:"baseUrl"`
	Endpoints Endpoints `json:"endpoints"`
}

// Manifest is the capability document served at DefaultDiscoveryPath. It is
// never mutated after a client caches it.
type Manifest struct {
	Identity     *Identity   `json:"identity"`
	Interaction  Interaction `json:"interaction"`
	Capabilities []any       `json:"capabilities"`
}

// NewManifest builds the manifest a server advertises about itself.
func NewManifest(name, description, baseURL string, capabilities ...any) Manifest {
	if capabilities == nil {
		capabilities = []any{}
	}
	return Manifest{
		Identity: &Identity{
			Name:        name,
			Author:      defaultAuthor,
			Description: description,
			Version:     defaultVersion,
		},
		Interaction: Interaction{
			BaseURL: baseURL,
			Endpoints: Endpoints{
				Invoke:    Endpoint{URL: DefaultInvokePath},
				Discovery: Endpoint{URL: DefaultDiscoveryPath},
			},
		},
		Capabilities: capabilities,
	}
}

// validate checks required identity fields and fills optional ones.
func (m *Manifest) validate(baseURL string) error {
	if m.Identity == nil {
		return errors.New("manifest has no identity")
	}
	if strings.TrimSpace(m.Identity.Name) == "" {
		m.Identity.Name = defaultAuthor
	}
	if m.Identity.Author == "" {
		m.Identity.Author = defaultAuthor
	}
	if m.Identity.Version == "" {
		m.Identity.Version = defaultVersion
	}
	if m.Interaction.BaseURL == "" {
		m.Interaction.BaseURL = baseURL
	}
	if m.Interaction.Endpoints.Invoke.URL == "" {
		m.Interaction.Endpoints.Invoke.URL = DefaultInvokePath
	}
	if m.Interaction.Endpoints.Discovery.URL == "" {
		m.Interaction.Endpoints.Discovery.URL = DefaultDiscoveryPath
	}
	if m.Capabilities == nil {
		m.Capabilities = []any{}
	}
	return nil
}

// InvokePath returns the advertised invoke endpoint.
func (m *Manifest) InvokePath() string {
	if m == nil || m.Interaction.Endpoints.Invoke.URL == "" {
		return DefaultInvokePath
	}
	return m.Interaction.Endpoints.Invoke.URL
}

// ManifestHandler serves m as the discovery document. An empty base URL is
// filled from the request host.
func ManifestHandler(m Manifest) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := m
		if out.Interaction.BaseURL == "" {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			out.Interaction.BaseURL = scheme + "://" + r.Host
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}
