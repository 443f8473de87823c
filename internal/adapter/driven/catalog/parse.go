package catalog

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/canvasflow/authvault/internal/domain/model"
)

// File format. Descriptors are defined under a single top-level services
// list; see defaults.yaml for the shipped entries.
type fileCatalog struct {
	Services []fileService `yaml:"services"`
}

type fileService struct {
	Name        string      `yaml:"name"`
	DisplayName string      `yaml:"display_name"`
	Kind        string      `yaml:"kind"`
	Probe       string      `yaml:"probe"`
	EngineType  string      `yaml:"engine_type"`
	ValidateURL string      `yaml:"validate_url"`
	OAuth       *fileOAuth  `yaml:"oauth"`
	Fields      []fileField `yaml:"fields"`
	Docs        string      `yaml:"docs"`
}

type fileOAuth struct {
	AuthURL         string            `yaml:"auth_url"`
	TokenURL        string            `yaml:"token_url"`
	Scopes          []string          `yaml:"scopes"`
	ScopeSeparator  string            `yaml:"scope_separator"`
	ExtraAuthParams map[string]string `yaml:"extra_auth_params"`
	TokenFormat     string            `yaml:"token_format"`
	BasicAuthHeader bool              `yaml:"basic_auth_header"`
	OmitRedirectURI bool              `yaml:"omit_redirect_uri"`
}

type fileField struct {
	Name     string `yaml:"name"`
	Label    string `yaml:"label"`
	Required bool   `yaml:"required"`
	Secret   bool   `yaml:"secret"`
}

var validKinds = map[model.AuthKind]bool{
	model.AuthKindOAuth2:   true,
	model.AuthKindAPIKey:   true,
	model.AuthKindBasic:    true,
	model.AuthKindDatabase: true,
}

var validProbes = map[model.ProbeKind]bool{
	model.ProbeNone:       true,
	model.ProbeSlack:      true,
	model.ProbeGitHub:     true,
	model.ProbeGoogle:     true,
	model.ProbeHTTPBearer: true,
	model.ProbePostgres:   true,
	model.ProbeMySQL:      true,
}

func parseCatalog(data []byte) (map[string]model.ServiceDescriptor, error) {
	var file fileCatalog
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}

	table := make(map[string]model.ServiceDescriptor, len(file.Services))
	for _, svc := range file.Services {
		desc, err := toDescriptor(svc)
		if err != nil {
			return nil, err
		}
		if _, dup := table[desc.Name]; dup {
			return nil, fmt.Errorf("service %q: duplicate entry", desc.Name)
		}
		table[desc.Name] = *desc
	}

	return table, nil
}

func toDescriptor(svc fileService) (*model.ServiceDescriptor, error) {
	name := strings.ToLower(strings.TrimSpace(svc.Name))
	if name == "" {
		return nil, fmt.Errorf("service entry without a name")
	}

	kind := model.AuthKind(svc.Kind)
	if !validKinds[kind] {
		return nil, fmt.Errorf("service %q: unknown kind %q", name, svc.Kind)
	}

	probe := model.ProbeKind(svc.Probe)
	if !validProbes[probe] {
		return nil, fmt.Errorf("service %q: unknown probe %q", name, svc.Probe)
	}

	desc := &model.ServiceDescriptor{
		Name:        name,
		DisplayName: svc.DisplayName,
		Kind:        kind,
		Probe:       probe,
		EngineType:  svc.EngineType,
		ValidateURL: svc.ValidateURL,
		DocsMD:      svc.Docs,
	}
	if desc.DisplayName == "" {
		desc.DisplayName = name
	}

	if kind == model.AuthKindOAuth2 {
		if svc.OAuth == nil {
			return nil, fmt.Errorf("service %q: oauth2 kind requires an oauth section", name)
		}
		if svc.OAuth.AuthURL == "" || svc.OAuth.TokenURL == "" {
			return nil, fmt.Errorf("service %q: oauth section requires auth_url and token_url", name)
		}
		format := model.TokenFormat(svc.OAuth.TokenFormat)
		if format != "" && format != model.TokenFormatForm && format != model.TokenFormatJSON {
			return nil, fmt.Errorf("service %q: unknown token_format %q", name, svc.OAuth.TokenFormat)
		}
		desc.OAuth = &model.OAuthSpec{
			AuthURL:         svc.OAuth.AuthURL,
			TokenURL:        svc.OAuth.TokenURL,
			Scopes:          svc.OAuth.Scopes,
			ScopeSeparator:  svc.OAuth.ScopeSeparator,
			ExtraAuthParams: svc.OAuth.ExtraAuthParams,
			TokenFormat:     format,
			BasicAuthHeader: svc.OAuth.BasicAuthHeader,
			OmitRedirectURI: svc.OAuth.OmitRedirectURI,
		}
	} else if svc.OAuth != nil {
		return nil, fmt.Errorf("service %q: oauth section only applies to oauth2 kind", name)
	}

	for _, f := range svc.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("service %q: field without a name", name)
		}
		desc.Fields = append(desc.Fields, model.FieldSpec{
			Name:     f.Name,
			Label:    f.Label,
			Required: f.Required,
			Secret:   f.Secret,
		})
	}

	return desc, nil
}
