package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/registry"
)

const (
	uriStats       = "ruikei://registry/stats"
	uriActiveTypes = "ruikei://typedefs/active"
	typeDefPrefix  = "ruikei://typedef/"
)

func (s *Server) registerResources() {
	// ruikei://registry/stats: partition sizes and archive origin.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriStats,
			"Registry Stats",
			mcplib.WithResourceDescription("Known and active type counts, open-types origin and local repository presence"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStats,
	)

	// ruikei://typedefs/active: compact listing of active definitions.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriActiveTypes,
			"Active Types",
			mcplib.WithResourceDescription("Every type definition and attribute type the local repository supports"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleActiveTypes,
	)

	// ruikei://typedef/{name}: one known type definition.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			typeDefPrefix+"{name}",
			"Type Definition",
			mcplib.WithTemplateDescription("A known type definition by name"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleTypeDef,
	)
}

func (s *Server) handleStats(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	st := s.registry.Stats()
	return jsonContents(uriStats, map[string]any{
		"known_types":            st.KnownTypes,
		"active_types":           st.ActiveTypes,
		"known_attribute_types":  st.KnownAttributeTypes,
		"active_attribute_types": st.ActiveAttributeTypes,
		"open_types_origin":      s.registry.OpenTypesOrigin(),
		"local_repository":       s.registry.HasLocalRepository(),
	})
}

func (s *Server) handleActiveTypes(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	snap := s.registry.AllActive()
	return jsonContents(uriActiveTypes, map[string]any{
		"typedefs":           compactTypeDefs(snap.TypeDefs),
		"attribute_typedefs": compactAttributeTypeDefs(snap.AttributeTypeDefs),
	})
}

func (s *Server) handleTypeDef(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	name, err := parseTypeDefURI(uri)
	if err != nil {
		return nil, err
	}
	def, ok := s.registry.TypeDefByName(registry.Known, name)
	if !ok {
		return nil, fmt.Errorf("mcp: type %q is not known", name)
	}
	return jsonContents(uri, model.TypeDefView{
		TypeDef:  def,
		Active:   s.registry.IsActive(def.GUID, def.Name),
		OpenType: s.registry.IsOpenType(def.GUID, def.Name),
	})
}

// parseTypeDefURI extracts the type name from ruikei://typedef/{name}. The
// name may be percent-encoded.
func parseTypeDefURI(uri string) (string, error) {
	raw, ok := strings.CutPrefix(uri, typeDefPrefix)
	if !ok {
		return "", fmt.Errorf("mcp: invalid typedef URI %q", uri)
	}
	if raw == "" || strings.Contains(raw, "/") {
		return "", fmt.Errorf("mcp: invalid typedef URI %q: empty or nested name", uri)
	}
	name, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("mcp: invalid typedef URI %q: %w", uri, err)
	}
	return name, nil
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
