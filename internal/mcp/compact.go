package mcp

import (
	"github.com/ashita-ai/ruikei/internal/model"
)

const maxCompactReason = 200

// compactTypeDef returns a minimal representation of a type definition for
// MCP listings. Properties are reduced to a count; ruikei_get_type returns
// the full definition.
func compactTypeDef(d model.TypeDef) map[string]any {
	m := map[string]any{
		"guid":           d.GUID,
		"name":           d.Name,
		"category":       d.Category,
		"version":        d.Version,
		"property_count": len(d.Properties),
	}
	if d.SuperType != nil {
		m["super_type"] = d.SuperType.Name
	}
	if d.Origin != "" {
		m["origin"] = d.Origin
	}
	return m
}

// compactAttributeTypeDef is compactTypeDef for attribute types.
func compactAttributeTypeDef(d model.AttributeTypeDef) map[string]any {
	m := map[string]any{
		"guid":     d.GUID,
		"name":     d.Name,
		"category": d.Category,
		"version":  d.Version,
	}
	if d.Origin != "" {
		m["origin"] = d.Origin
	}
	return m
}

// compactReview drops the event payload and resolution bookkeeping from a
// review. The reason is truncated.
func compactReview(r model.Review) map[string]any {
	m := map[string]any{
		"id":         r.ID,
		"kind":       r.Kind,
		"status":     r.Status,
		"cohort":     r.CohortName,
		"originator": r.Originator.MetadataCollectionID,
		"reason":     truncate(r.Reason, maxCompactReason),
		"created_at": r.CreatedAt,
		"applicable": r.Kind.Applicable(),
	}
	if r.TypeDefName != "" {
		m["typedef_name"] = r.TypeDefName
	}
	if r.TypeDefGUID != "" {
		m["typedef_guid"] = r.TypeDefGUID
	}
	if r.ResolvedBy != nil {
		m["resolved_by"] = *r.ResolvedBy
	}
	return m
}

func compactTypeDefs(defs []model.TypeDef) []map[string]any {
	out := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		out = append(out, compactTypeDef(d))
	}
	return out
}

func compactAttributeTypeDefs(defs []model.AttributeTypeDef) []map[string]any {
	out := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		out = append(out, compactAttributeTypeDef(d))
	}
	return out
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
