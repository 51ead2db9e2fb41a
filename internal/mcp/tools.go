package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/ruikei/internal/ctxutil"
	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/reconcile"
	"github.com/ashita-ai/ruikei/internal/registry"
)

func (s *Server) registerTools() {
	// ruikei_find_types: wildcard lookup over active definitions.
	s.mcpServer.AddTool(
		mcplib.NewTool("ruikei_find_types",
			mcplib.WithDescription(`Find active type definitions and attribute types whose names match a pattern.

The pattern is a regular expression matched against the whole name:
"Data.*" matches DataSet and DataFlow, "Asset" matches only Asset.

WHAT YOU GET BACK:
- matched: false when nothing matched (not an error)
- typedefs / attribute_typedefs: compact summaries; call ruikei_get_type for details`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("pattern",
				mcplib.Description("Regular expression matched against the full type name"),
				mcplib.Required(),
			),
		),
		s.handleFindTypes,
	)

	// ruikei_get_type: one definition by name or GUID.
	s.mcpServer.AddTool(
		mcplib.NewTool("ruikei_get_type",
			mcplib.WithDescription(`Get one type definition or attribute type by name or GUID, with its registry status.

Give either name or guid. scope=known (default) searches everything this node
has accepted; scope=active only what its local repository supports.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("name", mcplib.Description("Type name")),
			mcplib.WithString("guid", mcplib.Description("Type GUID")),
			mcplib.WithString("scope",
				mcplib.Description("Which partition to search"),
				mcplib.Enum("known", "active"),
				mcplib.DefaultString("known"),
			),
		),
		s.handleGetType,
	)

	// ruikei_resolve_instance_type: flattened hierarchy view.
	s.mcpServer.AddTool(
		mcplib.NewTool("ruikei_resolve_instance_type",
			mcplib.WithDescription(`Resolve a type and all of its super-types into the view used for instances:
super-types (root first), every inherited property name, and valid statuses.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("category",
				mcplib.Description("Expected category of the type"),
				mcplib.Enum(string(model.CategoryEntity), string(model.CategoryRelationship), string(model.CategoryClassification)),
				mcplib.Required(),
			),
			mcplib.WithString("name", mcplib.Description("Type name"), mcplib.Required()),
		),
		s.handleResolveInstanceType,
	)

	// ruikei_check_classification: may a classification attach to an entity type.
	s.mcpServer.AddTool(
		mcplib.NewTool("ruikei_check_classification",
			mcplib.WithDescription(`Check whether a classification may be attached to instances of an entity type.
Unknown names and wrong categories report valid=false.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("classification", mcplib.Description("Classification type name"), mcplib.Required()),
			mcplib.WithString("entity", mcplib.Description("Entity type name"), mcplib.Required()),
		),
		s.handleCheckClassification,
	)

	// ruikei_list_reviews: the operator review queue.
	s.mcpServer.AddTool(
		mcplib.NewTool("ruikei_list_reviews",
			mcplib.WithDescription(`List events the registry queued for an operator decision: peer deletes and
re-identifies, and conflict or patch-mismatch reports addressed to this node.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("status",
				mcplib.Description("Review status to list"),
				mcplib.Enum(string(model.ReviewPending), string(model.ReviewApplied), string(model.ReviewDismissed)),
				mcplib.DefaultString(string(model.ReviewPending)),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of reviews to return"),
				mcplib.Min(1),
				mcplib.Max(500),
				mcplib.DefaultNumber(50),
			),
		),
		s.handleListReviews,
	)

	// ruikei_get_review: full review including the queued event.
	s.mcpServer.AddTool(
		mcplib.NewTool("ruikei_get_review",
			mcplib.WithDescription(`Get one queued review with the full event that produced it.
Inspect a review before resolving it.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("id", mcplib.Description("Review ID"), mcplib.Required()),
		),
		s.handleGetReview,
	)

	// ruikei_resolve_review: apply or dismiss (operator only).
	s.mcpServer.AddTool(
		mcplib.NewTool("ruikei_resolve_review",
			mcplib.WithDescription(`Resolve a pending review. Requires the operator role.

apply=true executes a queued delete or re-identify against the local repository
and the registry; for conflict and patch-mismatch reports it records that the
report was acted on. apply=false dismisses the review and changes nothing.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("id", mcplib.Description("Review ID"), mcplib.Required()),
			mcplib.WithBoolean("apply", mcplib.Description("Apply (true) or dismiss (false)"), mcplib.Required()),
			mcplib.WithString("note", mcplib.Description("Optional note stored with the resolution")),
		),
		s.handleResolveReview,
	)
}

func (s *Server) handleFindTypes(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	pattern := request.GetString("pattern", "")
	if err := model.ValidatePattern(pattern); err != nil {
		return errorResult(err.Error()), nil
	}
	res, err := s.registry.FindByWildcardName(pattern)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if res == nil {
		return jsonResult(map[string]any{"matched": false}), nil
	}
	return jsonResult(map[string]any{
		"matched":            true,
		"typedefs":           compactTypeDefs(res.TypeDefs),
		"attribute_typedefs": compactAttributeTypeDefs(res.AttributeTypeDefs),
	}), nil
}

func (s *Server) handleGetType(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	guid := request.GetString("guid", "")
	if name == "" && guid == "" {
		return errorResult("name or guid is required"), nil
	}
	scope := registry.Known
	switch v := request.GetString("scope", "known"); v {
	case "known":
	case "active":
		scope = registry.Active
	default:
		return errorResult(fmt.Sprintf("invalid scope %q: expected known or active", v)), nil
	}

	if def, ok := s.findTypeDef(scope, guid, name); ok {
		return jsonResult(model.TypeDefView{
			TypeDef:  def,
			Active:   s.registry.IsActive(def.GUID, def.Name),
			OpenType: s.registry.IsOpenType(def.GUID, def.Name),
		}), nil
	}
	if def, ok := s.findAttributeTypeDef(scope, guid, name); ok {
		return jsonResult(model.AttributeTypeDefView{
			AttributeTypeDef: def,
			Active:           s.registry.IsActive(def.GUID, def.Name),
			OpenType:         s.registry.IsOpenType(def.GUID, def.Name),
		}), nil
	}
	return errorResult(fmt.Sprintf("no %s type matches name=%q guid=%q", scope, name, guid)), nil
}

// findTypeDef looks up by GUID when given, otherwise by name. When both are
// given they must identify the same definition.
func (s *Server) findTypeDef(scope registry.Scope, guid, name string) (model.TypeDef, bool) {
	if guid != "" {
		def, ok := s.registry.TypeDefByGUID(scope, guid)
		if !ok || (name != "" && def.Name != name) {
			return model.TypeDef{}, false
		}
		return def, true
	}
	return s.registry.TypeDefByName(scope, name)
}

func (s *Server) findAttributeTypeDef(scope registry.Scope, guid, name string) (model.AttributeTypeDef, bool) {
	if guid != "" {
		def, ok := s.registry.AttributeTypeDefByGUID(scope, guid)
		if !ok || (name != "" && def.Name != name) {
			return model.AttributeTypeDef{}, false
		}
		return def, true
	}
	return s.registry.AttributeTypeDefByName(scope, name)
}

func (s *Server) handleResolveInstanceType(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	category := model.TypeDefCategory(request.GetString("category", ""))
	name := request.GetString("name", "")
	it, err := s.registry.ResolveInstanceType(category, name)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(it), nil
}

func (s *Server) handleCheckClassification(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	c := request.GetString("classification", "")
	e := request.GetString("entity", "")
	if c == "" || e == "" {
		return errorResult("classification and entity are required"), nil
	}
	return jsonResult(model.CompatibilityResponse{
		Classification: c,
		Entity:         e,
		Valid:          s.registry.IsClassificationValidForEntity(c, e),
	}), nil
}

func (s *Server) handleListReviews(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status := model.ReviewStatus(request.GetString("status", string(model.ReviewPending)))
	if !status.Valid() {
		return errorResult(fmt.Sprintf("invalid status %q", status)), nil
	}
	reviews, err := s.reviews.Reviews(ctx, status)
	if err != nil {
		return errorResult(fmt.Sprintf("list reviews failed: %v", err)), nil
	}
	total := len(reviews)
	if limit := request.GetInt("limit", 50); limit > 0 && len(reviews) > limit {
		reviews = reviews[:limit]
	}
	out := make([]map[string]any, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, compactReview(r))
	}
	return jsonResult(map[string]any{
		"reviews": out,
		"total":   total,
	}), nil
}

func (s *Server) handleGetReview(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("id", ""))
	if err != nil {
		return errorResult("id must be a review UUID"), nil
	}
	r, err := s.reviews.Review(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("get review failed: %v", err)), nil
	}
	if subject, _, ok := ctxutil.Caller(ctx); ok {
		s.inspected.Record(subject, id)
	}
	return jsonResult(r), nil
}

func (s *Server) handleResolveReview(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	subject, role, ok := ctxutil.Caller(ctx)
	if !ok || !model.RoleAtLeast(role, model.RoleOperator) {
		return errorResult("resolving reviews requires the operator role"), nil
	}

	id, err := uuid.Parse(request.GetString("id", ""))
	if err != nil {
		return errorResult("id must be a review UUID"), nil
	}
	apply, err := request.RequireBool("apply")
	if err != nil {
		return errorResult("apply is required"), nil
	}
	var note *string
	if n := request.GetString("note", ""); n != "" {
		note = &n
	}

	resolved, err := s.reviews.ResolveReview(ctx, id, reconcile.Decision{
		Apply:      apply,
		ResolvedBy: subject,
		Note:       note,
	})
	if err != nil {
		msg := fmt.Sprintf("resolve review failed: %v", err)
		if errors.Is(err, model.ErrReviewResolved) {
			msg = fmt.Sprintf("review %s is already resolved", id)
		}
		return errorResult(msg), nil
	}
	s.logger.Info("mcp: review resolved", "review_id", id, "status", resolved.Status, "resolved_by", subject)
	if s.onResolved != nil {
		s.onResolved(resolved)
	}

	result := jsonResult(compactReview(resolved))
	if !s.inspected.WasInspected(subject, id) {
		result.Content = append(result.Content, mcplib.TextContent{
			Type: "text",
			Text: "NOTE: this review was resolved without calling ruikei_get_review first. " +
				"Inspect the queued event before resolving the next one.",
		})
	}
	return result, nil
}
