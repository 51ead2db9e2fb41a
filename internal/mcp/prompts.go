package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// triage-review: walks an operator through deciding one queued review.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("triage-review",
			mcplib.WithPromptDescription("Decide whether to apply or dismiss a queued review"),
			mcplib.WithArgument("review_id",
				mcplib.ArgumentDescription("ID of the pending review"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleTriageReviewPrompt,
	)

	// explain-type: describes a type and its place in the hierarchy.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("explain-type",
			mcplib.WithPromptDescription("Explain a type definition, its super-types and inherited properties"),
			mcplib.WithArgument("name",
				mcplib.ArgumentDescription("Type name"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleExplainTypePrompt,
	)
}

func (s *Server) handleTriageReviewPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	id := request.Params.Arguments["review_id"]
	if id == "" {
		return nil, fmt.Errorf("review_id argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Triage review %s", id),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Help me decide queued review %s.

1. CALL ruikei_get_review with id="%s" and read the kind, reason and event.

2. CALL ruikei_get_type for the type the review names (typedef_name or
   typedef_guid) to see what this node currently holds.

3. DECIDE:
   - delete_* and reidentify_* reviews change local state when applied.
     Check with ruikei_find_types that no other type still depends on it.
   - conflicting_* and patch_mismatch reviews are reports from a peer.
     Applying only records that the report was acted on.

4. CALL ruikei_resolve_review with id="%s", apply=true or false, and a note
   explaining the decision.`, id, id, id),
				},
			},
		},
	}, nil
}

func (s *Server) handleExplainTypePrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	name := request.Params.Arguments["name"]
	if name == "" {
		return nil, fmt.Errorf("name argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Explain type %s", name),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Explain the type %q.

CALL ruikei_get_type with name="%s" for its definition and status, then
ruikei_resolve_instance_type with its category and name for the super-type
chain and inherited properties. Summarize what instances of it look like and
whether this node's local repository supports it (active).`, name, name),
				},
			},
		},
	}, nil
}
