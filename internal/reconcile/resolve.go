package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/registry"
)

// ErrReviewNotApplicable is returned when a review cannot be applied because
// the cache no longer matches the event it was queued for.
var ErrReviewNotApplicable = errors.New("reconcile: review cannot be applied")

// Decision is an operator's verdict on a queued review.
type Decision struct {
	// Apply executes a delete or re-identify review against the local
	// repository and the cache. For report reviews it only records that the
	// operator acted on the report.
	Apply      bool
	ResolvedBy string
	Note       *string
}

// Reviews lists queued reviews with the given status.
func (e *Engine) Reviews(ctx context.Context, status model.ReviewStatus) ([]model.Review, error) {
	return e.reviews.List(ctx, status)
}

// Review returns one queued review.
func (e *Engine) Review(ctx context.Context, id uuid.UUID) (model.Review, error) {
	return e.reviews.Get(ctx, id)
}

// ResolveReview closes a pending review. When the decision applies a delete
// or re-identify, the change is made in the local repository first and then
// in the cache; if either step fails the review stays pending.
func (e *Engine) ResolveReview(ctx context.Context, id uuid.UUID, d Decision) (model.Review, error) {
	r, err := e.reviews.Get(ctx, id)
	if err != nil {
		return model.Review{}, err
	}
	if r.Status != model.ReviewPending {
		return model.Review{}, fmt.Errorf("reconcile: resolve review %s: %w", id, model.ErrReviewResolved)
	}

	status := model.ReviewDismissed
	if d.Apply {
		status = model.ReviewApplied
		if r.Kind.Applicable() {
			if err := e.apply(ctx, r); err != nil {
				e.logger.Error("reconcile: review apply failed", "review_id", id, "kind", r.Kind, "error", err)
				return model.Review{}, fmt.Errorf("reconcile: apply review %s: %w", id, err)
			}
		}
	}

	resolved, err := e.reviews.Resolve(ctx, id, status, d.ResolvedBy, d.Note)
	if err != nil {
		if d.Apply && r.Kind.Applicable() {
			// The change is already in the repository and the cache; only
			// the review record is stale. Resolving it again would apply
			// nothing and fail as not applicable.
			e.logger.Error("reconcile: review applied but not marked resolved",
				"review_id", id, "kind", r.Kind, "type_guid", r.TypeDefGUID, "type_name", r.TypeDefName, "error", err)
		}
		return model.Review{}, fmt.Errorf("reconcile: mark review %s %s: %w", id, status, err)
	}
	e.logger.Info("reconcile: review resolved", "review_id", id, "kind", r.Kind, "status", status, "resolved_by", d.ResolvedBy)
	e.record(ctx, r.CohortName, r.TypeDefGUID, r.TypeDefName, AuditReviewResolved.Notice(id, r.Kind, status, d.ResolvedBy))
	return resolved, nil
}

func (e *Engine) apply(ctx context.Context, r model.Review) error {
	ev, err := Decode(&r.Event)
	if err != nil {
		return err
	}
	switch ev := ev.(type) {
	case DeletedTypeDef:
		return e.applyDelete(ctx, ev.Original.GUID, ev.Original.Name)
	case DeletedAttributeTypeDef:
		return e.applyDeleteAttribute(ctx, ev.Original.GUID, ev.Original.Name)
	case ReidentifiedTypeDef:
		return e.applyReidentify(ctx, ev.Original, ev.TypeDef)
	case ReidentifiedAttributeTypeDef:
		return e.applyReidentifyAttribute(ctx, ev.Original, ev.AttributeTypeDef)
	default:
		return fmt.Errorf("%w: %s carries no change to apply", ErrReviewNotApplicable, r.Kind)
	}
}

func (e *Engine) applyDelete(ctx context.Context, guid, name string) error {
	if _, ok := e.cache.TypeDefByGUID(registry.Known, guid); !ok {
		return fmt.Errorf("%w: type %s (%s) is not known", ErrReviewNotApplicable, name, guid)
	}
	if e.cache.HasSubtypes(guid) {
		return fmt.Errorf("%w: type %s still has subtypes", ErrReviewNotApplicable, name)
	}
	_, active := e.cache.TypeDefByGUID(registry.Active, guid)
	if e.repo != nil && active {
		if err := e.repo.DeleteTypeDef(ctx, guid, name); err != nil {
			return err
		}
	}
	if !e.cache.Remove(guid, name) {
		return fmt.Errorf("%w: cache refused to remove %s (%s)", ErrReviewNotApplicable, name, guid)
	}
	return nil
}

func (e *Engine) applyDeleteAttribute(ctx context.Context, guid, name string) error {
	if _, ok := e.cache.AttributeTypeDefByGUID(registry.Known, guid); !ok {
		return fmt.Errorf("%w: attribute type %s (%s) is not known", ErrReviewNotApplicable, name, guid)
	}
	_, active := e.cache.AttributeTypeDefByGUID(registry.Active, guid)
	if e.repo != nil && active {
		if err := e.repo.DeleteAttributeTypeDef(ctx, guid, name); err != nil {
			return err
		}
	}
	if !e.cache.RemoveAttributeTypeDef(guid, name) {
		return fmt.Errorf("%w: cache refused to remove %s (%s)", ErrReviewNotApplicable, name, guid)
	}
	return nil
}

func (e *Engine) applyReidentify(ctx context.Context, old model.TypeDefSummary, def model.TypeDef) error {
	if _, ok := e.cache.TypeDefByGUID(registry.Known, old.GUID); !ok {
		return fmt.Errorf("%w: type %s (%s) is not known", ErrReviewNotApplicable, old.Name, old.GUID)
	}
	if e.cache.HasSubtypes(old.GUID) {
		return fmt.Errorf("%w: type %s still has subtypes", ErrReviewNotApplicable, old.Name)
	}
	if err := e.cache.CheckReidentify(old.GUID, old.Name, def); err != nil {
		return fmt.Errorf("%w: %w", ErrReviewNotApplicable, err)
	}
	_, active := e.cache.TypeDefByGUID(registry.Active, old.GUID)
	if e.repo != nil && active {
		if err := e.repo.ReidentifyTypeDef(ctx, old.GUID, old.Name, def); err != nil {
			return err
		}
	}
	return e.cache.Reidentify(old.GUID, old.Name, def, active)
}

func (e *Engine) applyReidentifyAttribute(ctx context.Context, old, def model.AttributeTypeDef) error {
	if _, ok := e.cache.AttributeTypeDefByGUID(registry.Known, old.GUID); !ok {
		return fmt.Errorf("%w: attribute type %s (%s) is not known", ErrReviewNotApplicable, old.Name, old.GUID)
	}
	if err := e.cache.CheckReidentifyAttributeTypeDef(old.GUID, old.Name, def); err != nil {
		return fmt.Errorf("%w: %w", ErrReviewNotApplicable, err)
	}
	_, active := e.cache.AttributeTypeDefByGUID(registry.Active, old.GUID)
	if e.repo != nil && active {
		if err := e.repo.ReidentifyAttributeTypeDef(ctx, old.GUID, old.Name, def); err != nil {
			return err
		}
	}
	return e.cache.ReidentifyAttributeTypeDef(old.GUID, old.Name, def, active)
}
