package sync

import "context"

// Buckets is the outcome of one reconciliation pass: ids only, hydration
// is a separate step. Within one pass each entity id appears in at most
// one bucket.
type Buckets struct {
	AddedIDs   []string
	DeletedIDs []string
	UpdatedIDs []string
}

// Reconcile classifies an ordered change-record sequence into
// added/deleted/updated buckets. The first classification in feed order
// wins: once an id is bucketed, later records for it are skipped entirely,
// so an Added immediately followed by an Updated for the same id yields
// only "added". Pure and deterministic; reconciling the same sequence
// twice yields identical buckets.
func Reconcile(records []ChangeRecord) Buckets {
	var out Buckets
	seen := make(map[string]bool, len(records))

	for _, rec := range records {
		if rec.EntityID == "" || seen[rec.EntityID] {
			continue
		}
		seen[rec.EntityID] = true

		switch rec.Type {
		case ChangeAdded:
			out.AddedIDs = append(out.AddedIDs, rec.EntityID)
		case ChangeDeleted:
			out.DeletedIDs = append(out.DeletedIDs, rec.EntityID)
		case ChangeUpdated:
			out.UpdatedIDs = append(out.UpdatedIDs, rec.EntityID)
		}
	}
	return out
}

// Hydrate resolves added and updated ids to full entities via the injected
// resolver.
//
// The two buckets are deliberately asymmetric about missing entities: an
// added id that resolves to nil is silently dropped (it was deleted again
// before hydration), while an updated id that resolves to nil is an error.
// Any resolver error is not retried; it aborts the remainder of the pass
// as a *HydrationError.
func Hydrate[E any](ctx context.Context, buckets Buckets, resolver EntityResolver[E]) (added []E, updated []E, err error) {
	for _, id := range buckets.AddedIDs {
		entity, err := resolver.GetEntityByID(ctx, id)
		if err != nil {
			return nil, nil, &HydrationError{EntityID: id, Err: err}
		}
		if entity == nil {
			continue
		}
		added = append(added, *entity)
	}

	for _, id := range buckets.UpdatedIDs {
		entity, err := resolver.GetEntityByID(ctx, id)
		if err != nil {
			return nil, nil, &HydrationError{EntityID: id, Err: err}
		}
		if entity == nil {
			return nil, nil, &HydrationError{EntityID: id, Err: ErrEntityGone}
		}
		updated = append(updated, *entity)
	}

	return added, updated, nil
}
