package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/tapestry-hq/tapestry/backend/pkg/common"
	"github.com/tapestry-hq/tapestry/backend/pkg/store"
)

func mustCreateEntity(t *testing.T, storage *fakeStorage, workspaceID string, name string, entityType common.EntityType) *common.Entity {
	t.Helper()
	entity := &common.Entity{
		WorkspaceID:    workspaceID,
		Type:           entityType,
		Name:           name,
		NormalizedName: NormalizeName(name),
	}
	if _, err := storage.GetOrCreateEntity(context.Background(), entity); err != nil {
		t.Fatalf("creating entity %q failed: %v", name, err)
	}
	return entity
}

func mustCreateRelationship(t *testing.T, storage *fakeStorage, workspaceID string, a string, b string, relType common.RelationshipType) {
	t.Helper()
	from, to := common.CanonicalPair(a, b)
	_, err := storage.CreateRelationship(context.Background(), &common.Relationship{
		WorkspaceID:  workspaceID,
		FromEntityID: from,
		ToEntityID:   to,
		Type:         relType,
		Strength:     0.5,
	})
	if err != nil {
		t.Fatalf("creating relationship %s-%s failed: %v", a, b, err)
	}
}

func mustInsertMention(t *testing.T, storage *fakeStorage, workspaceID string, entityID string, docID string) {
	t.Helper()
	_, err := storage.InsertMention(context.Background(), &common.Mention{
		WorkspaceID:   workspaceID,
		EntityID:      entityID,
		DocID:         docID,
		FieldPath:     "body",
		Confidence:    1.0,
		Source:        common.MentionSourceExtraction,
		ProductSource: common.ProductSourceDocs,
	})
	if err != nil {
		t.Fatalf("inserting mention for %s failed: %v", entityID, err)
	}
}

// Two absorbed duplicates usually share neighbors; their edges must collapse
// onto one survivor edge per type instead of colliding.
func TestMergeEntitiesCollapsesSharedNeighbors(t *testing.T) {
	storage := newFakeStorage(100)
	ctx := context.Background()
	workspaceID := "ws-1"

	survivor := mustCreateEntity(t, storage, workspaceID, "ACME Corp", common.EntityTypeOrganization)
	dupA := mustCreateEntity(t, storage, workspaceID, "ACME Corporation", common.EntityTypeOrganization)
	dupB := mustCreateEntity(t, storage, workspaceID, "ACME Inc", common.EntityTypeOrganization)
	neighbor := mustCreateEntity(t, storage, workspaceID, "Alice", common.EntityTypePerson)

	// Both duplicates relate to the same neighbor, with no survivor edge yet.
	mustCreateRelationship(t, storage, workspaceID, dupA.ID, neighbor.ID, common.RelationshipTypeCoOccurrence)
	mustCreateRelationship(t, storage, workspaceID, dupB.ID, neighbor.ID, common.RelationshipTypeCoOccurrence)
	mustCreateRelationship(t, storage, workspaceID, dupA.ID, neighbor.ID, common.RelationshipTypeContractual)
	// An edge between the duplicates collapses into the survivor itself.
	mustCreateRelationship(t, storage, workspaceID, dupA.ID, dupB.ID, common.RelationshipTypeCoOccurrence)

	mustInsertMention(t, storage, workspaceID, survivor.ID, "doc-2")
	// Identical mentions on both duplicates must dedupe to one survivor row.
	mustInsertMention(t, storage, workspaceID, dupA.ID, "doc-1")
	mustInsertMention(t, storage, workspaceID, dupB.ID, "doc-1")

	if err := storage.MergeEntities(ctx, workspaceID, survivor.ID, []string{dupA.ID, dupB.ID}); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	for _, id := range []string{dupA.ID, dupB.ID} {
		if _, err := storage.GetEntityByID(ctx, workspaceID, id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("absorbed entity %s still exists (err=%v)", id, err)
		}
	}

	count, err := storage.CountRelationships(ctx, workspaceID)
	if err != nil {
		t.Fatalf("counting relationships failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 relationships after merge, got %d", count)
	}

	from, to := common.CanonicalPair(survivor.ID, neighbor.ID)
	for _, relType := range []common.RelationshipType{common.RelationshipTypeCoOccurrence, common.RelationshipTypeContractual} {
		if _, err := storage.GetRelationshipByPair(ctx, workspaceID, from, to, relType); err != nil {
			t.Errorf("expected %s relationship between survivor and neighbor: %v", relType, err)
		}
	}

	merged, err := storage.GetEntityByID(ctx, workspaceID, survivor.ID)
	if err != nil {
		t.Fatalf("survivor lookup failed: %v", err)
	}
	aliasSet := make(map[string]bool, len(merged.Aliases))
	for _, a := range merged.Aliases {
		aliasSet[a] = true
	}
	for _, want := range []string{"ACME Corporation", "ACME Inc"} {
		if !aliasSet[want] {
			t.Errorf("expected alias %q on survivor, got %v", want, merged.Aliases)
		}
	}
	if merged.MentionCount != 2 {
		t.Errorf("expected 2 mentions on survivor after dedup, got %d", merged.MentionCount)
	}
	if merged.DocCount != 2 {
		t.Errorf("expected 2 docs on survivor, got %d", merged.DocCount)
	}
}
