package graph

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/tapestry-hq/tapestry/backend/pkg/common"
)

// seedSharedDocs ingests the same two entities into each listed document.
func seedSharedDocs(t *testing.T, client *GraphClient, workspaceID string, docs []string) (string, string) {
	t.Helper()
	ctx := context.Background()

	for _, docID := range docs {
		_, err := client.IngestMemories(ctx, workspaceID, &IngestRequest{
			ProductSource: "docs",
			DocID:         docID,
			Entities: []IngestEntity{
				{Name: "Alice", EntityType: "person", Context: "Alice reviewed the terms"},
				{Name: "Beta Industries", EntityType: "organization", Context: "Beta Industries proposed the deal"},
			},
		})
		if err != nil {
			t.Fatalf("seeding %s failed: %v", docID, err)
		}
	}

	alice, err := client.storage.GetEntityByKey(ctx, workspaceID, "alice", "person")
	if err != nil {
		t.Fatalf("entity lookup failed: %v", err)
	}
	beta, err := client.storage.GetEntityByKey(ctx, workspaceID, "beta industries", "organization")
	if err != nil {
		t.Fatalf("entity lookup failed: %v", err)
	}
	return alice.ID, beta.ID
}

func TestDetectRelationshipsDeterministicPass(t *testing.T) {
	storage := newFakeStorage(5000)
	client := newTestClient(storage, nil)
	ctx := context.Background()

	aliceID, betaID := seedSharedDocs(t, client, "ws-1", []string{"doc-1", "doc-2"})

	summary := client.DetectRelationships(ctx, "ws-1")
	if len(summary.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", summary.Errors)
	}
	if summary.CoOccurrencesFound != 1 {
		t.Errorf("co-occurrences = %d, want 1", summary.CoOccurrencesFound)
	}
	if summary.RelationshipsCreated != 1 {
		t.Errorf("created = %d, want 1", summary.RelationshipsCreated)
	}

	from, to := common.CanonicalPair(aliceID, betaID)
	rel, err := storage.GetRelationshipByPair(ctx, "ws-1", from, to, common.RelationshipTypeCoOccurrence)
	if err != nil {
		t.Fatalf("relationship lookup failed: %v", err)
	}
	if math.Abs(rel.Strength-0.2) > 1e-9 {
		t.Errorf("strength = %v, want 0.2 for two shared docs", rel.Strength)
	}
	if len(rel.Evidence) != 2 {
		t.Errorf("evidence entries = %d, want 2", len(rel.Evidence))
	}

	// Second pass refreshes rather than duplicating.
	second := client.DetectRelationships(ctx, "ws-1")
	if second.RelationshipsCreated != 0 || second.RelationshipsUpdated != 1 {
		t.Errorf("second pass created=%d updated=%d, want 0/1", second.RelationshipsCreated, second.RelationshipsUpdated)
	}
	if count, _ := storage.CountRelationships(ctx, "ws-1"); count != 1 {
		t.Errorf("relationship rows = %d, want 1", count)
	}
}

func TestDetectRelationshipsAILabeling(t *testing.T) {
	storage := newFakeStorage(5000)
	aiClient := &fakeAIClient{response: "1: contractual - contracted with - 92 - both are named in the agreement"}
	client := newTestClient(storage, aiClient)
	ctx := context.Background()

	aliceID, betaID := seedSharedDocs(t, client, "ws-1", []string{"doc-1", "doc-2"})

	summary := client.DetectRelationships(ctx, "ws-1")
	if summary.AILabeled != 1 {
		t.Fatalf("ai labeled = %d, want 1 (errors: %v)", summary.AILabeled, summary.Errors)
	}
	if aiClient.calls != 1 {
		t.Errorf("ai calls = %d, want 1", aiClient.calls)
	}

	from, to := common.CanonicalPair(aliceID, betaID)
	typed, err := storage.GetRelationshipByPair(ctx, "ws-1", from, to, common.RelationshipTypeContractual)
	if err != nil {
		t.Fatalf("typed relationship lookup failed: %v", err)
	}
	if typed.Label != "contracted with" {
		t.Errorf("label = %q, want %q", typed.Label, "contracted with")
	}
	// base 0.2 for two shared docs, blended with confidence 92
	want := 0.2*0.4 + 0.92*0.6
	if math.Abs(typed.Strength-want) > 1e-9 {
		t.Errorf("strength = %v, want %v", typed.Strength, want)
	}

	// The deterministic co_occurrence row lives alongside the typed one.
	if _, err := storage.GetRelationshipByPair(ctx, "ws-1", from, to, common.RelationshipTypeCoOccurrence); err != nil {
		t.Errorf("co_occurrence relationship should remain: %v", err)
	}
}

func TestDetectRelationshipsLowConfidenceCoOccurrenceIgnored(t *testing.T) {
	storage := newFakeStorage(5000)
	aiClient := &fakeAIClient{response: "1: co_occurrence - mentioned together - 30 - thin evidence"}
	client := newTestClient(storage, aiClient)
	ctx := context.Background()

	seedSharedDocs(t, client, "ws-1", []string{"doc-1", "doc-2"})

	summary := client.DetectRelationships(ctx, "ws-1")
	if summary.AILabeled != 0 {
		t.Errorf("ai labeled = %d, want 0 for a low-confidence co_occurrence answer", summary.AILabeled)
	}
	if count, _ := storage.CountRelationships(ctx, "ws-1"); count != 1 {
		t.Errorf("relationship rows = %d, want only the deterministic one", count)
	}

	// The deterministic relationship keeps its unlabeled state.
	for _, rel := range storage.relationships {
		if rel.Label != "" {
			t.Errorf("deterministic relationship gained label %q", rel.Label)
		}
	}
}

func TestDetectRelationshipsAIFailureIsNotFatal(t *testing.T) {
	storage := newFakeStorage(5000)
	aiClient := &fakeAIClient{err: errors.New("model unavailable")}
	client := newTestClient(storage, aiClient)
	ctx := context.Background()

	seedSharedDocs(t, client, "ws-1", []string{"doc-1", "doc-2"})

	summary := client.DetectRelationships(ctx, "ws-1")
	if summary.RelationshipsCreated != 1 {
		t.Errorf("deterministic relationship should still be created, got %d", summary.RelationshipsCreated)
	}
	if len(summary.Errors) == 0 {
		t.Error("expected the AI failure to be reported in Errors")
	}
	if summary.AILabeled != 0 {
		t.Errorf("ai labeled = %d, want 0", summary.AILabeled)
	}
}

func TestDetectRelationshipsSingleSharedDocSkipsAI(t *testing.T) {
	storage := newFakeStorage(5000)
	aiClient := &fakeAIClient{response: "1: contractual - contracted with - 92 - reason"}
	client := newTestClient(storage, aiClient)

	seedSharedDocs(t, client, "ws-1", []string{"doc-1"})

	summary := client.DetectRelationships(context.Background(), "ws-1")
	if summary.RelationshipsCreated != 1 {
		t.Errorf("created = %d, want 1", summary.RelationshipsCreated)
	}
	if aiClient.calls != 0 {
		t.Errorf("ai calls = %d, want 0 below the shared-doc threshold", aiClient.calls)
	}
}

type relationshipContent struct {
	From     string
	To       string
	Type     common.RelationshipType
	Label    string
	Strength float64
}

func relationshipContents(f *fakeStorage, byName map[string]string) []relationshipContent {
	contents := make([]relationshipContent, 0, len(f.relationships))
	for _, rel := range f.relationships {
		contents = append(contents, relationshipContent{
			From:     byName[rel.FromEntityID],
			To:       byName[rel.ToEntityID],
			Type:     rel.Type,
			Label:    rel.Label,
			Strength: rel.Strength,
		})
	}
	sort.Slice(contents, func(i, j int) bool {
		if contents[i].From != contents[j].From {
			return contents[i].From < contents[j].From
		}
		if contents[i].To != contents[j].To {
			return contents[i].To < contents[j].To
		}
		return contents[i].Type < contents[j].Type
	})
	return contents
}

func entityNamesByID(f *fakeStorage) map[string]string {
	byName := make(map[string]string, len(f.entities))
	for id, entity := range f.entities {
		byName[id] = entity.NormalizedName
	}
	return byName
}

// A full pass and per-entity incremental passes over the same mentions must
// converge to the same relationship content.
func TestIncrementalPassConvergesWithFullPass(t *testing.T) {
	ctx := context.Background()

	seed := func(client *GraphClient) {
		docs := []struct {
			docID    string
			entities []IngestEntity
		}{
			{"doc-1", []IngestEntity{
				{Name: "Alice", EntityType: "person", Context: "Alice chairs the board"},
				{Name: "Beta Industries", EntityType: "organization", Context: "Beta Industries hosts the board"},
				{Name: "Q3 Review", EntityType: "event", Context: "the Q3 review is scheduled"},
			}},
			{"doc-2", []IngestEntity{
				{Name: "Alice", EntityType: "person", Context: "Alice signed off"},
				{Name: "Beta Industries", EntityType: "organization", Context: "Beta Industries approved"},
			}},
			{"doc-3", []IngestEntity{
				{Name: "Q3 Review", EntityType: "event", Context: "the Q3 review concluded"},
				{Name: "Alice", EntityType: "person", Context: "Alice presented"},
			}},
		}
		for _, doc := range docs {
			_, err := client.IngestMemories(ctx, "ws-1", &IngestRequest{
				ProductSource: "docs",
				DocID:         doc.docID,
				Entities:      doc.entities,
			})
			if err != nil {
				t.Fatalf("seeding %s failed: %v", doc.docID, err)
			}
		}
	}

	fullStorage := newFakeStorage(5000)
	fullClient := newTestClient(fullStorage, nil)
	seed(fullClient)
	fullClient.DetectRelationships(ctx, "ws-1")

	incStorage := newFakeStorage(5000)
	incClient := newTestClient(incStorage, nil)
	seed(incClient)
	for id := range incStorage.entities {
		incClient.UpdateRelationshipsForEntity(ctx, "ws-1", id)
	}

	full := relationshipContents(fullStorage, entityNamesByID(fullStorage))
	incremental := relationshipContents(incStorage, entityNamesByID(incStorage))

	if len(full) != len(incremental) {
		t.Fatalf("full pass produced %d relationships, incremental %d", len(full), len(incremental))
	}
	for i := range full {
		if full[i] != incremental[i] {
			t.Errorf("relationship %d differs: full=%+v incremental=%+v", i, full[i], incremental[i])
		}
	}
}

func TestDetectRelationshipsQuotaDegradesIntoErrors(t *testing.T) {
	storage := newFakeStorage(1)
	client := newTestClient(storage, nil)
	ctx := context.Background()

	// Three entities across two shared documents produce three pairs, two
	// more than the workspace quota allows.
	for _, docID := range []string{"doc-1", "doc-2"} {
		_, err := client.IngestMemories(ctx, "ws-1", &IngestRequest{
			ProductSource: "docs",
			DocID:         docID,
			Entities: []IngestEntity{
				{Name: "Alice", EntityType: "person", Context: "Alice reviewed the terms"},
				{Name: "Beta Industries", EntityType: "organization", Context: "Beta Industries proposed the deal"},
				{Name: "Q3 Review", EntityType: "event", Context: "the Q3 review concluded"},
			},
		})
		if err != nil {
			t.Fatalf("seeding %s failed: %v", docID, err)
		}
	}

	summary := client.DetectRelationships(ctx, "ws-1")

	if summary.RelationshipsCreated != 1 {
		t.Errorf("expected 1 relationship before hitting the quota, got %d", summary.RelationshipsCreated)
	}
	if len(summary.Errors) == 0 {
		t.Fatal("expected the quota to surface in the summary errors")
	}
	found := false
	for _, msg := range summary.Errors {
		if strings.Contains(msg, "relationship limit") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a relationship limit error, got %v", summary.Errors)
	}

	count, err := storage.CountRelationships(ctx, "ws-1")
	if err != nil {
		t.Fatalf("counting relationships failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected the store to stay at the quota, got %d relationships", count)
	}
}
