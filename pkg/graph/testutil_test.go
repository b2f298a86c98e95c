package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tapestry-hq/tapestry/backend/internal/config"
	"github.com/tapestry-hq/tapestry/backend/pkg/ai"
	"github.com/tapestry-hq/tapestry/backend/pkg/common"
	"github.com/tapestry-hq/tapestry/backend/pkg/store"
)

// fakeStorage is an in-memory store.Storage honoring the same uniqueness
// semantics as the database-backed implementation.
type fakeStorage struct {
	mu            sync.Mutex
	limit         int
	nextID        int
	entities      map[string]*common.Entity
	mentions      []*common.Mention
	relationships map[string]*common.Relationship
}

var _ store.Storage = (*fakeStorage)(nil)

func newFakeStorage(limit int) *fakeStorage {
	return &fakeStorage{
		limit:         limit,
		entities:      make(map[string]*common.Entity),
		relationships: make(map[string]*common.Relationship),
	}
}

func (f *fakeStorage) genID() string {
	f.nextID++
	return fmt.Sprintf("id-%04d", f.nextID)
}

func entityKey(workspaceID, normalizedName string, entityType common.EntityType) string {
	return workspaceID + "|" + normalizedName + "|" + string(entityType)
}

func relationshipKey(workspaceID, from, to string, relType common.RelationshipType) string {
	return workspaceID + "|" + from + "|" + to + "|" + string(relType)
}

func (f *fakeStorage) GetOrCreateEntity(ctx context.Context, entity *common.Entity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.entities {
		if existing.WorkspaceID == entity.WorkspaceID &&
			existing.NormalizedName == entity.NormalizedName &&
			existing.Type == entity.Type {
			*entity = *existing
			return false, nil
		}
	}

	if entity.ID == "" {
		entity.ID = f.genID()
	}
	if entity.Aliases == nil {
		entity.Aliases = []string{}
	}
	if entity.Metadata == nil {
		entity.Metadata = map[string]any{}
	}
	stored := *entity
	f.entities[entity.ID] = &stored
	return true, nil
}

func (f *fakeStorage) GetEntityByID(ctx context.Context, workspaceID string, id string) (*common.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entity, ok := f.entities[id]
	if !ok || entity.WorkspaceID != workspaceID {
		return nil, store.ErrNotFound
	}
	copied := *entity
	return &copied, nil
}

func (f *fakeStorage) GetEntityByKey(
	ctx context.Context,
	workspaceID string,
	normalizedName string,
	entityType common.EntityType,
) (*common.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, entity := range f.entities {
		if entity.WorkspaceID == workspaceID && entity.NormalizedName == normalizedName && entity.Type == entityType {
			copied := *entity
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStorage) UpdateEntityAliases(ctx context.Context, workspaceID string, id string, aliases []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entity, ok := f.entities[id]
	if !ok || entity.WorkspaceID != workspaceID {
		return store.ErrNotFound
	}
	entity.Aliases = aliases
	return nil
}

func (f *fakeStorage) UpdateEntityMetadata(ctx context.Context, workspaceID string, id string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entity, ok := f.entities[id]
	if !ok || entity.WorkspaceID != workspaceID {
		return store.ErrNotFound
	}
	entity.Metadata = metadata
	return nil
}

func (f *fakeStorage) DeleteEntity(ctx context.Context, workspaceID string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entity, ok := f.entities[id]
	if !ok || entity.WorkspaceID != workspaceID {
		return store.ErrNotFound
	}
	delete(f.entities, id)

	kept := f.mentions[:0]
	for _, m := range f.mentions {
		if m.EntityID != id {
			kept = append(kept, m)
		}
	}
	f.mentions = kept

	for key, rel := range f.relationships {
		if rel.FromEntityID == id || rel.ToEntityID == id {
			delete(f.relationships, key)
		}
	}
	return nil
}

func (f *fakeStorage) MergeEntities(ctx context.Context, workspaceID string, survivorID string, absorbedIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	survivor, ok := f.entities[survivorID]
	if !ok || survivor.WorkspaceID != workspaceID {
		return store.ErrNotFound
	}

	absorbed := make(map[string]bool, len(absorbedIDs))
	aliasSet := make(map[string]bool, len(survivor.Aliases))
	for _, a := range survivor.Aliases {
		aliasSet[a] = true
	}
	for _, id := range absorbedIDs {
		entity, ok := f.entities[id]
		if !ok || entity.WorkspaceID != workspaceID {
			continue
		}
		absorbed[id] = true
		for _, name := range append([]string{entity.Name}, entity.Aliases...) {
			if name != survivor.Name && !aliasSet[name] {
				aliasSet[name] = true
				survivor.Aliases = append(survivor.Aliases, name)
			}
		}
	}

	seen := make(map[string]bool, len(f.mentions))
	for _, m := range f.mentions {
		if !absorbed[m.EntityID] {
			seen[mentionDedupKey(m)] = true
		}
	}
	keptMentions := f.mentions[:0]
	for _, m := range f.mentions {
		if absorbed[m.EntityID] {
			m.EntityID = survivorID
			key := mentionDedupKey(m)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		keptMentions = append(keptMentions, m)
	}
	f.mentions = keptMentions

	remapped := make(map[string]*common.Relationship, len(f.relationships))
	var pending []*common.Relationship
	for key, rel := range f.relationships {
		fromAbsorbed := absorbed[rel.FromEntityID]
		toAbsorbed := absorbed[rel.ToEntityID]
		if !fromAbsorbed && !toAbsorbed {
			remapped[key] = rel
			continue
		}
		if (fromAbsorbed && toAbsorbed) ||
			(fromAbsorbed && rel.ToEntityID == survivorID) ||
			(toAbsorbed && rel.FromEntityID == survivorID) {
			continue
		}
		pending = append(pending, rel)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	for _, rel := range pending {
		other := rel.ToEntityID
		if absorbed[other] {
			other = rel.FromEntityID
		}
		rel.FromEntityID, rel.ToEntityID = common.CanonicalPair(survivorID, other)
		key := relationshipKey(rel.WorkspaceID, rel.FromEntityID, rel.ToEntityID, rel.Type)
		if _, ok := remapped[key]; ok {
			continue
		}
		remapped[key] = rel
	}
	f.relationships = remapped

	for id := range absorbed {
		delete(f.entities, id)
	}

	survivor.MentionCount = 0
	docs := make(map[string]bool)
	for _, m := range f.mentions {
		if m.EntityID == survivorID {
			survivor.MentionCount++
			if m.DocID != "" {
				docs[m.DocID] = true
			}
		}
	}
	survivor.DocCount = len(docs)
	return nil
}

func mentionDedupKey(m *common.Mention) string {
	return m.EntityID + "|" + m.DocID + "|" + m.FieldPath + "|" + string(m.Source) + "|" + string(m.ProductSource) + "|" + m.SourceRef
}

func (f *fakeStorage) InsertMention(ctx context.Context, mention *common.Mention) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.mentions {
		if mentionDedupKey(existing) == mentionDedupKey(mention) {
			return false, nil
		}
	}

	if mention.ID == "" {
		mention.ID = f.genID()
	}
	stored := *mention
	f.mentions = append(f.mentions, &stored)

	if entity, ok := f.entities[mention.EntityID]; ok {
		entity.MentionCount++
		docs := make(map[string]bool)
		for _, m := range f.mentions {
			if m.EntityID == mention.EntityID && m.DocID != "" {
				docs[m.DocID] = true
			}
		}
		entity.DocCount = len(docs)
	}
	return true, nil
}

func (f *fakeStorage) MentionContexts(
	ctx context.Context,
	workspaceID string,
	entityID string,
	docID string,
	limit int,
) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contexts := make([]string, 0, limit)
	for _, m := range f.mentions {
		if m.WorkspaceID == workspaceID && m.EntityID == entityID && m.DocID == docID && m.Context != "" {
			contexts = append(contexts, m.Context)
			if len(contexts) == limit {
				break
			}
		}
	}
	return contexts, nil
}

func (f *fakeStorage) FindCoOccurrences(ctx context.Context, workspaceID string) ([]store.CoOccurrence, error) {
	return f.findCoOccurrences(workspaceID, ""), nil
}

func (f *fakeStorage) FindCoOccurrencesForEntity(
	ctx context.Context,
	workspaceID string,
	entityID string,
) ([]store.CoOccurrence, error) {
	return f.findCoOccurrences(workspaceID, entityID), nil
}

func (f *fakeStorage) findCoOccurrences(workspaceID string, onlyEntity string) []store.CoOccurrence {
	f.mu.Lock()
	defer f.mu.Unlock()

	byDoc := make(map[string]map[string]bool)
	for _, m := range f.mentions {
		if m.WorkspaceID != workspaceID || m.DocID == "" {
			continue
		}
		if _, ok := f.entities[m.EntityID]; !ok {
			continue
		}
		if byDoc[m.DocID] == nil {
			byDoc[m.DocID] = make(map[string]bool)
		}
		byDoc[m.DocID][m.EntityID] = true
	}

	shared := make(map[[2]string]map[string]bool)
	for docID, entities := range byDoc {
		ids := make([]string, 0, len(entities))
		for id := range entities {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				if onlyEntity != "" && ids[i] != onlyEntity && ids[j] != onlyEntity {
					continue
				}
				key := [2]string{ids[i], ids[j]}
				if shared[key] == nil {
					shared[key] = make(map[string]bool)
				}
				shared[key][docID] = true
			}
		}
	}

	pairs := make([]store.CoOccurrence, 0, len(shared))
	for key, docs := range shared {
		docIDs := make([]string, 0, len(docs))
		for id := range docs {
			docIDs = append(docIDs, id)
		}
		sort.Strings(docIDs)
		pairs = append(pairs, store.CoOccurrence{
			EntityA:        key[0],
			EntityB:        key[1],
			SharedDocIDs:   docIDs,
			SharedDocCount: len(docIDs),
		})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].SharedDocCount != pairs[j].SharedDocCount {
			return pairs[i].SharedDocCount > pairs[j].SharedDocCount
		}
		if pairs[i].EntityA != pairs[j].EntityA {
			return pairs[i].EntityA < pairs[j].EntityA
		}
		return pairs[i].EntityB < pairs[j].EntityB
	})
	return pairs
}

func (f *fakeStorage) DeleteMentionsByDoc(ctx context.Context, workspaceID string, docID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var removed int64
	kept := f.mentions[:0]
	for _, m := range f.mentions {
		if m.WorkspaceID == workspaceID && m.DocID == docID {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	f.mentions = kept
	return removed, nil
}

func (f *fakeStorage) CreateRelationship(ctx context.Context, rel *common.Relationship) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, existing := range f.relationships {
		if existing.WorkspaceID == rel.WorkspaceID {
			count++
		}
	}
	if count >= f.limit {
		return false, &store.RelationshipLimitError{
			WorkspaceID: rel.WorkspaceID,
			Count:       count,
			Limit:       f.limit,
		}
	}

	key := relationshipKey(rel.WorkspaceID, rel.FromEntityID, rel.ToEntityID, rel.Type)
	if _, ok := f.relationships[key]; ok {
		return false, nil
	}

	if rel.ID == "" {
		rel.ID = f.genID()
	}
	if rel.Evidence == nil {
		rel.Evidence = []common.Evidence{}
	}
	stored := *rel
	f.relationships[key] = &stored
	return true, nil
}

func (f *fakeStorage) GetRelationshipByPair(
	ctx context.Context,
	workspaceID string,
	fromID string,
	toID string,
	relType common.RelationshipType,
) (*common.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rel, ok := f.relationships[relationshipKey(workspaceID, fromID, toID, relType)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *rel
	return &copied, nil
}

func (f *fakeStorage) UpdateRelationship(ctx context.Context, rel *common.Relationship) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := relationshipKey(rel.WorkspaceID, rel.FromEntityID, rel.ToEntityID, rel.Type)
	existing, ok := f.relationships[key]
	if !ok {
		return store.ErrNotFound
	}
	existing.Label = rel.Label
	existing.Strength = rel.Strength
	existing.Evidence = rel.Evidence
	return nil
}

func (f *fakeStorage) RelationshipsForEntity(
	ctx context.Context,
	workspaceID string,
	entityID string,
	limit int,
) ([]*common.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	matches := make([]*common.Relationship, 0)
	for _, rel := range f.relationships {
		if rel.WorkspaceID == workspaceID && (rel.FromEntityID == entityID || rel.ToEntityID == entityID) {
			copied := *rel
			matches = append(matches, &copied)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Strength > matches[j].Strength
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (f *fakeStorage) CountRelationships(ctx context.Context, workspaceID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, rel := range f.relationships {
		if rel.WorkspaceID == workspaceID {
			count++
		}
	}
	return count, nil
}

// fakeAIClient returns a canned response or error for every completion call.
type fakeAIClient struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	prompts  []string
}

var _ ai.GraphAIClient = (*fakeAIClient)(nil)

func (f *fakeAIClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeAIClient) ResetMetrics()               {}
func (f *fakeAIClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func newTestClient(storage store.Storage, aiClient ai.GraphAIClient) *GraphClient {
	return NewGraphClient(NewGraphClientParams{
		Storage:  storage,
		AIClient: aiClient,
		Config:   config.Default(),
	})
}
