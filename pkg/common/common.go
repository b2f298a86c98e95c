package common

import "time"

// EntityType classifies what kind of thing an entity is. The set is closed;
// values arriving from the outside are checked once via ParseEntityType and
// never re-validated internally.
type EntityType string

const (
	EntityTypePerson         EntityType = "person"
	EntityTypeOrganization   EntityType = "organization"
	EntityTypeDate           EntityType = "date"
	EntityTypeAmount         EntityType = "amount"
	EntityTypeLocation       EntityType = "location"
	EntityTypeProduct        EntityType = "product"
	EntityTypeTerm           EntityType = "term"
	EntityTypeConcept        EntityType = "concept"
	EntityTypeWebPage        EntityType = "web_page"
	EntityTypeResearchSource EntityType = "research_source"
	EntityTypeDesignAsset    EntityType = "design_asset"
	EntityTypeEvent          EntityType = "event"
	EntityTypeCitation       EntityType = "citation"
)

var entityTypes = map[EntityType]bool{
	EntityTypePerson:         true,
	EntityTypeOrganization:   true,
	EntityTypeDate:           true,
	EntityTypeAmount:         true,
	EntityTypeLocation:       true,
	EntityTypeProduct:        true,
	EntityTypeTerm:           true,
	EntityTypeConcept:        true,
	EntityTypeWebPage:        true,
	EntityTypeResearchSource: true,
	EntityTypeDesignAsset:    true,
	EntityTypeEvent:          true,
	EntityTypeCitation:       true,
}

// ParseEntityType validates a raw string against the closed entity type set.
func ParseEntityType(raw string) (EntityType, bool) {
	t := EntityType(raw)
	return t, entityTypes[t]
}

// RelationshipType classifies a relationship edge.
type RelationshipType string

const (
	RelationshipTypeCoOccurrence   RelationshipType = "co_occurrence"
	RelationshipTypeContractual    RelationshipType = "contractual"
	RelationshipTypeFinancial      RelationshipType = "financial"
	RelationshipTypeOrganizational RelationshipType = "organizational"
	RelationshipTypeTemporal       RelationshipType = "temporal"
	RelationshipTypeCustom         RelationshipType = "custom"
)

var relationshipTypes = map[RelationshipType]bool{
	RelationshipTypeCoOccurrence:   true,
	RelationshipTypeContractual:    true,
	RelationshipTypeFinancial:      true,
	RelationshipTypeOrganizational: true,
	RelationshipTypeTemporal:       true,
	RelationshipTypeCustom:         true,
}

// ParseRelationshipType validates a raw string against the closed
// relationship type set.
func ParseRelationshipType(raw string) (RelationshipType, bool) {
	t := RelationshipType(raw)
	return t, relationshipTypes[t]
}

// ProductSource identifies which product surface produced a mention.
type ProductSource string

const (
	ProductSourceDocs         ProductSource = "docs"
	ProductSourceDesignStudio ProductSource = "design-studio"
	ProductSourceResearch     ProductSource = "research"
	ProductSourceNotes        ProductSource = "notes"
	ProductSourceSheets       ProductSource = "sheets"
)

var productSources = map[ProductSource]bool{
	ProductSourceDocs:         true,
	ProductSourceDesignStudio: true,
	ProductSourceResearch:     true,
	ProductSourceNotes:        true,
	ProductSourceSheets:       true,
}

// ParseProductSource validates a raw string against the closed product
// source set.
func ParseProductSource(raw string) (ProductSource, bool) {
	s := ProductSource(raw)
	return s, productSources[s]
}

// MentionSource identifies how a mention was produced.
type MentionSource string

const (
	MentionSourceExtraction MentionSource = "extraction"
	MentionSourceManual     MentionSource = "manual"
	MentionSourceAIIndex    MentionSource = "ai_index"
)

var mentionSources = map[MentionSource]bool{
	MentionSourceExtraction: true,
	MentionSourceManual:     true,
	MentionSourceAIIndex:    true,
}

// ParseMentionSource validates a raw string against the closed mention
// source set.
func ParseMentionSource(raw string) (MentionSource, bool) {
	s := MentionSource(raw)
	return s, mentionSources[s]
}

// Entity is a deduplicated named thing tracked per workspace. The dedup key
// is (WorkspaceID, NormalizedName, Type); two sightings of the same key
// always resolve to the same row.
type Entity struct {
	ID             string         `json:"id"`
	WorkspaceID    string         `json:"workspace_id"`
	Type           EntityType     `json:"entity_type"`
	Name           string         `json:"name"`
	NormalizedName string         `json:"normalized_name"`
	Aliases        []string       `json:"aliases"`
	Metadata       map[string]any `json:"metadata"`
	MentionCount   int            `json:"mention_count"`
	DocCount       int            `json:"doc_count"`
	FirstSeenAt    time.Time      `json:"first_seen_at"`
	LastSeenAt     time.Time      `json:"last_seen_at"`
}

// Mention is one observed occurrence of an entity in a specific document or
// product context. Mentions are append-only; re-ingesting an identical
// mention is a no-op.
type Mention struct {
	ID            string        `json:"id"`
	WorkspaceID   string        `json:"workspace_id"`
	EntityID      string        `json:"entity_id"`
	DocID         string        `json:"doc_id,omitempty"`
	Context       string        `json:"context"`
	FieldPath     string        `json:"field_path"`
	Confidence    float64       `json:"confidence"`
	Source        MentionSource `json:"source"`
	ProductSource ProductSource `json:"product_source"`
	SourceRef     string        `json:"source_ref"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Evidence is one human-readable snippet supporting a relationship, tied to
// the document it came from.
type Evidence struct {
	DocID   string `json:"doc_id"`
	Context string `json:"context"`
}

// Relationship is a typed, scored edge between two entities. The pair
// (FromEntityID, ToEntityID, Type) is unique as stored; callers canonicalize
// direction so the reverse pair never coexists.
type Relationship struct {
	ID           string           `json:"id"`
	WorkspaceID  string           `json:"workspace_id"`
	FromEntityID string           `json:"from_entity_id"`
	ToEntityID   string           `json:"to_entity_id"`
	Type         RelationshipType `json:"relationship_type"`
	Label        string           `json:"label,omitempty"`
	Strength     float64          `json:"strength"`
	Evidence     []Evidence       `json:"evidence"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// CanonicalPair orders two entity ids into the stored direction. The smaller
// id is always the from side, so (A,B) and (B,A) map to the same row.
func CanonicalPair(a, b string) (from, to string) {
	if a < b {
		return a, b
	}
	return b, a
}
