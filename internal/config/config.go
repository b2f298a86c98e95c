package config

import (
	"time"

	"github.com/tapestry-hq/tapestry/backend/internal/util"
)

// GraphConfig holds the tunables for the knowledge-graph engine. It is passed
// into the engine at construction time; nothing in the engine reads the
// environment directly.
type GraphConfig struct {
	// RelationshipLimit is the hard cap on relationships per workspace,
	// enforced at create time.
	RelationshipLimit int

	// MaxEntitiesPerIngest bounds a single ingestion call.
	MaxEntitiesPerIngest int

	// MinCooccurrenceDocsForAI is the minimum shared-document count a pair
	// needs before it is sent to the AI labeler.
	MinCooccurrenceDocsForAI int

	// MaxAIBatch is the number of pairs labeled per compose call.
	MaxAIBatch int

	// DetectorTimeout is the hard timeout for one compose call.
	DetectorTimeout time.Duration

	// MaxEvidenceDocs caps how many shared documents contribute evidence
	// snippets to a relationship.
	MaxEvidenceDocs int

	// CooccurrenceCap is the shared-document count at which the deterministic
	// strength saturates at 1.0.
	CooccurrenceCap int

	// MaxPromptTokens bounds the labeler prompt; evidence snippets are
	// trimmed to fit.
	MaxPromptTokens int

	// ResponseMaxTokens is the token cap passed to the compose call.
	ResponseMaxTokens int

	// MaxRetries is the retry count for compose calls within one batch.
	MaxRetries int
}

// Default returns the documented default configuration.
func Default() GraphConfig {
	return GraphConfig{
		RelationshipLimit:        5000,
		MaxEntitiesPerIngest:     500,
		MinCooccurrenceDocsForAI: 2,
		MaxAIBatch:               8,
		DetectorTimeout:          15 * time.Second,
		MaxEvidenceDocs:          5,
		CooccurrenceCap:          10,
		MaxPromptTokens:          6000,
		ResponseMaxTokens:        700,
		MaxRetries:               2,
	}
}

// FromEnv returns the default configuration with environment overrides
// applied. Unset or malformed variables keep their defaults.
func FromEnv() GraphConfig {
	cfg := Default()
	cfg.RelationshipLimit = util.GetEnvInt("RELATIONSHIP_LIMIT", cfg.RelationshipLimit)
	cfg.MaxEntitiesPerIngest = util.GetEnvInt("MAX_ENTITIES_PER_INGEST", cfg.MaxEntitiesPerIngest)
	cfg.MinCooccurrenceDocsForAI = util.GetEnvInt("MIN_COOCCURRENCE_DOCS_FOR_AI", cfg.MinCooccurrenceDocsForAI)
	cfg.MaxAIBatch = util.GetEnvInt("MAX_AI_BATCH", cfg.MaxAIBatch)
	cfg.MaxRetries = util.GetEnvInt("AI_MAX_RETRIES", cfg.MaxRetries)

	timeoutMs := util.GetEnvInt("DETECTOR_TIMEOUT_MS", int(cfg.DetectorTimeout/time.Millisecond))
	if timeoutMs > 0 {
		cfg.DetectorTimeout = time.Duration(timeoutMs) * time.Millisecond
	}

	return cfg
}
