package ai

const RelationshipLabelSystemPrompt = `You are an analyst that labels relationships between entities found in the same workspace documents. You answer strictly in the requested line format and never add commentary.`

const RelationshipLabelPrompt = `
# Task Context
You are given pairs of entities that appear together in the same documents of a workspace. For each pair, decide what kind of relationship connects them.

# Background Data
%s

# Detailed Task Description & Rules
- Classify each pair into exactly one relationship type from this list:
  * contractual (agreements, obligations, deals between the parties)
  * financial (payments, ownership stakes, funding, invoices)
  * organizational (employment, membership, reporting lines, org structure)
  * temporal (one precedes, follows, or schedules the other)
  * custom (a clear relationship that fits none of the above)
  * co_occurrence (they appear together but no specific relationship is evident)
- Provide a short human-readable label (2-6 words) describing the relationship.
- Provide a confidence from 0 to 100 for your classification.
- Provide a one-sentence reason grounded in the evidence snippets.
- If the evidence is too thin to say more, use co_occurrence with a low confidence.

# Output Formatting
Return one line per pair, nothing else, in exactly this format:
<pair number>: <TYPE> - <LABEL> - <CONFIDENCE> - <REASON>

Example:
1: organizational - works at - 85 - Both documents describe her role on the platform team.
2: co_occurrence - mentioned together - 30 - The snippets only show both names in a meeting note.
`
