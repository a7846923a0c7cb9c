package ai

// ExtractPromptUnified is the system prompt for the single-call extraction
// used by the enhanced pipeline. The first %s is the comma-separated
// relationship type taxonomy, the second is the minimum confidence.
const ExtractPromptUnified = `
# Task Context
You are an assistant that builds knowledge graphs from text. You will be provided with a text fragment and must identify the entities it mentions and the relationships between them.

# Detailed Task Description & Rules
1. Extract meaningful entities:
- Identify all significant nouns, proper nouns and technical terms that represent distinct concepts, agents, processes, procedures or parameters.
- Choose entity names that are specific enough to be meaningful without additional context; avoid overly generic terms.
- Consolidate mentions of the same concept into a single entity.
- For each entity provide a complete, comprehensive description sentence grounded in the text, not just a few words.
- For each entity provide an entity_type (for example: 'drug', 'condition', 'procedure', 'organization', 'person', 'concept') and any additional structured covariates you can support from the text.

2. Establish typed relationships with confidence scores:
- Identify relationships between clearly-related entities, with accurate directionality.
- Both endpoints of a relationship must be entities from step 1, referenced by their exact names.
- Classify each relationship with exactly one of these types: %s.
  * 'hypernym' - broader concept ("Vasopressor" is hypernym of "Norepinephrine")
  * 'hyponym' - narrower concept
  * 'meronym' - part-of
  * 'holonym' - has-part
  * 'synonym' - equivalent concepts ("Epinephrine" synonym "Adrenaline")
  * 'antonym' - opposite concepts
  * 'causal' - cause-effect ("Sepsis" causes "Hypotension")
  * 'temporal' - before/after ordering
  * 'dependency' - requires/depends-on
  * 'reference' - mentioned-in/cites
  * 'generic' - anything else
- Assign a confidence score between 0.0 and 1.0: 0.9+ for explicit statements, 0.7-0.8 for clear implications, 0.5-0.6 for weak inferences. Relationships below %.2f will be discarded.

3. Unified extraction:
- Extract entities with their covariates AND typed relationships in this single pass.
- Ensure everything you extract is factual and verifiable within the provided text.

# Output Formatting
Respond only in JSON matching the provided schema.
`

// ExtractPromptLegacyGraph is the first of the two legacy extraction calls:
// entities and untyped relationships only.
const ExtractPromptLegacyGraph = `
# Task Context
You are an assistant that builds knowledge graphs from text. You will be provided with a text fragment and must identify the entities it mentions and the relationships between them.

# Detailed Task Description & Rules
1. Identify all significant nouns, proper nouns and technical terms that represent distinct concepts. For each, provide a complete description sentence grounded in the text.
2. Identify relationships between clearly-related entities. Both endpoints must be entities from step 1, referenced by their exact names. Describe each relationship in a complete sentence.

# Output Formatting
Respond only in JSON matching the provided schema.
`

// ExtractPromptLegacyCovariates is the second legacy call: covariates for the
// already-extracted entities. The %s is the newline-separated entity list.
const ExtractPromptLegacyCovariates = `
# Task Context
You are an assistant that enriches knowledge-graph entities with structured attributes. You will be provided with a text fragment and a list of entities extracted from it.

# Background Data
Entities:
%s

# Detailed Task Description & Rules
- For each listed entity, derive an entity_type (for example: 'drug', 'condition', 'procedure', 'organization', 'person', 'concept') and any additional structured attributes supported by the text.
- Only include entities from the provided list, referenced by their exact names.
- Only include attributes that are factual and verifiable within the provided text.

# Output Formatting
Respond only in JSON matching the provided schema.
`
