package tools

import (
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaRegistry lazily compiles and caches the JSON Schema for each tool's
// output, following the same compile-once registry pattern used for the
// websocket frame schemas elsewhere in this codebase.
type schemaRegistry struct {
	once    sync.Once
	initErr error
	schemas map[Name]*jsonschema.Schema
}

var registry schemaRegistry

func compile() error {
	registry.once.Do(func() {
		raw := map[Name]string{
			Validation:     validationSchema,
			Classification: classificationSchema,
			Translation:    translationSchema,
			Synonyms:       synonymsSchema,
			Examples:       examplesSchema,
			Syllables:      syllablesSchema,
			Conjugation:    conjugationSchema,
			Media:          mediaSchema,
			Pronunciation:  pronunciationSchema,
			QualityCheck:   qualityCheckSchema,
		}
		registry.schemas = make(map[Name]*jsonschema.Schema, len(raw))
		for name, src := range raw {
			compiled, err := jsonschema.CompileString(string(name)+"_output", src)
			if err != nil {
				registry.initErr = err
				return
			}
			registry.schemas[name] = compiled
		}
	})
	return registry.initErr
}

// Schema returns the compiled output schema for a tool, used by the
// supervisor to build schema-aware quality-check prompts and by
// the LLM gateway to validate structured-output responses before they ever
// reach the quality gate.
func Schema(name Name) (*jsonschema.Schema, error) {
	if err := compile(); err != nil {
		return nil, err
	}
	return registry.schemas[name], nil
}

// Validate checks a decoded tool output payload against its schema.
func Validate(name Name, payload any) error {
	schema, err := Schema(name)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	return schema.Validate(payload)
}

const validationSchema = `{
  "type": "object",
  "required": ["is_valid"],
  "properties": {
    "is_valid": { "type": "boolean" },
    "source_language": { "type": "string", "enum": ["en", "es", "de"] },
    "issue_message": { "type": "string" },
    "issue_suggestions": {
      "type": "array",
      "maxItems": 3,
      "items": {
        "type": "object",
        "properties": {
          "word": { "type": "string" },
          "language": { "type": "string" }
        }
      }
    }
  },
  "additionalProperties": true
}`

const classificationSchema = `{
  "type": "object",
  "required": ["source_definition", "source_part_of_speech"],
  "properties": {
    "source_word": { "type": "string" },
    "source_definition": {
      "type": "array",
      "minItems": 1,
      "maxItems": 3,
      "items": { "type": "string" }
    },
    "source_part_of_speech": { "type": "string" },
    "source_article": { "type": "string" },
    "source_additional_info": { "type": "string" }
  },
  "additionalProperties": true
}`

const translationSchema = `{
  "type": "object",
  "required": ["target_word", "target_part_of_speech", "english_word"],
  "properties": {
    "target_word": { "type": "string", "minLength": 1 },
    "target_part_of_speech": { "type": "string" },
    "target_article": { "type": "string" },
    "target_additional_info": { "type": "string" },
    "target_plural_form": { "type": "string" },
    "english_word": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const synonymsSchema = `{
  "type": "object",
  "properties": {
    "note": { "type": "string" },
    "synonyms": {
      "type": "array",
      "maxItems": 3,
      "items": {
        "type": "object",
        "properties": {
          "synonym": { "type": "string" },
          "explanation": { "type": "string" }
        }
      }
    }
  },
  "additionalProperties": true
}`

const examplesSchema = `{
  "type": "object",
  "required": ["examples"],
  "properties": {
    "examples": {
      "type": "array",
      "minItems": 2,
      "maxItems": 3,
      "items": {
        "type": "object",
        "required": ["original", "translation"],
        "properties": {
          "original": { "type": "string", "minLength": 20 },
          "translation": { "type": "string", "minLength": 20 },
          "context": { "type": "string" }
        }
      }
    }
  },
  "additionalProperties": true
}`

const syllablesSchema = `{
  "type": "object",
  "required": ["syllables", "phonetic_guide"],
  "properties": {
    "syllables": {
      "type": "array",
      "minItems": 1,
      "items": { "type": "string" }
    },
    "phonetic_guide": { "type": "string" }
  },
  "additionalProperties": true
}`

const conjugationSchema = `{
  "type": "object",
  "properties": {
    "not_applicable": { "type": "boolean" },
    "table": { "type": "object" }
  },
  "additionalProperties": true
}`

const mediaSchema = `{
  "type": "object",
  "properties": {
    "alt": { "type": "string" },
    "explanation": { "type": "string" },
    "memory_tip": { "type": "string" },
    "src": {
      "type": "object",
      "additionalProperties": { "type": "string", "format": "uri" }
    },
    "media_reused": { "type": "boolean" },
    "matched_word": { "type": "string" }
  },
  "additionalProperties": true
}`

const qualityCheckSchema = `{
  "type": "object",
  "required": ["score"],
  "properties": {
    "score": { "type": "number", "minimum": 0, "maximum": 10 },
    "issues": { "type": "array", "items": { "type": "string" } },
    "suggestions": { "type": "array", "items": { "type": "string" } }
  },
  "additionalProperties": true
}`

const pronunciationSchema = `{
  "type": "object",
  "required": ["audio"],
  "properties": {
    "audio": { "type": "string" },
    "syllables": { "type": "string" }
  },
  "additionalProperties": true
}`
