package config

import (
	"fmt"
	"strings"

	pamerrors "github.com/systmms/pamsync/internal/errors"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// settingsSchema rejects typos and wrong types in pamsync.yaml before any
// value reaches the run. Keeping additionalProperties false matters here:
// a misspelled key silently falling back to a default would rotate the
// wrong accounts.
const settingsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "server_url": {"type": "string"},
    "token": {"type": "string"},
    "accounts": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "resource_group": {"type": "string"},
    "share": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "user_id": {"type": "string"},
        "access_type": {"type": "string", "enum": ["view", "modify", "fullaccess"]},
        "account_access_type": {"type": "string", "enum": ["view", "modify", "fullaccess"]}
      }
    },
    "tls": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "insecure_skip_verify": {"type": "boolean"},
        "ca_cert": {"type": "string"}
      }
    },
    "timeout_ms": {"type": "integer", "minimum": 1},
    "metrics_file": {"type": "string"},
    "parallel": {"type": "boolean"}
  }
}`

// validateSchema checks raw YAML content against settingsSchema.
func validateSchema(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return pamerrors.ConfigError{
			Field:   "file",
			Message: "invalid YAML: " + err.Error(),
		}
	}
	if doc == nil {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(settingsSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("config schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return pamerrors.ConfigError{
		Field:      "file",
		Message:    strings.Join(problems, "; "),
		Suggestion: "Compare the file against the documented pamsync.yaml keys",
	}
}
