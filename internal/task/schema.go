package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// tasksSchema accepts the persisted task array, including legacy records
// that use a "name" key instead of "title" or omit "done".
const tasksSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "id": {"type": "string"},
      "title": {"type": "string"},
      "name": {"type": "string"},
      "done": {"type": "boolean"},
      "created_at": {"type": "string"},
      "updated_at": {"type": "string"}
    },
    "anyOf": [
      {"required": ["title"]},
      {"required": ["name"]}
    ]
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(tasksSchema))
	if err != nil {
		return nil, fmt.Errorf("parse tasks schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tasks.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add tasks schema: %w", err)
	}
	return compiler.Compile("tasks.schema.json")
})

// validateRaw checks the raw file content against the tasks schema.
func validateRaw(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse tasks file: %w", err)
	}
	return schema.Validate(instance)
}

// persistedTask is the on-disk shape, tolerating legacy field names.
type persistedTask struct {
	ID        string `json:"id,omitempty"`
	Title     string `json:"title,omitempty"`
	Name      string `json:"name,omitempty"` // legacy key for title
	Done      *bool  `json:"done,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// decodeTasks parses and validates raw file content into normalized tasks.
// migrated reports whether any record needed normalization (generated id or
// legacy name key); such lists must be written back so ids stay stable.
func decodeTasks(data []byte) (tasks []Task, migrated bool, err error) {
	if err := validateRaw(data); err != nil {
		return nil, false, err
	}
	var records []persistedTask
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, fmt.Errorf("decode tasks file: %w", err)
	}
	tasks = make([]Task, 0, len(records))
	for _, rec := range records {
		t, m := normalizeRecord(rec)
		tasks = append(tasks, t)
		migrated = migrated || m
	}
	return tasks, migrated, nil
}
