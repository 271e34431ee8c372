package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/FairForge/vaultaire-recovery/internal/backup"
)

const maxBodySize = 1 << 20

const durationSchema = `{"type": ["string", "integer"]}`

var schemas = map[string]string{
	"job": `{
		"type": "object",
		"required": ["name", "type", "destinations"],
		"properties": {
			"name": {"type": "string", "minLength": 1, "maxLength": 200},
			"type": {"enum": ["full", "incremental", "differential"]},
			"priority": {"type": "integer", "minimum": 0, "maximum": 3},
			"scope": {"type": "object", "properties": {"paths": {"type": "array", "items": {"type": "string"}}}},
			"schedule": {
				"type": "object",
				"properties": {
					"enabled": {"type": "boolean"},
					"frequency": {"enum": ["hourly", "daily", "weekly", "monthly", "custom"]},
					"time_of_day": {"type": "string", "pattern": "^\\d{2}:\\d{2}$"}
				}
			},
			"destinations": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["name", "type"],
					"properties": {
						"name": {"type": "string", "minLength": 1},
						"type": {"enum": ["local", "s3"]}
					}
				}
			}
		}
	}`,
	"plan": `{
		"type": "object",
		"required": ["name", "rto", "rpo", "steps"],
		"properties": {
			"name": {"type": "string", "minLength": 1, "maxLength": 200},
			"rto": ` + durationSchema + `,
			"rpo": ` + durationSchema + `,
			"active": {"type": "boolean"},
			"steps": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["order", "name", "type"],
					"properties": {
						"order": {"type": "integer"},
						"name": {"type": "string", "minLength": 1},
						"type": {"enum": ["backup", "restore", "failover", "notification", "verification"]},
						"required": {"type": "boolean"},
						"timeout": ` + durationSchema + `,
						"parameters": {"type": "object", "additionalProperties": {"type": "string"}}
					}
				}
			}
		}
	}`,
	"restore": `{
		"type": "object",
		"required": ["target_path"],
		"properties": {
			"type": {"enum": ["full", "partial", "point_in_time"]},
			"target_path": {"type": "string", "minLength": 1},
			"paths": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	"emergency": `{
		"type": "object",
		"required": ["reason"],
		"properties": {
			"reason": {"type": "string", "minLength": 1},
			"initiated_by": {"type": "string"}
		}
	}`,
}

// validator holds the compiled request schemas
type validator struct {
	schemas map[string]*gojsonschema.Schema
}

func newValidator() (*validator, error) {
	v := &validator{schemas: make(map[string]*gojsonschema.Schema, len(schemas))}
	for name, doc := range schemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		v.schemas[name] = schema
	}
	return v, nil
}

// decode reads the body, checks it against the named schema when one is
// given and unmarshals it into out
func (v *validator) decode(r *http.Request, schema string, out interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return &backup.ValidationError{Field: "body", Reason: err.Error()}
	}
	if len(body) > maxBodySize {
		return &backup.ValidationError{Field: "body", Reason: fmt.Sprintf("larger than %d bytes", maxBodySize)}
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	if s, ok := v.schemas[schema]; ok {
		result, err := s.Validate(gojsonschema.NewBytesLoader(body))
		if err != nil {
			return &backup.ValidationError{Field: "body", Reason: err.Error()}
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return &backup.ValidationError{Field: "body", Reason: strings.Join(msgs, "; ")}
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &backup.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// Duration accepts a Go duration string or a number of seconds
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q", s)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or seconds")
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
