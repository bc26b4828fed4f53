package connector

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Per-operation parameter schemas. Validation runs before dispatch so
// malformed params never reach a credential-holding connector. Ops
// not listed here pass through and fail inside the connector instead.
var paramSchemas = map[string]string{
	"clawdbot.invoke": `{
		"type": "object",
		"properties": {
			"tool": {"type": "string", "minLength": 1},
			"action": {"type": "string"},
			"args": {"type": "object"},
			"sessionKey": {"type": "string"}
		},
		"required": ["tool"]
	}`,

	"email.draft": emailParamsSchema,
	"email.send":  emailParamsSchema,

	"file.read_file": `{
		"type": "object",
		"properties": {"path": {"type": "string", "minLength": 1}},
		"required": ["path"]
	}`,
	"file.write_file": `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"content": {"type": "string"}
		},
		"required": ["path", "content"]
	}`,
	"file.delete_file": `{
		"type": "object",
		"properties": {"path": {"type": "string", "minLength": 1}},
		"required": ["path"]
	}`,

	"brave_search.search": `{
		"type": "object",
		"properties": {
			"q": {"type": "string", "minLength": 1},
			"count": {"type": "integer"},
			"country": {"type": "string"},
			"freshness": {"type": "string"}
		},
		"required": ["q"]
	}`,

	"github.list_repos": `{
		"type": "object",
		"properties": {
			"visibility": {"type": "string"},
			"per_page": {"type": "integer"}
		}
	}`,
	"github.get_file": `{
		"type": "object",
		"properties": {
			"owner": {"type": "string", "minLength": 1},
			"repo": {"type": "string", "minLength": 1},
			"path": {"type": "string", "minLength": 1}
		},
		"required": ["owner", "repo", "path"]
	}`,
	"github.create_issue": `{
		"type": "object",
		"properties": {
			"owner": {"type": "string", "minLength": 1},
			"repo": {"type": "string", "minLength": 1},
			"title": {"type": "string", "minLength": 1},
			"body": {"type": "string"},
			"labels": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["owner", "repo", "title"]
	}`,

	"elevenlabs.text_to_speech": `{
		"type": "object",
		"properties": {
			"text": {"type": "string", "minLength": 1},
			"voice_id": {"type": "string"},
			"model_id": {"type": "string"},
			"voice_settings": {"type": "object"}
		},
		"required": ["text"]
	}`,
	"elevenlabs.list_voices": `{"type": "object"}`,

	"gmail.list_messages": `{
		"type": "object",
		"properties": {
			"max_results": {"type": "integer"},
			"q": {"type": "string"},
			"label_ids": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	"gmail.get_message": `{
		"type": "object",
		"properties": {
			"message_id": {"type": "string", "minLength": 1},
			"format": {"type": "string"}
		},
		"required": ["message_id"]
	}`,
	"gmail.send_message": `{
		"type": "object",
		"properties": {
			"to": {"type": "string"},
			"recipients": {"type": ["array", "string"]},
			"subject": {"type": "string"},
			"body": {"type": "string"}
		}
	}`,

	"google_calendar.list_events": `{
		"type": "object",
		"properties": {
			"calendar_id": {"type": "string"},
			"time_min": {"type": "string"},
			"time_max": {"type": "string"},
			"max_results": {"type": "integer"},
			"single_events": {"type": "boolean"}
		}
	}`,
	"google_calendar.create_event": `{
		"type": "object",
		"properties": {
			"calendar_id": {"type": "string"},
			"summary": {"type": "string"},
			"description": {"type": "string"},
			"start": {"type": "string"},
			"end": {"type": "string"},
			"location": {"type": "string"}
		}
	}`,

	"memory.write_preference": `{
		"type": "object",
		"properties": {
			"key": {"type": "string", "minLength": 1},
			"value": {"type": "string"}
		},
		"required": ["key", "value"]
	}`,
	"memory.read_preferences": `{
		"type": "object",
		"properties": {"keys": {"type": "array", "items": {"type": "string"}}}
	}`,
	"memory.append_episode": `{
		"type": "object",
		"properties": {
			"episode_id": {"type": "string", "minLength": 1},
			"task_summary": {"type": "string", "minLength": 1},
			"outcome": {"type": "string"},
			"tool": {"type": "string"},
			"op": {"type": "string"},
			"context": {"type": "object"}
		},
		"required": ["episode_id", "task_summary"]
	}`,
	"memory.query_episodes": `{
		"type": "object",
		"properties": {
			"limit": {"type": "integer"},
			"since": {"type": "string"},
			"tool": {"type": "string"}
		}
	}`,
}

// emailParamsSchema is shared by draft and send: both take recipients
// plus subject and body; extra fields ride through to the record.
const emailParamsSchema = `{
	"type": "object",
	"properties": {
		"recipients": {"type": ["array", "string"]},
		"subject": {"type": "string"},
		"body": {"type": "string"}
	},
	"required": ["recipients", "subject", "body"]
}`

type schemaSet struct {
	compiled map[string]*jsonschema.Schema
}

func compileSchemas() (*schemaSet, error) {
	set := &schemaSet{compiled: make(map[string]*jsonschema.Schema, len(paramSchemas))}
	for key, raw := range paramSchemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://edon.schemas.local/tools/%s.schema.json", key)
		if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("connector: load schema %s: %w", key, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("connector: compile schema %s: %w", key, err)
		}
		set.compiled[key] = compiled
	}
	return set, nil
}

// validate checks params against the schema for tool.op. A nil params
// map validates as an empty object.
func (s *schemaSet) validate(tool, op string, params map[string]any) error {
	schema, ok := s.compiled[tool+"."+op]
	if !ok {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := schema.Validate(params); err != nil {
		return fmt.Errorf("invalid params for %s.%s: %w", tool, op, err)
	}
	return nil
}
