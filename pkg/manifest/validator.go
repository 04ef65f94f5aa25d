// Package manifest schema-checks incoming policy manifests and attack
// claims. Malformed input is rejected here, before anything reaches
// storage.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/reprove-ai/reprove/pkg/contracts"
)

const policySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["agent_id", "limits"],
  "properties": {
    "agent_id": {"type": "string", "minLength": 1},
    "capabilities": {"type": "array", "items": {"type": "string"}},
    "limits": {
      "type": "object",
      "required": ["max_order_usd"],
      "properties": {
        "max_order_usd": {"type": "number", "minimum": 0},
        "pii_mode": {"enum": ["deny", "mask"]},
        "blocked_jurisdictions": {"type": "array", "items": {"type": "string"}}
      }
    },
    "forbid": {"type": "array", "items": {"type": "string", "minLength": 1}}
  }
}`

const claimSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id", "transcript", "alleged"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "transcript": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"enum": ["user", "agent"]},
          "content": {"type": "string"}
        }
      }
    },
    "artifacts": {"type": "array", "items": {"type": "string"}},
    "alleged": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string"}
    },
    "idempotency_key": {"type": "string"}
  }
}`

// Validator holds the compiled schemas for policy manifests and claims.
type Validator struct {
	policy *jsonschema.Schema
	claim  *jsonschema.Schema
}

// New compiles the embedded schemas. Compilation failure is a programming
// error and is returned rather than panicking so callers fail at startup.
func New() (*Validator, error) {
	policy, err := compile("policy_manifest.schema.json", policySchema)
	if err != nil {
		return nil, err
	}
	claim, err := compile("claim.schema.json", claimSchema)
	if err != nil {
		return nil, err
	}
	return &Validator{policy: policy, claim: claim}, nil
}

func compile(name, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://reprove.schemas.local/%s", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("schema load failed for %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed for %s: %w", name, err)
	}
	return compiled, nil
}

// ValidateManifest checks a raw policy manifest document against the
// schema and returns the decoded manifest on success.
func (v *Validator) ValidateManifest(raw []byte) (*contracts.PolicyManifest, error) {
	if err := v.validate(v.policy, raw); err != nil {
		return nil, fmt.Errorf("policy manifest rejected: %w", err)
	}
	var m contracts.PolicyManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("policy manifest decode: %w", err)
	}
	if m.Limits.PIIMode == "" {
		m.Limits.PIIMode = contracts.PIIModeMask
	}
	return &m, nil
}

// ClaimPayload is the decoded shape of a claim submission.
type ClaimPayload struct {
	SessionID      string                      `json:"session_id"`
	Transcript     []contracts.TranscriptEntry `json:"transcript"`
	Artifacts      []string                    `json:"artifacts,omitempty"`
	Alleged        []contracts.ViolationKind   `json:"alleged"`
	IdempotencyKey string                      `json:"idempotency_key,omitempty"`
}

// ValidateClaim checks a raw claim payload: schema shape plus alleged
// kinds drawn from the fixed violation-kind enumeration.
func (v *Validator) ValidateClaim(raw []byte) (*ClaimPayload, error) {
	if err := v.validate(v.claim, raw); err != nil {
		return nil, fmt.Errorf("claim rejected: %w", err)
	}
	var p ClaimPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("claim decode: %w", err)
	}
	for _, kind := range p.Alleged {
		if !contracts.ValidViolationKind(kind) {
			return nil, fmt.Errorf("claim rejected: unknown violation kind %q", kind)
		}
	}
	return &p, nil
}

func (v *Validator) validate(schema *jsonschema.Schema, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return schema.Validate(doc)
}
