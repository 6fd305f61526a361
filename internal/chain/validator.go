package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// PrompterOutput is the shape the Prompter must answer with. Response is the
// next sub-prompt, or the final answer when IsSolution is set.
type PrompterOutput struct {
	Response   string `json:"response"`
	Summary    string `json:"summary"`
	IsSolution bool   `json:"isSolution"`
}

// ResponderOutput is the shape the Responder must answer with.
type ResponderOutput struct {
	Response string `json:"response"`
}

type fieldKind string

const (
	kindString  fieldKind = "string"
	kindBoolean fieldKind = "boolean"
)

type fieldSpec struct {
	name string
	kind fieldKind
}

// shapes lists the required fields per role. Other fields are ignored.
var shapes = map[Role][]fieldSpec{
	RolePrompter: {
		{name: "response", kind: kindString},
		{name: "summary", kind: kindString},
		{name: "isSolution", kind: kindBoolean},
	},
	RoleResponder: {
		{name: "response", kind: kindString},
	},
}

// Validator checks parsed documents against the per-role shapes.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate reports every missing or mistyped field of doc for role.
func (v *Validator) Validate(role Role, doc json.RawMessage) error {
	_, err := v.check(role, doc)
	return err
}

// check validates doc and returns the object view it validated, keyed by
// exact field name. Decoding reads from this view so that keys differing
// only in case, or repeated keys, cannot change a validated field.
func (v *Validator) check(role Role, doc json.RawMessage) (map[string]json.RawMessage, error) {
	required, ok := shapes[role]
	if !ok {
		return nil, fmt.Errorf("no shape for role %q", role)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil || obj == nil {
		return nil, &SchemaViolationError{Role: role, Fields: []FieldError{
			{Field: "(root)", Problem: "expected a JSON object, got " + jsonKind(doc)},
		}}
	}

	var fields []FieldError
	for _, f := range required {
		raw, present := obj[f.name]
		if !present {
			fields = append(fields, FieldError{Field: f.name, Problem: "is required"})
			continue
		}
		if got := jsonKind(raw); got != string(f.kind) {
			fields = append(fields, FieldError{Field: f.name, Problem: fmt.Sprintf("must be a %s, got %s", f.kind, got)})
		}
	}
	if len(fields) == 0 {
		return obj, nil
	}

	sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return nil, &SchemaViolationError{Role: role, Fields: fields}
}

// Prompter validates doc and decodes it.
func (v *Validator) Prompter(doc json.RawMessage) (PrompterOutput, error) {
	var out PrompterOutput
	obj, err := v.check(RolePrompter, doc)
	if err != nil {
		return out, err
	}
	err = decodeFields(doc, []fieldTarget{
		{obj["response"], &out.Response},
		{obj["summary"], &out.Summary},
		{obj["isSolution"], &out.IsSolution},
	})
	return out, err
}

// Responder validates doc and decodes it.
func (v *Validator) Responder(doc json.RawMessage) (ResponderOutput, error) {
	var out ResponderOutput
	obj, err := v.check(RoleResponder, doc)
	if err != nil {
		return out, err
	}
	err = decodeFields(doc, []fieldTarget{{obj["response"], &out.Response}})
	return out, err
}

type fieldTarget struct {
	raw json.RawMessage
	dst any
}

func decodeFields(doc json.RawMessage, targets []fieldTarget) error {
	for _, t := range targets {
		if err := json.Unmarshal(t.raw, t.dst); err != nil {
			return &ParseError{Raw: string(doc), Err: err}
		}
	}
	return nil
}

// jsonKind names the JSON type of an encoded value.
func jsonKind(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "nothing"
	}
	switch raw[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	}
	return "number"
}
