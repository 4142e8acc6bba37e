package jobset

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://swodlr.podaac.earthdata.nasa.gov/schemas/"

// Validator enforces the jobset contract at stage boundaries.
type Validator struct {
	input  *jsonschema.Schema
	jobset *jsonschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	for _, entry := range entries {
		data, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		if err := c.AddResource(schemaBaseURL+entry.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", entry.Name(), err)
		}
	}

	input, err := c.Compile(schemaBaseURL + "input.json")
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	jobset, err := c.Compile(schemaBaseURL + "jobset.json")
	if err != nil {
		return nil, fmt.Errorf("compile jobset schema: %w", err)
	}

	return &Validator{input: input, jobset: jobset}, nil
}

// MustValidator is NewValidator for process start-up; it panics on error.
func MustValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// ValidateInput validates and decodes one inbound request.
func (v *Validator) ValidateInput(raw []byte) (Input, error) {
	var in Input
	if err := validate(v.input, raw); err != nil {
		return in, err
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("%w: decode input: %w", ErrSchemaViolation, err)
	}
	return in, nil
}

// ValidateJobset validates and decodes an inbound jobset.
func (v *Validator) ValidateJobset(raw []byte) (Jobset, error) {
	var js Jobset
	if err := validate(v.jobset, raw); err != nil {
		return js, err
	}
	if err := json.Unmarshal(raw, &js); err != nil {
		return js, fmt.Errorf("%w: decode jobset: %w", ErrSchemaViolation, err)
	}
	js.normalize()
	if err := checkReferences(js); err != nil {
		return js, err
	}
	return js, nil
}

// Check validates an outbound jobset against the schema and the invariants
// the schema cannot express.
func (v *Validator) Check(js Jobset) (Jobset, error) {
	js.normalize()

	raw, err := json.Marshal(js)
	if err != nil {
		return js, fmt.Errorf("%w: encode jobset: %w", ErrSchemaViolation, err)
	}
	if err := validate(v.jobset, raw); err != nil {
		return js, err
	}
	if err := checkReferences(js); err != nil {
		return js, err
	}
	if js.Waiting != js.HasWaiting() {
		return js, fmt.Errorf("%w: waiting=%t does not match job statuses", ErrSchemaViolation, js.Waiting)
	}
	return js, nil
}

// checkReferences requires every job to reference a known input.
func checkReferences(js Jobset) error {
	for i, job := range js.Jobs {
		if _, ok := js.Inputs[job.ProductID]; !ok {
			return fmt.Errorf("%w: jobs[%d] references unknown product_id %q", ErrSchemaViolation, i, job.ProductID)
		}
	}
	return nil
}

func validate(schema *jsonschema.Schema, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: invalid json: %w", ErrSchemaViolation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaViolation, err)
	}
	return nil
}
