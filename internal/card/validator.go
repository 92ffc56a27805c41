package card

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const schemaFetchTimeout = 30 * time.Second

// SchemaError reports the first schema-conformance violation of a
// card. It is user-correctable and maps to a 400 at the boundary.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string { return "invalid card: " + e.Message }

// Validator validates cards against the published Adaptive Card
// schema. The schema is fetched and compiled on first use and cached
// for the life of the process; a failed fetch is retried on the next
// call rather than cached.
type Validator struct {
	// SchemaURL overrides the published schema location (tests).
	SchemaURL string
	// Client overrides the HTTP client used for the one-time fetch.
	Client *http.Client

	mu     sync.Mutex
	schema *jsonschema.Schema
}

// Validate checks the card against the schema. It returns a
// *SchemaError when the card does not conform, or a wrapped error when
// the schema itself could not be fetched or compiled.
func (v *Validator) Validate(c Card) error {
	schema, err := v.load()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("card: encode: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("card: decode: %w", err)
	}

	if err := schema.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &SchemaError{Message: firstViolation(ve)}
		}
		return &SchemaError{Message: err.Error()}
	}
	return nil
}

// load returns the cached compiled schema, fetching it when no
// successful fetch has happened yet.
func (v *Validator) load() (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.schema != nil {
		return v.schema, nil
	}

	url := v.SchemaURL
	if url == "" {
		url = SchemaURL
	}
	client := v.Client
	if client == nil {
		client = &http.Client{Timeout: schemaFetchTimeout}
	}

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("card: fetch schema: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("card: fetch schema: HTTP %d", resp.StatusCode)
	}

	doc, err := jsonschema.UnmarshalJSON(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("card: parse schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("card: register schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("card: compile schema: %w", err)
	}
	v.schema = schema
	return schema, nil
}

// firstViolation walks to the deepest first cause and renders it with
// its instance location.
func firstViolation(ve *jsonschema.ValidationError) string {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	printer := message.NewPrinter(language.English)
	msg := leaf.ErrorKind.LocalizedString(printer)
	if len(leaf.InstanceLocation) > 0 {
		return fmt.Sprintf("at /%s: %s", strings.Join(leaf.InstanceLocation, "/"), msg)
	}
	return msg
}
