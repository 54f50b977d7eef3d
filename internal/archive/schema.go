package archive

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schema/metadata.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
	printer        = message.NewPrinter(language.English)
)

func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("error unmarshaling schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource("metadata.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("error adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("metadata.schema.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("error compiling schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// validate checks the manifest against the schema, returning
// the list of violations. The error is reserved for failures
// of the validator itself.
func validate(doc any) ([]string, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, err
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil, nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil, fmt.Errorf("unexpected validation error type: %w", err)
	}

	var issues []string
	collectIssues(ve, &issues)
	if len(issues) == 0 {
		issues = append(issues, ve.Error())
	}
	return issues, nil
}

func collectIssues(ve *jsonschema.ValidationError, issues *[]string) {
	if len(ve.Causes) == 0 {
		path := "/" + strings.Join(ve.InstanceLocation, "/")
		msg := ""
		if ve.ErrorKind != nil {
			msg = ve.ErrorKind.LocalizedString(printer)
		}
		*issues = append(*issues, path+": "+msg)
		return
	}
	for _, cause := range ve.Causes {
		collectIssues(cause, issues)
	}
}
