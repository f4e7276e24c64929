// Package apidoc loads the OpenAPI description of the API and checks it
// against the conventions the server follows.
package apidoc

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const errorResponseRef = "#/components/schemas/ErrorResponse"

var methods = []string{"get", "post", "put", "patch", "delete"}

type Doc struct {
	Paths      map[string]map[string]Operation `yaml:"paths"`
	Components struct {
		Schemas   map[string]Schema   `yaml:"schemas"`
		Responses map[string]Response `yaml:"responses"`
	} `yaml:"components"`
}

type Operation struct {
	Summary   string              `yaml:"summary"`
	Tags      []string            `yaml:"tags"`
	Responses map[string]Response `yaml:"responses"`
}

type Response struct {
	Ref         string               `yaml:"$ref"`
	Description string               `yaml:"description"`
	Content     map[string]MediaType `yaml:"content"`
}

type MediaType struct {
	Schema Schema `yaml:"schema"`
}

type Schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]Schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *Schema           `yaml:"items"`
}

// Load reads and parses an OpenAPI YAML file.
func Load(path string) (Doc, error) {
	var doc Doc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Operations returns every documented operation as "METHOD /path", sorted.
func (d Doc) Operations() []string {
	var out []string
	for path, item := range d.Paths {
		for _, m := range methods {
			if _, ok := item[m]; ok {
				out = append(out, strings.ToUpper(m)+" "+path)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks the error envelope and that every operation is tagged,
// summarized and answers errors with ErrorResponse.
func (d Doc) Validate() error {
	var errs []error
	if err := validateErrorResponse(d.Components.Schemas); err != nil {
		errs = append(errs, err)
	}
	for _, op := range d.Operations() {
		method, path, _ := strings.Cut(op, " ")
		o := d.Paths[path][strings.ToLower(method)]
		if strings.TrimSpace(o.Summary) == "" {
			errs = append(errs, fmt.Errorf("%s: summary missing", op))
		}
		if len(o.Tags) == 0 {
			errs = append(errs, fmt.Errorf("%s: tags missing", op))
		}
		if len(o.Responses) == 0 {
			errs = append(errs, fmt.Errorf("%s: responses missing", op))
		}
		for code, resp := range o.Responses {
			if !isErrorStatus(code) {
				continue
			}
			if err := d.checkErrorResponse(resp); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", op, code, err))
			}
		}
	}
	return errors.Join(errs...)
}

func validateErrorResponse(schemas map[string]Schema) error {
	s, ok := schemas["ErrorResponse"]
	if !ok {
		return errors.New("schema ErrorResponse missing")
	}
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	required := false
	for _, r := range s.Required {
		if r == "error" {
			required = true
		}
	}
	if !required {
		return errors.New(`ErrorResponse.required must include "error"`)
	}
	if prop, ok := s.Properties["error"]; !ok || prop.Type != "string" {
		return errors.New("ErrorResponse.error must be string")
	}
	return nil
}

func (d Doc) checkErrorResponse(resp Response) error {
	if resp.Ref != "" {
		name, ok := strings.CutPrefix(resp.Ref, "#/components/responses/")
		if !ok {
			return fmt.Errorf("unsupported response ref %q", resp.Ref)
		}
		shared, ok := d.Components.Responses[name]
		if !ok {
			return fmt.Errorf("response %q not defined", name)
		}
		resp = shared
	}
	media, ok := resp.Content["application/json"]
	if !ok {
		return errors.New("error response must be application/json")
	}
	if media.Schema.Ref != errorResponseRef {
		return fmt.Errorf("error response must reference ErrorResponse, got %q", media.Schema.Ref)
	}
	return nil
}

func isErrorStatus(code string) bool {
	return len(code) == 3 && (code[0] == '4' || code[0] == '5')
}
