package buildhttp

import (
	"fmt"
	"strings"

	"github.com/k11v/buildbox/internal/build"
	"github.com/k11v/buildbox/internal/image"
	"github.com/k11v/buildbox/internal/workspace"
)

// ValidationError describes one invalid field of a request body.
// Loc is the path to the field, made of object keys and list indices.
type ValidationError struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// ValidationErrors is the list of invalid fields returned to the caller.
type ValidationErrors []*ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		loc := make([]string, 0, len(e.Loc))
		for _, l := range e.Loc {
			loc = append(loc, fmt.Sprint(l))
		}
		parts = append(parts, strings.Join(loc, ".")+": "+e.Msg)
	}
	return "invalid request body: " + strings.Join(parts, "; ")
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(loc []any, msg, typ string) {
	v.errs = append(v.errs, &ValidationError{Loc: loc, Msg: msg, Type: typ})
}

func at(loc []any, next any) []any {
	return append(append(make([]any, 0, len(loc)+1), loc...), next)
}

func (v *validator) object(loc []any, value any) (map[string]any, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		v.add(loc, "Input should be a valid dictionary", "dict_type")
	}
	return m, ok
}

func (v *validator) field(loc []any, m map[string]any, key string) (any, bool) {
	value, ok := m[key]
	if !ok {
		v.add(at(loc, key), "Field required", "missing")
	}
	return value, ok
}

func (v *validator) str(loc []any, m map[string]any, key string) (string, bool) {
	value, ok := v.field(loc, m, key)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	if !ok {
		v.add(at(loc, key), "Input should be a valid string", "string_type")
	}
	return s, ok
}

// validateBuildRequest checks a decoded POST /build body and converts it to
// submit parameters. All invalid fields are reported, not just the first one.
func validateBuildRequest(body any) (*build.SubmitParams, error) {
	v := &validator{}
	params := &build.SubmitParams{}

	root, ok := v.object(nil, body)
	if !ok {
		return nil, v.errs
	}

	if value, ok := v.field(nil, root, "image"); ok {
		loc := []any{"image"}
		if m, ok := v.object(loc, value); ok {
			repository, ok := v.str(loc, m, "repository")
			if ok && repository == "" {
				v.add(at(loc, "repository"), "String should have at least 1 character", "string_too_short")
			}
			tag, _ := v.str(loc, m, "tag")
			params.Image = image.Ref{Repository: repository, Tag: tag}
		}
	}

	if value, ok := v.field(nil, root, "sources"); ok {
		loc := []any{"sources"}
		if list, ok := value.([]any); !ok {
			v.add(loc, "Input should be a valid list", "list_type")
		} else {
			params.Sources = make([]*workspace.Source, 0, len(list))
			for i, item := range list {
				itemLoc := at(loc, i)
				m, ok := v.object(itemLoc, item)
				if !ok {
					continue
				}
				name, nameOK := v.str(itemLoc, m, "name")
				if nameOK {
					if err := workspace.ValidateName(name); err != nil {
						v.add(at(itemLoc, "name"), "Value error, "+err.Error(), "value_error")
					}
				}
				content, _ := v.str(itemLoc, m, "content")
				params.Sources = append(params.Sources, &workspace.Source{Name: name, Content: content})
			}
		}
	}

	if config, ok := v.str(nil, root, "config"); ok {
		params.Config = config
	}

	if len(v.errs) > 0 {
		return nil, v.errs
	}
	return params, nil
}
