package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/srushti98/trpc-openapi/pkg/procedure"
	"github.com/srushti98/trpc-openapi/pkg/rpcerr"
	"github.com/srushti98/trpc-openapi/pkg/schema"
)

// bodyMethods carry JSON bodies; every other method reads the query string.
var bodyMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// assemble builds the input document for one request: query or body fields
// first, path parameters overlaid on top, then string values coerced to
// their declared primitive kinds. Procedures without an input shape get nil
// and the request payload is ignored entirely.
func (g *Gateway) assemble(w http.ResponseWriter, r *http.Request, desc *procedure.Descriptor, params map[string]string) (map[string]any, error) {
	if desc.Input == nil {
		return nil, nil
	}

	var input map[string]any
	if bodyMethods[r.Method] {
		body, err := g.readBody(w, r)
		if err != nil {
			return nil, err
		}
		input = body
	} else {
		input = fromQuery(r.URL.Query())
	}

	// Path parameters win over query and body fields of the same name.
	for name, value := range params {
		input[name] = value
	}

	g.coerce(desc.ID, input)
	return input, nil
}

// readBody decodes a JSON object body. An absent, empty, or null body is an
// empty object. Anything that is valid JSON but not an object is a parse
// failure, and bodies over the configured limit surface as payload-too-large.
func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	if contentType := r.Header.Get("Content-Type"); contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != "application/json" {
			return nil, rpcerr.New(rpcerr.CodeUnsupportedMedia,
				fmt.Sprintf("unsupported content type: %s", contentType))
		}
	}

	reader := http.MaxBytesReader(w, r.Body, g.opts.MaxBodyBytes)
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, rpcerr.Wrap(err, rpcerr.CodeBadRequest, "failed to read request body")
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}

	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, rpcerr.Wrap(err, rpcerr.CodeParse, "request body is not a JSON object")
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}

// fromQuery flattens url.Values: single values become strings, repeated
// keys become lists.
func fromQuery(values url.Values) map[string]any {
	input := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 1 {
			input[key] = vals[0]
			continue
		}
		list := make([]any, 0, len(vals))
		for _, v := range vals {
			list = append(list, v)
		}
		input[key] = list
	}
	return input
}

// coerce applies the cached coercion plan. Raw strings that parse as the
// declared primitive are replaced in place; values that do not parse stay
// untouched for the validator to report. A single string under a declared
// list kind always becomes a one-element list.
func (g *Gateway) coerce(procID string, input map[string]any) {
	plan := g.plans[procID]
	if plan == nil {
		return
	}

	for name, kind := range plan {
		value, present := input[name]
		if !present {
			continue
		}

		switch typed := value.(type) {
		case string:
			if elem, isList := kind.Elem(); isList {
				if converted, ok := schema.Coerce(typed, elem); ok {
					input[name] = []any{converted}
				} else {
					input[name] = []any{typed}
				}
				continue
			}
			if converted, ok := schema.Coerce(typed, kind); ok {
				input[name] = converted
			}
		case []any:
			elem, isList := kind.Elem()
			if !isList {
				continue
			}
			converted := make([]any, len(typed))
			for i, item := range typed {
				str, isString := item.(string)
				if !isString {
					converted[i] = item
					continue
				}
				if c, ok := schema.Coerce(str, elem); ok {
					converted[i] = c
				} else {
					converted[i] = str
				}
			}
			input[name] = converted
		}
	}
}
