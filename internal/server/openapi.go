package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/srushti98/trpc-openapi/pkg/pgstore"
	"github.com/srushti98/trpc-openapi/pkg/schema"
)

// openAPI3 types for rendering the route table as a spec document.
type openAPI3Document struct {
	OpenAPI string                                   `json:"openapi"`
	Info    openAPI3Info                             `json:"info"`
	Servers []openAPI3Server                         `json:"servers,omitempty"`
	Paths   map[string]map[string]*openAPI3Operation `json:"paths"`
}

type openAPI3Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

type openAPI3Server struct {
	URL string `json:"url"`
}

type openAPI3Operation struct {
	Summary     string                      `json:"summary,omitempty"`
	Description string                      `json:"description,omitempty"`
	OperationID string                      `json:"operationId"`
	Parameters  []openAPI3Parameter         `json:"parameters,omitempty"`
	RequestBody *openAPI3RequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]openAPI3Response `json:"responses"`
}

type openAPI3Parameter struct {
	Name     string         `json:"name"`
	In       string         `json:"in"`
	Required bool           `json:"required,omitempty"`
	Schema   map[string]any `json:"schema,omitempty"`
}

type openAPI3RequestBody struct {
	Content map[string]openAPI3MediaType `json:"content"`
}

type openAPI3Response struct {
	Description string                       `json:"description"`
	Content     map[string]openAPI3MediaType `json:"content,omitempty"`
}

type openAPI3MediaType struct {
	Schema any `json:"schema,omitempty"`
}

var bodyMethods = map[string]bool{
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// errorResponse is the default-response shape every operation shares.
var errorResponse = openAPI3Response{
	Description: "Error",
	Content: map[string]openAPI3MediaType{
		"application/json": {Schema: map[string]any{
			"type":     "object",
			"required": []string{"message", "code"},
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
				"code":    map[string]any{"type": "string"},
				"issues": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"field":   map[string]any{"type": "string"},
							"message": map[string]any{"type": "string"},
						},
					},
				},
			},
		}},
	},
}

// buildOpenAPIDocument renders the definition table as an OpenAPI 3.0
// document. Paths keep their brace parameters and operations key by
// lowercased method, so one path can carry several operations.
func buildOpenAPIDocument(defs []pgstore.Definition, shapes map[string]schema.Shape, title, basePath string) *openAPI3Document {
	paths := make(map[string]map[string]*openAPI3Operation)
	for i := range defs {
		def := &defs[i]
		item, ok := paths[def.Path]
		if !ok {
			item = make(map[string]*openAPI3Operation)
			paths[def.Path] = item
		}
		item[strings.ToLower(def.Method)] = operationFor(def, shapes[def.ID])
	}

	doc := &openAPI3Document{
		OpenAPI: "3.0.0",
		Info: openAPI3Info{
			Title:       title,
			Description: "REST routes dispatching to bus procedures",
			Version:     "1.0.0",
		},
		Paths: paths,
	}
	if basePath != "" {
		doc.Servers = []openAPI3Server{{URL: basePath}}
	}
	return doc
}

func operationFor(def *pgstore.Definition, shape schema.Shape) *openAPI3Operation {
	op := &openAPI3Operation{
		Summary:     def.ID,
		Description: def.Description,
		OperationID: def.ID,
		Responses:   responsesFor(def),
	}

	bound := make(map[string]bool)
	for _, name := range pathParams(def.Path) {
		bound[name] = true
		op.Parameters = append(op.Parameters, openAPI3Parameter{
			Name:     name,
			In:       "path",
			Required: true,
			Schema:   map[string]any{"type": "string"},
		})
	}

	if bodyMethods[def.Method] {
		if len(def.InputSchema) > 0 {
			op.RequestBody = &openAPI3RequestBody{
				Content: map[string]openAPI3MediaType{
					"application/json": {Schema: def.InputSchema},
				},
			}
		}
		return op
	}

	// Query-state methods surface the declared fields as query parameters.
	if shape != nil {
		for _, field := range shape.Fields() {
			if bound[field.Name] {
				continue
			}
			op.Parameters = append(op.Parameters, openAPI3Parameter{
				Name:   field.Name,
				In:     "query",
				Schema: parameterSchema(field.Kind),
			})
		}
	}
	return op
}

func responsesFor(def *pgstore.Definition) map[string]openAPI3Response {
	success := openAPI3Response{
		Description: "Success",
		Content: map[string]openAPI3MediaType{
			"application/json": {Schema: map[string]any{}},
		},
	}
	if def.Kind == "subscription" {
		success.Content = map[string]openAPI3MediaType{
			"text/event-stream": {Schema: map[string]any{"type": "string"}},
		}
	}
	return map[string]openAPI3Response{
		"200":     success,
		"default": errorResponse,
	}
}

func parameterSchema(kind schema.Kind) map[string]any {
	switch kind {
	case schema.KindString:
		return map[string]any{"type": "string"}
	case schema.KindNumber:
		return map[string]any{"type": "number"}
	case schema.KindBoolean:
		return map[string]any{"type": "boolean"}
	case schema.KindStringList, schema.KindNumberList, schema.KindBooleanList:
		elem, _ := kind.Elem()
		return map[string]any{"type": "array", "items": parameterSchema(elem)}
	default:
		return map[string]any{}
	}
}

// pathParams lists the brace parameters of a path template in order.
func pathParams(path string) []string {
	var params []string
	for _, part := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2 {
			params = append(params, part[1:len(part)-1])
		}
	}
	return params
}

// handleOpenAPI serves the document built at startup.
func handleOpenAPI(doc *openAPI3Document) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=60")
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			slog.Error(fmt.Sprintf("%s - openapi json encode: %v", logPrefix, err))
		}
	}
}

// swaggerUIPage is the HTML that embeds Swagger UI from CDN and loads the OpenAPI spec.
const swaggerUIPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>API – {{.Title}}</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function() {
      SwaggerUIBundle({
        url: "{{.SpecURL}}",
        dom_id: "#swagger-ui",
        presets: [
          SwaggerUIBundle.presets.apis,
          SwaggerUIBundle.SwaggerUIStandalonePreset
        ]
      });
    };
  </script>
</body>
</html>
`

// handleDocs serves a Swagger UI page pointing at /openapi.json.
func handleDocs(title string) http.HandlerFunc {
	tmpl := template.Must(template.New("swagger").Parse(swaggerUIPage))
	return func(w http.ResponseWriter, r *http.Request) {
		// Build an absolute spec URL from the request host so Swagger UI
		// can fetch it.
		specURL := "https://" + r.Host + "/openapi.json"
		if r.TLS == nil {
			specURL = "http://" + r.Host + "/openapi.json"
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		tmpl.Execute(w, map[string]string{"Title": title, "SpecURL": specURL})
	}
}
