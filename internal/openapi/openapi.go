// Package openapi generates the OpenAPI (Swagger 2.0) document describing a
// synthesized Route Table, reachable transitively from every route's input
// and output message, with descriptions pulled from catalog nodes' folded
// comments (spec §4.5).
package openapi

import (
	"sort"
	"sync/atomic"

	"github.com/anthony/grpc-rest-gateway/internal/catalog"
	"github.com/anthony/grpc-rest-gateway/internal/router"

	"google.golang.org/protobuf/types/descriptorpb"
)

// Publisher holds the currently live Document behind an atomic pointer,
// published in lockstep with the route table it describes.
type Publisher struct {
	current atomic.Pointer[Document]
}

// Publish swaps in a newly generated document.
func (p *Publisher) Publish(d *Document) {
	p.current.Store(d)
}

// Load returns the currently published document, or nil if none has been
// published yet.
func (p *Publisher) Load() *Document {
	return p.current.Load()
}

// Info populates the document's top-level "info" object.
type Info struct {
	Title       string
	Version     string
	Description string
}

// Document is a Swagger 2.0 document, serialized as-is via encoding/json.
type Document struct {
	Swagger     string                 `json:"swagger"`
	Info        infoObject             `json:"info"`
	Host        string                 `json:"host,omitempty"`
	BasePath    string                 `json:"basePath,omitempty"`
	Schemes     []string               `json:"schemes,omitempty"`
	Consumes    []string               `json:"consumes,omitempty"`
	Produces    []string               `json:"produces,omitempty"`
	Paths       map[string]PathItem    `json:"paths"`
	Definitions map[string]*Schema     `json:"definitions,omitempty"`
}

type infoObject struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// PathItem maps an HTTP method name ("get", "post", ...) to its Operation.
type PathItem map[string]*Operation

// Operation describes one HTTP verb on one path.
type Operation struct {
	Summary     string               `json:"summary,omitempty"`
	OperationID string               `json:"operationId"`
	Parameters  []Parameter          `json:"parameters,omitempty"`
	Responses   map[string]*Response `json:"responses"`
}

// Parameter is one path, query, or body parameter.
type Parameter struct {
	Name     string  `json:"name"`
	In       string  `json:"in"`
	Required bool    `json:"required,omitempty"`
	Type     string  `json:"type,omitempty"`
	Format   string  `json:"format,omitempty"`
	Schema   *Schema `json:"schema,omitempty"`
}

// Response is one status-code response entry.
type Response struct {
	Description string  `json:"description"`
	Schema      *Schema `json:"schema,omitempty"`
}

// Schema is a (deliberately partial) JSON-Schema-compatible node: either a
// $ref, a scalar type+format, or an object/array with nested properties.
type Schema struct {
	Ref         string             `json:"$ref,omitempty"`
	Type        string             `json:"type,omitempty"`
	Format      string             `json:"format,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

// Generate builds a Document from a synthesized Route Table. info supplies
// the document's title/version/description; basePath and host are passed
// straight through to the top-level document fields.
func Generate(table *router.Table, info Info, host, basePath string) *Document {
	doc := &Document{
		Swagger: "2.0",
		Info: infoObject{
			Title:       info.Title,
			Version:     info.Version,
			Description: info.Description,
		},
		Host:        host,
		BasePath:    basePath,
		Schemes:     []string{"http", "https"},
		Consumes:    []string{"application/json"},
		Produces:    []string{"application/json"},
		Paths:       make(map[string]PathItem),
		Definitions: make(map[string]*Schema),
	}

	reachable := make(map[string]*catalog.MessageType)
	for _, route := range table.Routes {
		addPath(doc, route)
		collectReachable(route.Input, reachable)
		collectReachable(route.Output, reachable)
	}
	for fqn, msg := range reachable {
		doc.Definitions[fqn] = messageSchema(msg)
	}
	return doc
}

func addPath(doc *Document, route *router.Route) {
	item, ok := doc.Paths[route.Template.Raw]
	if !ok {
		item = PathItem{}
		doc.Paths[route.Template.Raw] = item
	}

	op := &Operation{
		Summary:     route.Method.Description,
		OperationID: route.Service.Name + "_" + route.Method.Name,
		Responses: map[string]*Response{
			"200": {
				Description: "OK",
				Schema:      refSchema(route.Output),
			},
		},
	}

	bound := make(map[string]bool)
	for _, v := range route.Template.Vars {
		op.Parameters = append(op.Parameters, Parameter{
			Name: v, In: "path", Required: true, Type: "string",
		})
		bound[v] = true
	}

	switch route.Body {
	case "*":
		op.Parameters = append(op.Parameters, Parameter{
			Name: "body", In: "body", Required: true, Schema: refSchema(route.Input),
		})
		if route.Input != nil {
			for _, f := range route.Input.Fields {
				bound[f.Name] = true
			}
		}
	case "":
		// No body: every unbound scalar input field is a query parameter.
	default:
		op.Parameters = append(op.Parameters, Parameter{
			Name: "body", In: "body", Required: true,
		})
		bound[route.Body] = true
	}

	if route.Input != nil {
		fields := append([]*catalog.Field(nil), route.Input.Fields...)
		sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
		for _, f := range fields {
			if bound[f.Name] || f.ResolvedMessage != nil {
				continue
			}
			op.Parameters = append(op.Parameters, Parameter{
				Name: f.Name, In: "query", Type: scalarType(f),
			})
		}
	}

	item[verbToMethod(route.Verb)] = op
}

func verbToMethod(verb string) string {
	switch verb {
	case "GET":
		return "get"
	case "PUT":
		return "put"
	case "POST":
		return "post"
	case "DELETE":
		return "delete"
	case "PATCH":
		return "patch"
	default:
		return "get"
	}
}

func refSchema(msg *catalog.MessageType) *Schema {
	if msg == nil {
		return nil
	}
	return &Schema{Ref: "#/definitions/" + msg.FQN}
}

func collectReachable(msg *catalog.MessageType, out map[string]*catalog.MessageType) {
	if msg == nil {
		return
	}
	if _, ok := out[msg.FQN]; ok {
		return
	}
	out[msg.FQN] = msg
	for _, f := range msg.Fields {
		if f.ResolvedMessage != nil {
			collectReachable(f.ResolvedMessage, out)
		}
	}
}

func messageSchema(msg *catalog.MessageType) *Schema {
	s := &Schema{Type: "object", Description: msg.Description, Properties: make(map[string]*Schema)}
	for _, f := range msg.Fields {
		s.Properties[f.JSONName] = fieldSchema(f)
	}
	return s
}

func fieldSchema(f *catalog.Field) *Schema {
	var item *Schema
	switch {
	case f.ResolvedMessage != nil:
		item = refSchema(f.ResolvedMessage)
	case f.ResolvedEnum != nil:
		item = &Schema{Type: "string", Description: f.Description}
	default:
		typ, format := swaggerScalar(f.Type)
		item = &Schema{Type: typ, Format: format}
	}
	item.Description = f.Description
	if f.Repeated() {
		return &Schema{Type: "array", Items: item, Description: f.Description}
	}
	return item
}

func scalarType(f *catalog.Field) string {
	if f.ResolvedEnum != nil {
		return "string"
	}
	typ, _ := swaggerScalar(f.Type)
	return typ
}

func swaggerScalar(t descriptorpb.FieldDescriptorProto_Type) (string, string) {
	switch t {
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		return "string", ""
	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		return "string", "byte"
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		return "boolean", ""
	case descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		return "number", "float"
	case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		return "number", "double"
	case descriptorpb.FieldDescriptorProto_TYPE_INT64,
		descriptorpb.FieldDescriptorProto_TYPE_SINT64,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED64,
		descriptorpb.FieldDescriptorProto_TYPE_UINT64,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
		return "string", "int64"
	default:
		return "integer", "int32"
	}
}
