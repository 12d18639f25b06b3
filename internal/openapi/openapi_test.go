package openapi

import (
	"testing"

	"github.com/anthony/grpc-rest-gateway/internal/catalog"
	"github.com/anthony/grpc-rest-gateway/internal/router"

	annotations "google.golang.org/genproto/googleapis/api/annotations"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

func strp(s string) *string { return &s }

func buildTable(t *testing.T) *router.Table {
	t.Helper()
	opts := &descriptorpb.MethodOptions{}
	proto.SetExtension(opts, annotations.E_Http, &annotations.HttpRule{
		Pattern: &annotations.HttpRule_Get{Get: "/v1/items/{id}"},
	})
	fd := &descriptorpb.FileDescriptorProto{
		Name:    strp("demo.proto"),
		Package: strp("demo"),
		Syntax:  strp("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: strp("Req"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:   strp("id"),
						Number: proto.Int32(1),
						Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
						Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					},
				},
			},
			{
				Name: strp("Rep"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:   strp("name"),
						Number: proto.Int32(1),
						Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
						Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					},
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: strp("Demo"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       strp("Get"),
						InputType:  strp(".demo.Req"),
						OutputType: strp(".demo.Rep"),
						Options:    opts,
					},
				},
			},
		},
	}
	fds := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{fd}}
	blob, err := proto.Marshal(fds)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	cat, err := catalog.Build(blob, false)
	if err != nil {
		t.Fatalf("catalog.Build: %v", err)
	}
	table, err := router.Synthesize(cat, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	return table
}

func TestGenerateIncludesPathAndDefinitions(t *testing.T) {
	table := buildTable(t)
	doc := Generate(table, Info{Title: "demo", Version: "v1"}, "localhost", "/")

	item, ok := doc.Paths["/v1/items/{id}"]
	if !ok {
		t.Fatalf("expected path /v1/items/{id} in %v", doc.Paths)
	}
	op, ok := item["get"]
	if !ok {
		t.Fatalf("expected a GET operation")
	}
	if len(op.Parameters) != 1 || op.Parameters[0].Name != "id" || op.Parameters[0].In != "path" {
		t.Errorf("parameters = %+v", op.Parameters)
	}
	if _, ok := doc.Definitions["demo.Req"]; !ok {
		t.Errorf("expected demo.Req in definitions: %v", doc.Definitions)
	}
	if _, ok := doc.Definitions["demo.Rep"]; !ok {
		t.Errorf("expected demo.Rep in definitions: %v", doc.Definitions)
	}
}
