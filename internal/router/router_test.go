package router

import (
	"testing"

	"github.com/anthony/grpc-rest-gateway/internal/catalog"

	annotations "google.golang.org/genproto/googleapis/api/annotations"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

func strp(s string) *string { return &s }

func methodOpts(t *testing.T, hr *annotations.HttpRule) *descriptorpb.MethodOptions {
	t.Helper()
	opts := &descriptorpb.MethodOptions{}
	proto.SetExtension(opts, annotations.E_Http, hr)
	return opts
}

func buildCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	fd := &descriptorpb.FileDescriptorProto{
		Name:    strp("demo.proto"),
		Package: strp("demo"),
		Syntax:  strp("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: strp("Req"), Field: []*descriptorpb.FieldDescriptorProto{
				{
					Name:   strp("id"),
					Number: proto.Int32(1),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
				},
				{
					Name:   strp("key"),
					Number: proto.Int32(2),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
				},
			}},
			{Name: strp("Rep")},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: strp("Demo"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       strp("Get"),
						InputType:  strp(".demo.Req"),
						OutputType: strp(".demo.Rep"),
						Options: methodOpts(t, &annotations.HttpRule{
							Pattern: &annotations.HttpRule_Get{Get: "/v1/items/{id}"},
						}),
					},
					{
						// Same verb and same canonical shape as Get (only the
						// variable name differs) - this must lose the
						// conflict and be dropped.
						Name:       strp("GetAgain"),
						InputType:  strp(".demo.Req"),
						OutputType: strp(".demo.Rep"),
						Options: methodOpts(t, &annotations.HttpRule{
							Pattern: &annotations.HttpRule_Get{Get: "/v1/items/{key}"},
						}),
					},
					{
						Name:       strp("Create"),
						InputType:  strp(".demo.Req"),
						OutputType: strp(".demo.Rep"),
						Options: methodOpts(t, &annotations.HttpRule{
							Pattern: &annotations.HttpRule_Post{Post: "/v1/items"},
							Body:    "*",
						}),
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
	return cat
}

func TestSynthesizeDropsColliderKeepsEarlierRoute(t *testing.T) {
	cat := buildCatalog(t)
	table, err := Synthesize(cat, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(table.Routes) != 2 {
		t.Fatalf("expected 2 routes after collision is dropped, got %d", len(table.Routes))
	}
	for _, r := range table.Routes {
		if r.Method.Name == "GetAgain" {
			t.Errorf("expected the colliding GetAgain route to be dropped")
		}
	}
}

func TestSynthesizeDropsRouteWithUnboundPathVariable(t *testing.T) {
	fd := &descriptorpb.FileDescriptorProto{
		Name:    strp("bad.proto"),
		Package: strp("bad"),
		Syntax:  strp("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: strp("Req"), Field: []*descriptorpb.FieldDescriptorProto{
				{
					Name:   strp("id"),
					Number: proto.Int32(1),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
				},
			}},
			{Name: strp("Rep")},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: strp("Bad"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       strp("Get"),
						InputType:  strp(".bad.Req"),
						OutputType: strp(".bad.Rep"),
						Options: methodOpts(t, &annotations.HttpRule{
							// "typo" names no field of Req, which only has "id".
							Pattern: &annotations.HttpRule_Get{Get: "/v1/items/{typo}"},
						}),
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

	table, err := Synthesize(cat, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(table.Routes) != 0 {
		t.Fatalf("expected the malformed route to be dropped, got %d routes", len(table.Routes))
	}
}

func TestTableMatchBindsPathVariable(t *testing.T) {
	cat := buildCatalog(t)
	table, err := Synthesize(cat, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	route, vars, ok := table.Match("GET", "/v1/items/42")
	if !ok {
		t.Fatalf("expected a match for GET /v1/items/42")
	}
	if route.Method.Name != "Get" {
		t.Errorf("matched method = %q, want Get", route.Method.Name)
	}
	if vars["id"] != "42" {
		t.Errorf("vars[id] = %q, want 42", vars["id"])
	}
}

func TestTableMatchNoneForUnknownPath(t *testing.T) {
	cat := buildCatalog(t)
	table, err := Synthesize(cat, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if _, _, ok := table.Match("DELETE", "/v1/items/42"); ok {
		t.Errorf("expected no match for an unbound verb")
	}
}

func TestPublisherSwapIsVisibleImmediately(t *testing.T) {
	cat := buildCatalog(t)
	table, err := Synthesize(cat, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	var pub Publisher
	if pub.Load() != nil {
		t.Fatalf("expected nil before first publish")
	}
	pub.Publish(table)
	if pub.Load() != table {
		t.Errorf("expected Load to return the just-published table")
	}
}
