// Package binding extracts google.api.http HTTP mapping rules from RPC
// method options (spec §4.2).
package binding

import (
	"strings"

	"github.com/anthony/grpc-rest-gateway/internal/catalog"
	"github.com/anthony/grpc-rest-gateway/internal/httprule"

	annotations "google.golang.org/genproto/googleapis/api/annotations"
	"google.golang.org/protobuf/proto"
)

// Rule is one HTTP binding for a method: a verb, a compiled URL template
// and a body selector ("" = no body, "*" = whole request, "<field>" = one
// field).
type Rule struct {
	Verb         string
	Template     *httprule.Template
	Body         string
	ResponseBody string
}

// Extract returns every HTTP binding declared on a method, including
// additional_bindings, in declaration order. A method with no
// google.api.http extension yields a nil, nil result - not an error.
func Extract(md *catalog.MethodDescriptor) ([]Rule, error) {
	if md.Options == nil {
		return nil, nil
	}
	if !proto.HasExtension(md.Options, annotations.E_Http) {
		return nil, nil
	}
	ext := proto.GetExtension(md.Options, annotations.E_Http)
	httpRule, ok := ext.(*annotations.HttpRule)
	if !ok || httpRule == nil {
		return nil, nil
	}

	var rules []Rule
	if r, err := ruleFrom(httpRule); err != nil {
		return nil, err
	} else if r != nil {
		rules = append(rules, *r)
	}
	for _, additional := range httpRule.GetAdditionalBindings() {
		r, err := ruleFrom(additional)
		if err != nil {
			return nil, err
		}
		if r != nil {
			rules = append(rules, *r)
		}
	}
	return rules, nil
}

func ruleFrom(hr *annotations.HttpRule) (*Rule, error) {
	var verb, path string
	switch p := hr.GetPattern().(type) {
	case *annotations.HttpRule_Get:
		verb, path = "GET", p.Get
	case *annotations.HttpRule_Put:
		verb, path = "PUT", p.Put
	case *annotations.HttpRule_Post:
		verb, path = "POST", p.Post
	case *annotations.HttpRule_Delete:
		verb, path = "DELETE", p.Delete
	case *annotations.HttpRule_Patch:
		verb, path = "PATCH", p.Patch
	case *annotations.HttpRule_Custom:
		verb = strings.ToUpper(p.Custom.GetKind())
		path = p.Custom.GetPath()
	default:
		// No pattern specified: the method contributes no route.
		return nil, nil
	}

	tmpl, err := httprule.Parse(path)
	if err != nil {
		return nil, err
	}
	return &Rule{
		Verb:         verb,
		Template:     tmpl,
		Body:         hr.GetBody(),
		ResponseBody: hr.GetResponseBody(),
	}, nil
}
