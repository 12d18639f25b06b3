// Package router synthesizes an HTTP route table from a descriptor catalog
// and publishes it atomically so an in-flight request always sees one
// consistent table, with no partial-rebuild window (spec §4.5, §9).
package router

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/anthony/grpc-rest-gateway/internal/binding"
	"github.com/anthony/grpc-rest-gateway/internal/catalog"
	"github.com/anthony/grpc-rest-gateway/internal/httprule"

	"go.uber.org/zap"
)

// Route is one synthesized HTTP-to-RPC mapping.
type Route struct {
	Verb         string
	Template     *httprule.Template
	Body         string
	ResponseBody string

	FullMethod string // "/package.Service/Method", the gRPC wire name
	Service    *catalog.ServiceType
	Method     *catalog.MethodDescriptor
	Input      *catalog.MessageType
	Output     *catalog.MessageType
}

// Table is one immutable, published snapshot of synthesized routes.
type Table struct {
	Routes []*Route
}

// key identifies routes that would collide at dispatch time: same verb,
// same canonical URL shape, irrespective of variable names.
type key struct {
	verb string
	tmpl string
}

// Synthesize walks every service and method of cat in catalog order,
// extracts HTTP bindings, and compiles a Table. When two routes collide on
// (verb, canonical template), the earlier-declared route wins and the
// collision is logged; it does not abort synthesis.
func Synthesize(cat *catalog.Catalog, logger *zap.Logger) (*Table, error) {
	var routes []*Route
	seen := make(map[key]*Route)

	fileNames := make([]string, 0, len(cat.Files))
	for name := range cat.Files {
		fileNames = append(fileNames, name)
	}
	// Catalog.Files is keyed by package name with no declared ordering
	// guarantee beyond map iteration; sort for deterministic synthesis so
	// route conflicts resolve the same way on every run.
	sort.Strings(fileNames)

	for _, name := range fileNames {
		fe := cat.Files[name]
		for _, svc := range fe.Services {
			for _, method := range svc.Methods {
				rules, err := binding.Extract(method)
				if err != nil {
					return nil, fmt.Errorf("router: service %s method %s: %w", svc.FQN, method.Name, err)
				}
				input, _ := cat.LookupMessage(method.InputFQN)
				output, _ := cat.LookupMessage(method.OutputFQN)
				for _, rule := range rules {
					route := &Route{
						Verb:         rule.Verb,
						Template:     rule.Template,
						Body:         rule.Body,
						ResponseBody: rule.ResponseBody,
						FullMethod:   svc.FullMethodName(method),
						Service:      svc,
						Method:       method,
						Input:        input,
						Output:       output,
					}
					if bad := unboundVar(route); bad != "" {
						if logger != nil {
							logger.Warn("route dropped: path variable not a field of the input message",
								zap.String("verb", route.Verb),
								zap.String("path", route.Template.Raw),
								zap.String("method", route.FullMethod),
								zap.String("variable", bad),
							)
						}
						continue
					}

					k := key{verb: route.Verb, tmpl: route.Template.Key()}
					if existing, conflict := seen[k]; conflict {
						if logger != nil {
							logger.Warn("route conflict: keeping earlier binding",
								zap.String("verb", route.Verb),
								zap.String("path", route.Template.Raw),
								zap.String("kept_method", existing.FullMethod),
								zap.String("dropped_method", route.FullMethod),
							)
						}
						continue
					}
					seen[k] = route
					routes = append(routes, route)
				}
			}
		}
	}

	return &Table{Routes: routes}, nil
}

// unboundVar reports the first template path variable that does not name a
// field of route's input message, or "" if every variable is bound. A
// route failing this is a malformed google.api.http annotation: binding it
// anyway would leave codec.Decode silently skipping the variable instead
// of populating the field the RPC expects.
func unboundVar(route *Route) string {
	if route.Input == nil {
		if len(route.Template.Vars) > 0 {
			return route.Template.Vars[0]
		}
		return ""
	}
	fields := make(map[string]bool, len(route.Input.Fields))
	for _, f := range route.Input.Fields {
		fields[f.Name] = true
	}
	for _, v := range route.Template.Vars {
		if !fields[v] {
			return v
		}
	}
	return ""
}

// Match finds the first route whose verb and template match the given
// method and path, in synthesis order, and returns the bound path
// variables.
func (t *Table) Match(verb, path string) (*Route, map[string]string, bool) {
	for _, r := range t.Routes {
		if r.Verb != verb {
			continue
		}
		if vars, ok := r.Template.Match(path); ok {
			return r, vars, true
		}
	}
	return nil, nil, false
}

// Publisher holds the currently live Table behind an atomic pointer so
// readers never observe a half-built rebuild.
type Publisher struct {
	current atomic.Pointer[Table]
}

// Publish swaps in a newly synthesized table.
func (p *Publisher) Publish(t *Table) {
	p.current.Store(t)
}

// Load returns the currently published table, or nil if none has been
// published yet.
func (p *Publisher) Load() *Table {
	return p.current.Load()
}
