// Package catalog builds a navigable, comment-annotated schema tree from a
// protobuf descriptor blob (a FileDescriptorSet or a CodeGeneratorRequest).
package catalog

import (
	"google.golang.org/protobuf/types/descriptorpb"
)

// Catalog maps a protobuf package name to the FileEntry that declares it.
// Files sharing a package overwrite earlier entries; the caller upstream is
// responsible for de-duplicating source files.
type Catalog struct {
	Files map[string]*FileEntry

	messagesByFQN map[string]*MessageType
	enumsByFQN    map[string]*EnumType
}

// FileEntry mirrors one FileDescriptorProto's shape.
type FileEntry struct {
	Name        string
	Package     string
	Proto       *descriptorpb.FileDescriptorProto
	Messages    []*MessageType
	Enums       []*EnumType
	Services    []*ServiceType
	Description string

	// nodesByPath maps a SourceCodeInfo path (alternating field-number /
	// element-index, comma-joined) to the Description field of the schema
	// node it addresses. Populated while the tree is built, consumed once
	// by fold, then discarded.
	nodesByPath map[string]*string
}

// MessageType describes one protobuf message. Field numbers are unique
// within a message and field names are unique within a message; reserved
// ranges are stored on Proto but not otherwise enforced.
type MessageType struct {
	Name        string
	FQN         string
	Fields      []*Field
	Nested      []*MessageType
	NestedEnums []*EnumType
	Description string
	Proto       *descriptorpb.DescriptorProto
}

// Field describes one message field. If the field's declared type is a
// message or enum reference that does not resolve within the catalog when
// it is built, ResolvedMessage and ResolvedEnum are nil and Opaque is true:
// the field is treated as bytes-opaque by the codec.
type Field struct {
	Name        string
	Number      int32
	Label       descriptorpb.FieldDescriptorProto_Label
	Type        descriptorpb.FieldDescriptorProto_Type
	TypeName    string // fully-qualified, leading dot stripped
	JSONName    string
	Description string

	ResolvedMessage *MessageType
	ResolvedEnum    *EnumType
	Opaque          bool
}

// Repeated reports whether the field is declared `repeated`.
func (f *Field) Repeated() bool {
	return f.Label == descriptorpb.FieldDescriptorProto_LABEL_REPEATED
}

// EnumType describes one protobuf enum.
type EnumType struct {
	Name        string
	FQN         string
	Values      []*EnumValue
	Description string
}

// EnumValue is one (name, number) pair of an EnumType.
type EnumValue struct {
	Name        string
	Number      int32
	Description string
}

// ServiceType describes one gRPC service.
type ServiceType struct {
	Name        string
	FQN         string
	Methods     []*MethodDescriptor
	Description string
}

// MethodDescriptor describes one RPC method.
type MethodDescriptor struct {
	Name            string
	FQN             string // "<package>.<Service>.<Method>"
	InputFQN        string
	OutputFQN       string
	Options         *descriptorpb.MethodOptions
	ClientStreaming bool
	ServerStreaming bool
	Description     string
}

// FullMethodName returns the gRPC wire form "/package.Service/Method".
func (s *ServiceType) FullMethodName(m *MethodDescriptor) string {
	return "/" + s.FQN + "/" + m.Name
}

// LookupMessage resolves a fully-qualified message name within the catalog.
func (c *Catalog) LookupMessage(fqn string) (*MessageType, bool) {
	m, ok := c.messagesByFQN[fqn]
	return m, ok
}

// LookupEnum resolves a fully-qualified enum name within the catalog.
func (c *Catalog) LookupEnum(fqn string) (*EnumType, bool) {
	e, ok := c.enumsByFQN[fqn]
	return e, ok
}
