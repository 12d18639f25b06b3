package catalog

import (
	"strconv"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/pluginpb"
)

// Build decodes a descriptor blob (FileDescriptorSet or CodeGeneratorRequest,
// tried in that order) and assembles a Catalog. Comments are folded into
// `_description` fields unless foldComments is false. This is the only
// fatal parse path in the gateway: callers should treat any returned error
// as a DescriptorError (spec §7) and abort startup.
func Build(blob []byte, foldComments bool) (*Catalog, error) {
	files, err := decodeFiles(blob)
	if err != nil {
		return nil, err
	}

	cat := &Catalog{
		Files:         make(map[string]*FileEntry, len(files)),
		messagesByFQN: make(map[string]*MessageType),
		enumsByFQN:    make(map[string]*EnumType),
	}

	for _, fd := range files {
		fe, err := buildFile(fd)
		if err != nil {
			return nil, err
		}
		if foldComments {
			fold(fd, fe)
		}
		// source_code_info is consumed; drop it from the retained proto so
		// the catalog does not carry it forward into synthesis.
		fe.Proto.SourceCodeInfo = nil
		fe.nodesByPath = nil

		cat.index(fe)
		// Files sharing a package overwrite earlier entries - not an error.
		cat.Files[fe.Package] = fe
	}

	cat.resolveReferences()
	return cat, nil
}

// decodeFiles tries FileDescriptorSet first, falling back to
// CodeGeneratorRequest when the first shape decodes to nothing useful or
// fails outright. Both carry the same list under differently-named fields
// (`file` vs `proto_file`).
func decodeFiles(blob []byte) ([]*descriptorpb.FileDescriptorProto, error) {
	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(blob, &fds); err == nil && len(fds.GetFile()) > 0 {
		return fds.GetFile(), nil
	}

	var req pluginpb.CodeGeneratorRequest
	if err := proto.Unmarshal(blob, &req); err == nil && len(req.GetProtoFile()) > 0 {
		return req.GetProtoFile(), nil
	}

	return nil, &InvalidDescriptorError{Reason: "blob is neither a non-empty FileDescriptorSet nor a non-empty CodeGeneratorRequest"}
}

func pathKey(path []int32) string {
	if len(path) == 0 {
		return ""
	}
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(int(p))
	}
	return strings.Join(parts, ",")
}

func appendPath(path []int32, more ...int32) []int32 {
	out := make([]int32, 0, len(path)+len(more))
	out = append(out, path...)
	out = append(out, more...)
	return out
}

func joinFQN(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// FileDescriptorProto field numbers relevant to comment addressing.
const (
	fileFieldMessageType = 4
	fileFieldEnumType    = 5
	fileFieldService     = 6

	msgFieldField      = 2
	msgFieldNestedType = 3
	msgFieldEnumType   = 4

	enumFieldValue = 2

	svcFieldMethod = 2
)

func buildFile(fd *descriptorpb.FileDescriptorProto) (*FileEntry, error) {
	fe := &FileEntry{
		Name:        fd.GetName(),
		Package:     fd.GetPackage(),
		Proto:       fd,
		nodesByPath: map[string]*string{"": nil},
	}
	fe.nodesByPath[""] = &fe.Description

	for i, m := range fd.GetMessageType() {
		mt, err := buildMessage(m, fd.GetPackage(), fe.nodesByPath, []int32{fileFieldMessageType, int32(i)})
		if err != nil {
			return nil, err
		}
		fe.Messages = append(fe.Messages, mt)
	}
	for i, e := range fd.GetEnumType() {
		et := buildEnum(e, fd.GetPackage(), fe.nodesByPath, []int32{fileFieldEnumType, int32(i)})
		fe.Enums = append(fe.Enums, et)
	}
	for i, s := range fd.GetService() {
		st := buildService(s, fd.GetPackage(), fe.nodesByPath, []int32{fileFieldService, int32(i)})
		fe.Services = append(fe.Services, st)
	}
	return fe, nil
}

func buildMessage(m *descriptorpb.DescriptorProto, parentFQN string, index map[string]*string, path []int32) (*MessageType, error) {
	fqn := joinFQN(parentFQN, m.GetName())
	mt := &MessageType{Name: m.GetName(), FQN: fqn, Proto: m}
	index[pathKey(path)] = &mt.Description

	seenNumbers := make(map[int32]bool, len(m.GetField()))
	seenNames := make(map[string]bool, len(m.GetField()))
	for i, f := range m.GetField() {
		fld, err := buildField(f, index, appendPath(path, msgFieldField, int32(i)))
		if err != nil {
			return nil, err
		}
		if seenNumbers[fld.Number] {
			return nil, &InvalidDescriptorError{Reason: "duplicate field number " + strconv.Itoa(int(fld.Number)) + " in message " + fqn}
		}
		if seenNames[fld.Name] {
			return nil, &InvalidDescriptorError{Reason: "duplicate field name " + fld.Name + " in message " + fqn}
		}
		seenNumbers[fld.Number] = true
		seenNames[fld.Name] = true
		mt.Fields = append(mt.Fields, fld)
	}
	for i, n := range m.GetNestedType() {
		nmt, err := buildMessage(n, fqn, index, appendPath(path, msgFieldNestedType, int32(i)))
		if err != nil {
			return nil, err
		}
		mt.Nested = append(mt.Nested, nmt)
	}
	for i, e := range m.GetEnumType() {
		mt.NestedEnums = append(mt.NestedEnums, buildEnum(e, fqn, index, appendPath(path, msgFieldEnumType, int32(i))))
	}
	return mt, nil
}

func buildField(f *descriptorpb.FieldDescriptorProto, index map[string]*string, path []int32) (*Field, error) {
	switch f.GetLabel() {
	case descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL,
		descriptorpb.FieldDescriptorProto_LABEL_REQUIRED,
		descriptorpb.FieldDescriptorProto_LABEL_REPEATED:
	default:
		return nil, &InvalidDescriptorError{Reason: "unrecognized label on field " + f.GetName()}
	}

	jsonName := f.GetJsonName()
	if jsonName == "" {
		jsonName = lowerCamelCase(f.GetName())
	}

	fld := &Field{
		Name:     f.GetName(),
		Number:   f.GetNumber(),
		Label:    f.GetLabel(),
		Type:     f.GetType(),
		TypeName: strings.TrimPrefix(f.GetTypeName(), "."),
		JSONName: jsonName,
	}
	index[pathKey(path)] = &fld.Description
	return fld, nil
}

func buildEnum(e *descriptorpb.EnumDescriptorProto, parentFQN string, index map[string]*string, path []int32) *EnumType {
	fqn := joinFQN(parentFQN, e.GetName())
	et := &EnumType{Name: e.GetName(), FQN: fqn}
	index[pathKey(path)] = &et.Description

	for i, v := range e.GetValue() {
		ev := &EnumValue{Name: v.GetName(), Number: v.GetNumber()}
		index[pathKey(appendPath(path, enumFieldValue, int32(i)))] = &ev.Description
		et.Values = append(et.Values, ev)
	}
	return et
}

func buildService(s *descriptorpb.ServiceDescriptorProto, pkg string, index map[string]*string, path []int32) *ServiceType {
	fqn := joinFQN(pkg, s.GetName())
	st := &ServiceType{Name: s.GetName(), FQN: fqn}
	index[pathKey(path)] = &st.Description

	for i, m := range s.GetMethod() {
		md := &MethodDescriptor{
			Name:            m.GetName(),
			FQN:             fqn + "." + m.GetName(),
			InputFQN:        strings.TrimPrefix(m.GetInputType(), "."),
			OutputFQN:       strings.TrimPrefix(m.GetOutputType(), "."),
			Options:         m.GetOptions(),
			ClientStreaming: m.GetClientStreaming(),
			ServerStreaming: m.GetServerStreaming(),
		}
		index[pathKey(appendPath(path, svcFieldMethod, int32(i)))] = &md.Description
		st.Methods = append(st.Methods, md)
	}
	return st
}

// index registers every message and enum (including nested ones) under
// its fully-qualified name so later field-reference resolution is O(1).
func (c *Catalog) index(fe *FileEntry) {
	var indexMsg func(m *MessageType)
	indexMsg = func(m *MessageType) {
		c.messagesByFQN[m.FQN] = m
		for _, e := range m.NestedEnums {
			c.enumsByFQN[e.FQN] = e
		}
		for _, n := range m.Nested {
			indexMsg(n)
		}
	}
	for _, m := range fe.Messages {
		indexMsg(m)
	}
	for _, e := range fe.Enums {
		c.enumsByFQN[e.FQN] = e
	}
}

// resolveReferences resolves every message/enum-typed field's TypeName
// against the catalog. A field whose reference cannot be resolved is
// marked Opaque and is thereafter treated as bytes by the codec.
func (c *Catalog) resolveReferences() {
	var visitMsg func(m *MessageType)
	visitMsg = func(m *MessageType) {
		for _, f := range m.Fields {
			switch f.Type {
			case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, descriptorpb.FieldDescriptorProto_TYPE_GROUP:
				if rm, ok := c.messagesByFQN[f.TypeName]; ok {
					f.ResolvedMessage = rm
				} else {
					f.Opaque = true
				}
			case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
				if re, ok := c.enumsByFQN[f.TypeName]; ok {
					f.ResolvedEnum = re
				} else {
					f.Opaque = true
				}
			}
		}
		for _, n := range m.Nested {
			visitMsg(n)
		}
	}
	for _, fe := range c.Files {
		for _, m := range fe.Messages {
			visitMsg(m)
		}
	}
}

// lowerCamelCase implements the protobuf JSON name derivation rule: drop
// underscores, uppercase the letter that followed one.
func lowerCamelCase(name string) string {
	var b strings.Builder
	upperNext := false
	for i, r := range name {
		if r == '_' {
			upperNext = true
			continue
		}
		if upperNext {
			b.WriteString(strings.ToUpper(string(r)))
			upperNext = false
			continue
		}
		if i == 0 {
			b.WriteString(strings.ToLower(string(r)))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
