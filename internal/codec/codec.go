// Package codec round-trips between protobuf dynamic messages and
// canonical JSON, and binds path/query/body input into request messages
// (spec §4.3).
package codec

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Input bundles the three sources of request data component C binds from.
type Input struct {
	PathVars     map[string]string
	Query        url.Values
	Body         []byte
	BodySelector string // "", "*", or a field name
}

// Decode builds a dynamic message of the given descriptor from Input,
// following the precedence of spec §4.3: body first (selector-dependent),
// then path variables, then query parameters for anything not already
// bound. Unknown query/body keys are ignored; duplicate scalar bindings
// let the last one win, duplicate repeated bindings accumulate.
func Decode(md *desc.MessageDescriptor, in Input) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(md)
	bound := make(map[string]bool)

	switch {
	case in.BodySelector == "*":
		if len(in.Body) > 0 {
			var raw map[string]interface{}
			if err := json.Unmarshal(in.Body, &raw); err != nil {
				return nil, badf("invalid JSON body: %v", err)
			}
			if err := applyObject(msg, md, raw); err != nil {
				return nil, err
			}
		}
		for _, fd := range md.GetFields() {
			bound[fd.GetName()] = true
		}
	case in.BodySelector != "":
		fd := md.FindFieldByName(in.BodySelector)
		if fd == nil {
			return nil, badf("body selector %q does not name a field of %s", in.BodySelector, md.GetFullyQualifiedName())
		}
		if len(in.Body) > 0 {
			var raw interface{}
			if err := json.Unmarshal(in.Body, &raw); err != nil {
				return nil, badf("invalid JSON body: %v", err)
			}
			if err := applyValue(msg, fd, raw); err != nil {
				return nil, err
			}
		}
		bound[fd.GetName()] = true
	}

	for name, value := range in.PathVars {
		fd := md.FindFieldByName(name)
		if fd == nil {
			// router.Synthesize rejects routes whose path variables aren't
			// fields of the input message, so this means the published
			// Route Table is stale relative to the schema Decode is
			// called with, not a client error.
			continue
		}
		if err := assignScalar(msg, fd, []string{value}); err != nil {
			return nil, err
		}
		bound[name] = true
	}

	for key, values := range in.Query {
		if bound[key] {
			continue
		}
		fd := md.FindFieldByName(key)
		if fd == nil {
			continue // unknown query key: ignored (lenient)
		}
		if err := assignScalar(msg, fd, values); err != nil {
			return nil, err
		}
	}

	if err := checkRequired(msg, md); err != nil {
		return nil, err
	}
	return msg, nil
}

func checkRequired(msg *dynamic.Message, md *desc.MessageDescriptor) error {
	for _, fd := range md.GetFields() {
		if fd.GetLabel() == descriptorpb.FieldDescriptorProto_LABEL_REQUIRED && !msg.HasField(fd) {
			return badf("required field %q is unset", fd.GetName())
		}
	}
	return nil
}

// applyObject assigns every recognized key of a JSON object to the
// matching field of msg, matching by field name or JSON (lowerCamelCase)
// name. Unrecognized keys are ignored.
func applyObject(msg *dynamic.Message, md *desc.MessageDescriptor, raw map[string]interface{}) error {
	for _, fd := range md.GetFields() {
		v, ok := raw[fd.GetJSONName()]
		if !ok {
			v, ok = raw[fd.GetName()]
		}
		if !ok {
			continue
		}
		if v == nil {
			continue
		}
		if err := applyValue(msg, fd, v); err != nil {
			return err
		}
	}
	return nil
}

func applyValue(msg *dynamic.Message, fd *desc.FieldDescriptor, v interface{}) error {
	if fd.IsRepeated() {
		arr, ok := v.([]interface{})
		if !ok {
			return badf("field %q expects a JSON array", fd.GetName())
		}
		for _, elem := range arr {
			cv, err := convertJSONValue(fd, elem)
			if err != nil {
				return err
			}
			if err := msg.TryAddRepeatedField(fd, cv); err != nil {
				return badf("field %q: %v", fd.GetName(), err)
			}
		}
		return nil
	}
	cv, err := convertJSONValue(fd, v)
	if err != nil {
		return err
	}
	if err := msg.TrySetField(fd, cv); err != nil {
		return badf("field %q: %v", fd.GetName(), err)
	}
	return nil
}

func convertJSONValue(fd *desc.FieldDescriptor, v interface{}) (interface{}, error) {
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, descriptorpb.FieldDescriptorProto_TYPE_GROUP:
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, badf("field %q expects a JSON object", fd.GetName())
		}
		sub := dynamic.NewMessage(fd.GetMessageType())
		if err := applyObject(sub, fd.GetMessageType(), obj); err != nil {
			return nil, err
		}
		return sub, nil
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		switch t := v.(type) {
		case string:
			ev := fd.GetEnumType().FindValueByName(t)
			if ev == nil {
				return nil, badf("unknown enum value %q for field %q", t, fd.GetName())
			}
			return ev.GetNumber(), nil
		case float64:
			return int32(t), nil
		default:
			return nil, badf("field %q expects an enum name or number", fd.GetName())
		}
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		s, ok := v.(string)
		if !ok {
			return nil, badf("field %q expects a string", fd.GetName())
		}
		return s, nil
	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		s, ok := v.(string)
		if !ok {
			return nil, badf("field %q expects a base64 string", fd.GetName())
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, badf("field %q: invalid base64: %v", fd.GetName(), err)
		}
		return b, nil
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			return parseBool(t)
		default:
			return nil, badf("field %q expects a bool", fd.GetName())
		}
	default:
		return convertJSONNumber(fd, v)
	}
}

func convertJSONNumber(fd *desc.FieldDescriptor, v interface{}) (interface{}, error) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, badf("field %q expects a number: %v", fd.GetName(), err)
		}
		f = parsed
	default:
		return nil, badf("field %q expects a number", fd.GetName())
	}
	return numericForType(fd, f)
}

func numericForType(fd *desc.FieldDescriptor, f float64) (interface{}, error) {
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_INT32, descriptorpb.FieldDescriptorProto_TYPE_SINT32, descriptorpb.FieldDescriptorProto_TYPE_SFIXED32:
		return int32(f), nil
	case descriptorpb.FieldDescriptorProto_TYPE_INT64, descriptorpb.FieldDescriptorProto_TYPE_SINT64, descriptorpb.FieldDescriptorProto_TYPE_SFIXED64:
		return int64(f), nil
	case descriptorpb.FieldDescriptorProto_TYPE_UINT32, descriptorpb.FieldDescriptorProto_TYPE_FIXED32:
		return uint32(f), nil
	case descriptorpb.FieldDescriptorProto_TYPE_UINT64, descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
		return uint64(f), nil
	case descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		return float32(f), nil
	case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		return f, nil
	default:
		return nil, badf("field %q has an unsupported scalar type for numeric coercion", fd.GetName())
	}
}

// assignScalar binds one or more raw path/query string values onto fd,
// following scalar-conversion rules: integers accept decimal, booleans
// accept true/false/1/0, enums accept name or integer, bytes accept
// base64. Repeated fields accumulate; scalar fields let the last value win.
func assignScalar(msg *dynamic.Message, fd *desc.FieldDescriptor, values []string) error {
	if fd.GetType() == descriptorpb.FieldDescriptorProto_TYPE_MESSAGE || fd.GetType() == descriptorpb.FieldDescriptorProto_TYPE_GROUP {
		return badf("field %q is a message type and cannot be bound from a path or query value", fd.GetName())
	}
	if fd.IsRepeated() {
		for _, raw := range values {
			cv, err := convertScalarString(fd, raw)
			if err != nil {
				return err
			}
			if err := msg.TryAddRepeatedField(fd, cv); err != nil {
				return badf("field %q: %v", fd.GetName(), err)
			}
		}
		return nil
	}
	cv, err := convertScalarString(fd, values[len(values)-1])
	if err != nil {
		return err
	}
	if err := msg.TrySetField(fd, cv); err != nil {
		return badf("field %q: %v", fd.GetName(), err)
	}
	return nil
}

func convertScalarString(fd *desc.FieldDescriptor, raw string) (interface{}, error) {
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		return raw, nil
	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, badf("field %q: invalid base64: %v", fd.GetName(), err)
		}
		return b, nil
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		return parseBool(raw)
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		if ev := fd.GetEnumType().FindValueByName(raw); ev != nil {
			return ev.GetNumber(), nil
		}
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, badf("unknown enum value %q for field %q", raw, fd.GetName())
		}
		if ev := fd.GetEnumType().FindValueByNumber(int32(n)); ev == nil {
			return nil, badf("unknown enum number %d for field %q", n, fd.GetName())
		}
		return int32(n), nil
	default:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, badf("field %q expects a number, got %q", fd.GetName(), raw)
		}
		return numericForType(fd, f)
	}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, badf("expected a boolean, got %q", s)
	}
}

// Encode renders msg as canonical protobuf JSON (spec §4.3): lowerCamelCase
// names, symbolic enums, 64-bit integers as strings, base64 bytes, and
// omitted empty/default fields. dynamic.Message already implements this
// mapping natively.
func Encode(msg *dynamic.Message) ([]byte, error) {
	return msg.MarshalJSON()
}
