package catalog

import (
	"strings"

	"google.golang.org/protobuf/types/descriptorpb"
)

// fold concatenates leading_comments, trailing_comments and
// leading_detached_comments for each SourceCodeInfo location and attaches
// the result as `_description` on the schema node the location's path
// addresses. Paths of odd length address meta-schema scalars (not schema
// nodes) and are ignored. A malformed or out-of-range location is skipped,
// not fatal - only a completely undecodable descriptor is fatal.
func fold(fd *descriptorpb.FileDescriptorProto, fe *FileEntry) {
	sci := fd.GetSourceCodeInfo()
	if sci == nil {
		return
	}
	for _, loc := range sci.GetLocation() {
		path := loc.GetPath()
		if len(path)%2 != 0 {
			continue
		}
		comments := joinComments(loc)
		if comments == "" {
			continue
		}
		ptr, ok := fe.nodesByPath[pathKey(path)]
		if !ok || ptr == nil {
			// Path addresses a node this catalog does not track (e.g. an
			// option or an extension range) - not an error.
			continue
		}
		*ptr = comments
	}
}

func joinComments(loc *descriptorpb.SourceCodeInfo_Location) string {
	var b strings.Builder
	b.WriteString(strings.TrimLeft(loc.GetLeadingComments(), " "))
	b.WriteString(strings.TrimLeft(loc.GetTrailingComments(), " "))
	for _, d := range loc.GetLeadingDetachedComments() {
		b.WriteString(strings.TrimLeft(d, " "))
	}
	return strings.TrimSpace(b.String())
}
