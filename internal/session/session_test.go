package session

import (
	"testing"
	"time"

	"github.com/jhump/protoreflect/desc"
	"google.golang.org/protobuf/types/descriptorpb"
)

func strp(s string) *string { return &s }

func buildFileDescriptor(t *testing.T, name, pkg string) *desc.FileDescriptor {
	t.Helper()
	fd := &descriptorpb.FileDescriptorProto{
		Name:    strp(name),
		Package: strp(pkg),
		Syntax:  strp("proto3"),
	}
	fds := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{fd}}
	files, err := desc.CreateFileDescriptorsFromSet(fds)
	if err != nil {
		t.Fatalf("CreateFileDescriptorsFromSet: %v", err)
	}
	return files[name]
}

func TestFingerprintIsDeterministicAndOrderInsensitive(t *testing.T) {
	a := buildFileDescriptor(t, "a.proto", "pkg.a")
	b := buildFileDescriptor(t, "b.proto", "pkg.b")

	fp1 := fingerprint(map[string]*desc.FileDescriptor{"a.proto": a, "b.proto": b})
	fp2 := fingerprint(map[string]*desc.FileDescriptor{"b.proto": b, "a.proto": a})
	if fp1 != fp2 {
		t.Errorf("fingerprint should not depend on map iteration order: %s vs %s", fp1, fp2)
	}
	if fp1 == "" {
		t.Error("fingerprint should not be empty")
	}
}

func TestFingerprintChangesWhenFileSetChanges(t *testing.T) {
	a := buildFileDescriptor(t, "a.proto", "pkg.a")
	b := buildFileDescriptor(t, "b.proto", "pkg.b")

	fp1 := fingerprint(map[string]*desc.FileDescriptor{"a.proto": a})
	fp2 := fingerprint(map[string]*desc.FileDescriptor{"a.proto": a, "b.proto": b})
	if fp1 == fp2 {
		t.Error("fingerprint should change when the file set changes")
	}
}

func TestCollectFilesDeduplicatesByName(t *testing.T) {
	a := buildFileDescriptor(t, "a.proto", "pkg.a")
	seen := make(map[string]*desc.FileDescriptor)
	collectFiles(a, seen)
	collectFiles(a, seen)
	if len(seen) != 1 {
		t.Errorf("expected 1 deduplicated file, got %d", len(seen))
	}
}

func TestBackoffDurationStaysWithinBounds(t *testing.T) {
	for attempt := 0; attempt < 12; attempt++ {
		d := backoffDuration(attempt)
		if d < minBackoff/2 {
			t.Errorf("attempt %d: backoff %v below sane floor", attempt, d)
		}
		if d > maxBackoff+maxBackoff/5 {
			t.Errorf("attempt %d: backoff %v exceeds capped ceiling with jitter", attempt, d)
		}
	}
}

func TestBackoffDurationCapsAtMaxForLargeAttempts(t *testing.T) {
	d := backoffDuration(40)
	if d < maxBackoff*8/10 || d > maxBackoff*12/10 {
		t.Errorf("expected backoff near cap for large attempt count, got %v", d)
	}
}

func TestDefaultCallTimeoutIsThirtySeconds(t *testing.T) {
	if defaultCallTimeout != 30*time.Second {
		t.Errorf("defaultCallTimeout = %v, want 30s", defaultCallTimeout)
	}
}

func TestSchemaPollIntervalIsPositive(t *testing.T) {
	if schemaPollInterval <= 0 {
		t.Error("schemaPollInterval must be positive for pollSchema's ticker to make progress")
	}
}

func TestTriggerRebuildCollapsesBurstIntoOneQueuedFollowUp(t *testing.T) {
	b := &Backend{closed: make(chan struct{})}
	b.rebuilding = true // simulate a refresh already in flight

	b.TriggerRebuild(nil)
	b.TriggerRebuild(nil)
	b.TriggerRebuild(nil)

	b.rebuildMu.Lock()
	defer b.rebuildMu.Unlock()
	if !b.rebuildQueued {
		t.Error("expected a burst of triggers during an in-flight rebuild to queue exactly one follow-up")
	}
	if !b.rebuilding {
		t.Error("expected rebuilding to remain true while a refresh is in flight")
	}
}
