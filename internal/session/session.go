// Package session manages one long-lived backend gRPC connection: dialing
// (direct "host:port" or "@service-name" discovery), periodic schema
// refresh via the server reflection protocol, fingerprint-driven rebuild
// notification, and dynamic unary invocation (spec §4.4).
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthony/grpc-rest-gateway/internal/discovery"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"github.com/jhump/protoreflect/grpcreflect"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	defaultCallTimeout = 30 * time.Second
	minBackoff         = 500 * time.Millisecond
	maxBackoff         = 30 * time.Second
	reflectionService  = "grpc.reflection.v1alpha.ServerReflection"

	// schemaPollInterval bounds how long a backend's added/removed RPCs can
	// go unnoticed on a connection that never drops. refreshSchemaOnce is
	// cheap to call when nothing changed (it returns before publishing once
	// the fingerprint matches), so this runs regardless of endpoint syntax.
	schemaPollInterval = 30 * time.Second
)

// Schema is one immutable snapshot of a backend's method table.
type Schema struct {
	Methods       map[string]*desc.MethodDescriptor
	Fingerprint   string
	DescriptorSet *descriptorpb.FileDescriptorSet
}

// RebuildFunc is invoked whenever a schema refresh observes a changed
// fingerprint. Implementations (the route synthesizer) must not block.
type RebuildFunc func(*Schema)

// Backend is one resolved, dialed connection to a gRPC server, kept current
// against that server's advertised schema.
type Backend struct {
	endpointSpec string // as configured: "host:port" or "@name"
	resolver     discovery.Resolver
	logger       *zap.Logger
	onRebuild    RebuildFunc

	mu     sync.Mutex
	conn   *grpc.ClientConn
	target string
	stub   grpcdynamic.Stub

	schema atomic.Pointer[Schema]

	rebuildMu     sync.Mutex
	rebuilding    bool
	rebuildQueued bool

	closed chan struct{}
}

// Dial resolves endpointSpec, opens the connection, and performs a
// synchronous initial schema fetch so the backend is immediately usable.
func Dial(ctx context.Context, endpointSpec string, resolver discovery.Resolver, logger *zap.Logger, onRebuild RebuildFunc) (*Backend, error) {
	b := &Backend{
		endpointSpec: endpointSpec,
		resolver:     resolver,
		logger:       logger,
		onRebuild:    onRebuild,
		closed:       make(chan struct{}),
	}
	if err := b.connect(ctx); err != nil {
		return nil, err
	}
	if err := b.refreshSchemaOnce(ctx); err != nil {
		b.conn.Close()
		return nil, err
	}
	go b.watchConnection()
	go b.pollSchema()
	return b, nil
}

// pollSchema re-checks the backend's reflected schema on a fixed interval
// for as long as the connection lives, so a descriptor change on an
// otherwise healthy, never-reconnecting connection still reaches the
// rebuild callback (spec §4.4's "whenever the backend signals" covers both
// a reconnect event and this steady-state re-poll).
func (b *Backend) pollSchema() {
	ticker := time.NewTicker(schemaPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.TriggerRebuild(context.Background())
		case <-b.closed:
			return
		}
	}
}

func (b *Backend) connect(ctx context.Context) error {
	target, err := b.resolveTarget(ctx)
	if err != nil {
		return &UnavailableError{Endpoint: b.endpointSpec, Err: err}
	}
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return &UnavailableError{Endpoint: target, Err: err}
	}
	b.mu.Lock()
	b.conn = conn
	b.target = target
	b.stub = grpcdynamic.NewStub(conn)
	b.mu.Unlock()
	return nil
}

func (b *Backend) resolveTarget(ctx context.Context) (string, error) {
	if !strings.HasPrefix(b.endpointSpec, "@") {
		return b.endpointSpec, nil
	}
	if b.resolver == nil {
		return "", fmt.Errorf("endpoint %q requires service discovery, none configured", b.endpointSpec)
	}
	name := strings.TrimPrefix(b.endpointSpec, "@")
	endpoints, err := b.resolver.Resolve(ctx, name)
	if err != nil {
		return "", err
	}
	if len(endpoints) == 0 {
		return "", fmt.Errorf("no endpoints resolved for %q", name)
	}
	return string(endpoints[0]), nil
}

// watchConnection reconnects "@service-name" backends with exponential
// backoff whenever the underlying connection drops into a failure state.
// Directly dialed "host:port" backends rely on grpc-go's own internal
// reconnection and are left alone here.
func (b *Backend) watchConnection() {
	if !strings.HasPrefix(b.endpointSpec, "@") {
		return
	}
	attempt := 0
	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-b.closed:
				cancel()
			case <-ctx.Done():
			}
		}()
		changed := conn.WaitForStateChange(ctx, conn.GetState())
		cancel()
		select {
		case <-b.closed:
			return
		default:
		}
		if !changed {
			continue
		}
		if conn.GetState() != connectivity.TransientFailure && conn.GetState() != connectivity.Shutdown {
			attempt = 0
			continue
		}

		wait := backoffDuration(attempt)
		attempt++
		select {
		case <-time.After(wait):
		case <-b.closed:
			return
		}
		if err := b.connect(context.Background()); err != nil {
			b.logger.Warn("backend reconnect failed", zap.String("endpoint", b.endpointSpec), zap.Error(err))
			continue
		}
		conn.Close() // connect() has already swapped in the new conn
		if err := b.refreshSchemaOnce(context.Background()); err != nil {
			b.logger.Warn("schema refresh after reconnect failed", zap.String("endpoint", b.endpointSpec), zap.Error(err))
		}
		attempt = 0
	}
}

func backoffDuration(attempt int) time.Duration {
	d := minBackoff << uint(attempt)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	jitter := 0.8 + rand.Float64()*0.4 // +/- 20%
	return time.Duration(float64(d) * jitter)
}

// TriggerRebuild schedules a schema refresh. If one is already running, the
// call is recorded as a single queued follow-up rather than starting a
// second concurrent refresh; bursts of triggers collapse to one rerun.
func (b *Backend) TriggerRebuild(ctx context.Context) {
	b.rebuildMu.Lock()
	if b.rebuilding {
		b.rebuildQueued = true
		b.rebuildMu.Unlock()
		return
	}
	b.rebuilding = true
	b.rebuildMu.Unlock()
	go b.runRebuildLoop(ctx)
}

func (b *Backend) runRebuildLoop(ctx context.Context) {
	for {
		if err := b.refreshSchemaOnce(ctx); err != nil {
			b.logger.Warn("schema refresh failed", zap.String("endpoint", b.endpointSpec), zap.Error(err))
		}
		b.rebuildMu.Lock()
		if b.rebuildQueued {
			b.rebuildQueued = false
			b.rebuildMu.Unlock()
			continue
		}
		b.rebuilding = false
		b.rebuildMu.Unlock()
		return
	}
}

// refreshSchemaOnce fetches the backend's current schema via server
// reflection, computes its fingerprint, and - only if the fingerprint
// changed - publishes the new Schema and notifies onRebuild.
func (b *Backend) refreshSchemaOnce(ctx context.Context) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	client := grpcreflect.NewClientV1Alpha(ctx, reflectionpb.NewServerReflectionClient(conn))
	defer client.Reset()

	svcNames, err := client.ListServices()
	if err != nil {
		return &UnavailableError{Endpoint: b.endpointSpec, Err: err}
	}

	methods := make(map[string]*desc.MethodDescriptor)
	files := make(map[string]*desc.FileDescriptor)
	for _, svcName := range svcNames {
		if svcName == reflectionService {
			continue
		}
		sd, err := client.ResolveService(svcName)
		if err != nil {
			return &UnavailableError{Endpoint: b.endpointSpec, Err: fmt.Errorf("resolve service %q: %w", svcName, err)}
		}
		for _, md := range sd.GetMethods() {
			full := fmt.Sprintf("/%s/%s", svcName, md.GetName())
			methods[full] = md
		}
		collectFiles(sd.GetFile(), files)
	}

	fp := fingerprint(files)
	if prev := b.schema.Load(); prev != nil && prev.Fingerprint == fp {
		return nil
	}
	next := &Schema{Methods: methods, Fingerprint: fp, DescriptorSet: descriptorSet(files)}
	b.schema.Store(next)
	if b.onRebuild != nil {
		b.onRebuild(next)
	}
	return nil
}

func collectFiles(fd *desc.FileDescriptor, seen map[string]*desc.FileDescriptor) {
	if fd == nil {
		return
	}
	if _, ok := seen[fd.GetName()]; ok {
		return
	}
	seen[fd.GetName()] = fd
	for _, dep := range fd.GetDependencies() {
		collectFiles(dep, seen)
	}
}

func descriptorSet(files map[string]*desc.FileDescriptor) *descriptorpb.FileDescriptorSet {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	fds := &descriptorpb.FileDescriptorSet{}
	for _, name := range names {
		fds.File = append(fds.File, files[name].AsFileDescriptorProto())
	}
	return fds
}

func fingerprint(files map[string]*desc.FileDescriptor) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		b, err := proto.Marshal(files[name].AsFileDescriptorProto())
		if err != nil {
			continue
		}
		h.Write([]byte(name))
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Current returns the most recently published schema, or nil if none has
// been fetched yet.
func (b *Backend) Current() *Schema {
	return b.schema.Load()
}

// Invoke calls a unary RPC by its full method name ("/package.Service/Method")
// against the backend's most recent schema. A context without a deadline is
// given the default 30s budget; a caller-cancelled context surfaces as a
// CANCELLED status, matching native grpc-go semantics.
func (b *Backend) Invoke(ctx context.Context, fullMethod string, req *dynamic.Message) (*dynamic.Message, error) {
	schema := b.schema.Load()
	if schema == nil {
		return nil, &UnavailableError{Endpoint: b.endpointSpec, Err: fmt.Errorf("no schema fetched yet")}
	}
	md, ok := schema.Methods[fullMethod]
	if !ok {
		return nil, &UnknownMethodError{Method: fullMethod}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
	}

	b.mu.Lock()
	stub := b.stub
	b.mu.Unlock()

	resp, err := stub.InvokeRpc(ctx, md, req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, status.Error(codes.Canceled, "request canceled by client")
		}
		return nil, err
	}
	dynResp, ok := resp.(*dynamic.Message)
	if !ok {
		return nil, fmt.Errorf("session: unexpected response message type %T for %s", resp, fullMethod)
	}
	return dynResp, nil
}

// Close tears down the backend connection and stops its reconnect loop.
func (b *Backend) Close() error {
	close(b.closed)
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
