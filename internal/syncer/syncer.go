// Package syncer drives one package through the full pipeline: gate on the
// tracked reference, extract the source subtree, stage the transformed tree,
// synthesize the artifacts, and commit atomically. Packages are independent;
// a per-package lock is the only serialization.
package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/upmirror/upmirror/api"
	"github.com/upmirror/upmirror/internal/gitsrc"
	"github.com/upmirror/upmirror/internal/identity"
	"github.com/upmirror/upmirror/internal/manifest"
	"github.com/upmirror/upmirror/internal/state"
	"github.com/upmirror/upmirror/internal/transform"
)

// Outcome of one sync call.
type Outcome string

const (
	Skipped Outcome = "skipped"
	Built   Outcome = "built"
	Failed  Outcome = "failed"
)

// Result is one package's sync outcome. Err is set only for Failed; Kind
// names its taxonomy bucket.
type Result struct {
	Package string
	Outcome Outcome
	// Ref is the resolved commit the package was built at (or skipped at).
	Ref     string
	Deleted []string
	Err     error
}

// Kind returns the failure classification, or "" for non-failures.
func (r Result) Kind() string {
	return api.Kind(r.Err)
}

// Engine synchronizes packages into the output directory. Independent
// packages run fully in parallel; two syncs of the same package never
// overlap.
type Engine struct {
	Output string
	Store  *state.Store
	Log    *zap.Logger
	Policy transform.Policy
	// Force rebuilds even when the resolved ref is unchanged.
	Force bool
	// RemoteTimeout bounds each remote git operation. Zero means no bound.
	RemoteTimeout time.Duration
	// Concurrency caps parallel package syncs in SyncAll.
	Concurrency int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns an Engine writing packages under output.
func New(output string, store *state.Store, log *zap.Logger) *Engine {
	return &Engine{
		Output:        output,
		Store:         store,
		Log:           log,
		Policy:        transform.DefaultPolicy(),
		RemoteTimeout: 2 * time.Minute,
		Concurrency:   4,
		locks:         map[string]*sync.Mutex{},
	}
}

func (e *Engine) lock(pkg string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locks == nil {
		e.locks = map[string]*sync.Mutex{}
	}
	l, ok := e.locks[pkg]
	if !ok {
		l = &sync.Mutex{}
		e.locks[pkg] = l
	}
	return l
}

// Sync synchronizes one package. Never returns an error: failures are
// reported in the Result, scoped to this package alone.
func (e *Engine) Sync(ctx context.Context, spec *api.PackageSpec) Result {
	l := e.lock(spec.Name)
	l.Lock()
	defer l.Unlock()

	res := e.sync(ctx, spec)

	log := e.Log.With(zap.String("package", spec.Name))
	switch res.Outcome {
	case Skipped:
		log.Info("Up to date", zap.String("ref", res.Ref))
	case Built:
		log.Info("Built", zap.String("ref", res.Ref), zap.Int("deleted", len(res.Deleted)))
	case Failed:
		log.Error("Sync failed", zap.String("kind", res.Kind()), zap.Error(res.Err))
		// Record the attempt, but never advance the ref past the last good
		// build and never create state for a package that has never built.
		if prev, err := e.Store.Get(spec.Name); err == nil && prev != nil {
			prev.Outcome = api.OutcomeFailed
			prev.SyncedAt = time.Now().UTC()
			_ = e.Store.Put(spec.Name, *prev)
		}
	}
	return res
}

func (e *Engine) sync(ctx context.Context, spec *api.PackageSpec) Result {
	fail := func(err error) Result {
		return Result{Package: spec.Name, Outcome: Failed, Err: err}
	}

	resolved, err := e.resolve(ctx, spec)
	if err != nil {
		return fail(err)
	}

	prev, err := e.Store.Get(spec.Name)
	if err != nil {
		return fail(err)
	}
	if prev != nil && prev.LastRef == resolved && !e.Force {
		return Result{Package: spec.Name, Outcome: Skipped, Ref: resolved}
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	rctx := ctx
	if e.RemoteTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, e.RemoteTimeout)
		defer cancel()
	}
	ws, err := gitsrc.Materialize(rctx, spec.Source.URL, resolved, spec.ExtractPath)
	if err != nil {
		return fail(err)
	}
	defer ws.Release()

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	if err := os.MkdirAll(e.Output, 0o755); err != nil {
		return fail(fmt.Errorf("create output dir: %w: %v", api.ErrStagingIO, err))
	}
	stagingDir, err := os.MkdirTemp(e.Output, "."+spec.Name+".staging-")
	if err != nil {
		return fail(fmt.Errorf("create staging dir: %w: %v", api.ErrStagingIO, err))
	}
	defer func() { _ = os.RemoveAll(stagingDir) }()

	staged := osfs.New(stagingDir)
	deleted, err := e.stage(ctx, spec, ws, staged)
	if err != nil {
		return fail(err)
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// Atomic commit: the previous tree stays untouched until the staged one
	// is complete, then the swap is a rename pair with rollback.
	finalDir := filepath.Join(e.Output, spec.Name)
	if err := commitSwap(stagingDir, finalDir); err != nil {
		return fail(err)
	}

	// State advances only after the swap: a recorded ref always matches an
	// on-disk tree.
	if err := e.Store.Put(spec.Name, api.SyncState{
		LastRef:  resolved,
		SyncedAt: time.Now().UTC(),
		Outcome:  api.OutcomeBuilt,
	}); err != nil {
		return fail(err)
	}

	return Result{Package: spec.Name, Outcome: Built, Ref: resolved, Deleted: deleted}
}

// stage builds the complete output-shaped tree: mirrored content, license and
// readme carryover, artifacts, then identity sidecars over everything.
func (e *Engine) stage(ctx context.Context, spec *api.PackageSpec, ws *gitsrc.Workspace, staged billy.Filesystem) ([]string, error) {
	tr := &transform.Transformer{
		Root:   identity.RootToken(spec.Name),
		Policy: e.Policy,
	}
	src := osfs.New(ws.SubtreePath)
	repo := osfs.New(ws.Root)

	if err := tr.Stage(src, staged); err != nil {
		return nil, err
	}
	if _, err := transform.CopyLicense(repo, staged); err != nil {
		return nil, err
	}
	if err := transform.WriteReadme(repo, staged, spec); err != nil {
		return nil, err
	}

	ns := spec.Namespace
	if ns == "" {
		discovered, err := manifest.DiscoverNamespace(staged)
		if err != nil {
			return nil, fmt.Errorf("discover namespace: %w: %v", api.ErrStagingIO, err)
		}
		ns = discovered
	}
	art, err := manifest.Synthesize(spec, ns)
	if err != nil {
		return nil, err
	}
	runtimeDir := ""
	if e.Policy.NestRuntime {
		runtimeDir = transform.RuntimeDir
	}
	if err := art.Write(staged, runtimeDir); err != nil {
		return nil, err
	}

	if err := tr.WriteSidecars(staged); err != nil {
		return nil, err
	}

	var prevFS billy.Filesystem
	finalDir := filepath.Join(e.Output, spec.Name)
	if fi, err := os.Stat(finalDir); err == nil && fi.IsDir() {
		prevFS = osfs.New(finalDir)
	}
	return transform.Diff(prevFS, staged)
}

func (e *Engine) resolve(ctx context.Context, spec *api.PackageSpec) (string, error) {
	rctx := ctx
	if e.RemoteTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, e.RemoteTimeout)
		defer cancel()
	}
	return gitsrc.ResolveRef(rctx, spec.Source.URL, spec.Source.Ref)
}

// commitSwap replaces final with staged as one visible step. On failure the
// previous tree is restored; no cancellation point exists in here.
func commitSwap(staged, final string) error {
	old := final + ".old"
	_ = os.RemoveAll(old)

	hadPrevious := false
	if _, err := os.Stat(final); err == nil {
		hadPrevious = true
		if err := os.Rename(final, old); err != nil {
			return fmt.Errorf("retire previous tree: %w: %v", api.ErrCommitIO, err)
		}
	}
	if err := os.Rename(staged, final); err != nil {
		if hadPrevious {
			_ = os.Rename(old, final)
		}
		return fmt.Errorf("install staged tree: %w: %v", api.ErrCommitIO, err)
	}
	_ = os.RemoveAll(old)
	return nil
}

// Check reports whether a sync would rebuild the package, without building.
func (e *Engine) Check(ctx context.Context, spec *api.PackageSpec) (bool, string, error) {
	resolved, err := e.resolve(ctx, spec)
	if err != nil {
		return false, "", err
	}
	prev, err := e.Store.Get(spec.Name)
	if err != nil {
		return false, "", err
	}
	if prev != nil && prev.LastRef == resolved && !e.Force {
		return false, resolved, nil
	}
	return true, resolved, nil
}

// SyncAll synchronizes every spec, bounded by Engine.Concurrency. One
// package's failure never aborts its siblings; the caller gets every
// outcome, in spec order.
func (e *Engine) SyncAll(ctx context.Context, specs []*api.PackageSpec) []Result {
	results := make([]Result, len(specs))

	g := &errgroup.Group{}
	limit := e.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, spec := range specs {
		g.Go(func() error {
			results[i] = e.Sync(ctx, spec)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// FailedCount counts Failed outcomes in results.
func FailedCount(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Outcome == Failed {
			n++
		}
	}
	return n
}
