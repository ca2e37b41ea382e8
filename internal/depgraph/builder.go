package depgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/p-blackswan/relay/internal/clock"
	"github.com/p-blackswan/relay/internal/kv"
	"github.com/p-blackswan/relay/internal/metrics"
	"github.com/p-blackswan/relay/internal/namespace"
	"github.com/p-blackswan/relay/internal/parser"
	"github.com/p-blackswan/relay/internal/repohost"
)

// Builder maintains the cached graph for each namespace, rebuilding
// incrementally against the remote tree. Builds are single-flight per
// namespace in-process; cross-process races are self-healing because both
// writers derive from the same head.
type Builder struct {
	store     kv.Store
	host      repohost.Host
	extractor parser.ImportExtractor
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	group     singleflight.Group
}

// NewBuilder creates a graph builder.
func NewBuilder(store kv.Store, host repohost.Host, extractor parser.ImportExtractor, clk clock.Clock, m *metrics.Metrics, logger zerolog.Logger) *Builder {
	return &Builder{
		store:     store,
		host:      host,
		extractor: extractor,
		clock:     clk,
		metrics:   m,
		logger:    logger.With().Str("component", "depgraph").Logger(),
	}
}

// GetCached returns the stored graph without touching the remote host.
// Returns (nil, nil) when no usable graph is cached.
func (b *Builder) GetCached(ctx context.Context, ns namespace.Namespace) (*Graph, error) {
	raw, err := b.store.Get(ctx, ns.GraphKey())
	if err != nil {
		if errors.Is(err, kv.ErrNil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cached graph: %w", err)
	}

	g, err := Unmarshal(raw)
	if err != nil {
		b.logger.Warn().Str("repo", ns.RepoURL).Str("branch", ns.Branch).Err(err).
			Msg("cached graph unparsable, treating as absent")
		return nil, nil
	}
	return g, nil
}

// NeedsUpdate compares the current remote head against the head of the
// last build. Returns (currentHead, storedHead).
func (b *Builder) NeedsUpdate(ctx context.Context, ns namespace.Namespace) (string, string, error) {
	owner, repo, err := repohost.ParseRepoCoordinates(ns.RepoURL)
	if err != nil {
		return "", "", err
	}

	current, err := b.host.GetBranchHead(ctx, owner, repo, ns.Branch)
	if err != nil {
		return "", "", err
	}

	stored, err := b.store.Get(ctx, ns.GraphMetaKey())
	if err != nil && !errors.Is(err, kv.ErrNil) {
		return "", "", fmt.Errorf("reading graph meta: %w", err)
	}
	return current, stored, nil
}

// Generate builds (or refreshes) the graph for the namespace. Concurrent
// callers share a single build; the result is cached regardless of caller
// disconnect.
func (b *Builder) Generate(ctx context.Context, ns namespace.Namespace, force bool) (*Graph, error) {
	key := ns.RepoURL + ":" + ns.Branch
	res, err, _ := b.group.Do(key, func() (interface{}, error) {
		// Detached from the caller so a disconnect never aborts a build
		// other callers are waiting on.
		buildCtx := context.WithoutCancel(ctx)
		return b.build(buildCtx, ns, force)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Graph), nil
}

func (b *Builder) build(ctx context.Context, ns namespace.Namespace, force bool) (*Graph, error) {
	owner, repo, err := repohost.ParseRepoCoordinates(ns.RepoURL)
	if err != nil {
		return nil, err
	}

	head, err := b.host.GetBranchHead(ctx, owner, repo, ns.Branch)
	if err != nil {
		return nil, err
	}

	storedHead, err := b.store.Get(ctx, ns.GraphMetaKey())
	if err != nil && !errors.Is(err, kv.ErrNil) {
		return nil, fmt.Errorf("reading graph meta: %w", err)
	}

	if !force && storedHead == head {
		if cached, err := b.GetCached(ctx, ns); err != nil {
			return nil, err
		} else if cached != nil {
			if b.metrics != nil {
				b.metrics.GraphBuilds.WithLabelValues("cached").Inc()
			}
			return cached, nil
		}
	}

	startMs := b.clock.NowMillis()

	tree, err := b.host.GetRecursiveTree(ctx, owner, repo, head)
	if err != nil {
		return nil, err
	}

	currentSHAs := make(map[string]string)
	sizes := make(map[string]int)
	for _, entry := range tree {
		if !parser.SupportedPath(entry.Path) {
			continue
		}
		currentSHAs[entry.Path] = entry.SHA
		sizes[entry.Path] = entry.Size
	}

	storedSHAs, err := b.store.HGetAll(ctx, ns.FileSHAsKey())
	if err != nil {
		return nil, fmt.Errorf("reading file shas: %w", err)
	}

	var added, changed, deleted []string
	for path, sha := range currentSHAs {
		prev, ok := storedSHAs[path]
		switch {
		case !ok:
			added = append(added, path)
		case prev != sha:
			changed = append(changed, path)
		}
	}
	for path := range storedSHAs {
		if _, ok := currentSHAs[path]; !ok {
			deleted = append(deleted, path)
		}
	}

	existing, err := b.GetCached(ctx, ns)
	if err != nil {
		return nil, err
	}

	// A SHA map without nodes means the cache is corrupted: rebuild from
	// scratch rather than trusting an empty diff.
	fullRebuild := existing == nil ||
		(len(currentSHAs) > 0 && len(existing.Nodes) == 0 &&
			len(added) == 0 && len(changed) == 0 && len(deleted) == 0)

	nodes := make(map[string]Node)
	edges := make(map[string]Edge)
	var filesToProcess []string

	if fullRebuild {
		for path := range currentSHAs {
			filesToProcess = append(filesToProcess, path)
		}
		if b.metrics != nil {
			b.metrics.GraphBuilds.WithLabelValues("full").Inc()
		}
	} else {
		touched := make(map[string]struct{}, len(deleted)+len(changed))
		for _, p := range deleted {
			touched[p] = struct{}{}
		}
		for _, n := range existing.Nodes {
			if _, gone := touched[n.ID]; gone {
				continue
			}
			nodes[n.ID] = n
		}
		changedSet := make(map[string]struct{}, len(changed))
		for _, p := range changed {
			changedSet[p] = struct{}{}
		}
		for _, e := range existing.Edges {
			if _, gone := touched[e.Source]; gone {
				continue
			}
			if _, gone := touched[e.Target]; gone {
				continue
			}
			// Outgoing edges of changed files are recomputed from source.
			if _, isChanged := changedSet[e.Source]; isChanged {
				continue
			}
			edges[e.Source+"=>"+e.Target] = e
		}
		filesToProcess = append(append([]string{}, added...), changed...)
		if b.metrics != nil {
			b.metrics.GraphBuilds.WithLabelValues("incremental").Inc()
		}
	}

	known := parser.NewPathSet(mapKeys(currentSHAs))

	for _, path := range filesToProcess {
		lang, _ := parser.DetectLanguage(path)
		nodes[path] = Node{ID: path, Language: string(lang), Size: sizes[path]}

		content, err := b.host.GetBlobContent(ctx, owner, repo, path, head)
		if err != nil {
			// A single unreadable file must not abort the build.
			b.logger.Warn().Str("path", path).Err(err).Msg("skipping file, blob fetch failed")
			continue
		}

		for _, ref := range b.extractor.Extract(content, path) {
			target, ok := parser.Resolve(ref, path, known)
			if !ok || target == path {
				continue
			}
			if _, exists := nodes[target]; !exists {
				targetLang, _ := parser.DetectLanguage(target)
				nodes[target] = Node{ID: target, Language: string(targetLang), Size: sizes[target]}
			}
			edges[path+"=>"+target] = Edge{Source: path, Target: target, Label: EdgeLabelImport}
		}
	}

	graph := &Graph{
		Version: head,
		Metadata: Metadata{
			GeneratedAtMs:  b.clock.NowMillis(),
			FilesProcessed: len(filesToProcess),
			EdgesFound:     len(edges),
		},
	}
	for _, n := range nodes {
		graph.Nodes = append(graph.Nodes, n)
	}
	for _, e := range edges {
		graph.Edges = append(graph.Edges, e)
	}
	if graph.Nodes == nil {
		graph.Nodes = []Node{}
	}
	if graph.Edges == nil {
		graph.Edges = []Edge{}
	}
	graph.Normalize()

	if err := b.persist(ctx, ns, graph, head, currentSHAs, deleted); err != nil {
		return nil, err
	}

	if b.metrics != nil {
		b.metrics.GraphBuildSecs.Observe(float64(b.clock.NowMillis()-startMs) / 1000)
	}

	b.logger.Info().
		Str("repo", ns.RepoURL).
		Str("branch", ns.Branch).
		Str("head", head).
		Bool("full", fullRebuild).
		Int("files_processed", len(filesToProcess)).
		Int("nodes", len(graph.Nodes)).
		Int("edges", len(graph.Edges)).
		Msg("graph build complete")

	return graph, nil
}

func (b *Builder) persist(ctx context.Context, ns namespace.Namespace, g *Graph, head string, shas map[string]string, deleted []string) error {
	raw, err := g.Marshal()
	if err != nil {
		return fmt.Errorf("encoding graph: %w", err)
	}

	if err := b.store.Set(ctx, ns.GraphKey(), raw); err != nil {
		return fmt.Errorf("writing graph: %w", err)
	}
	if err := b.store.Set(ctx, ns.GraphMetaKey(), head); err != nil {
		return fmt.Errorf("writing graph meta: %w", err)
	}
	if len(deleted) > 0 {
		if _, err := b.store.HDel(ctx, ns.FileSHAsKey(), deleted...); err != nil {
			return fmt.Errorf("pruning file shas: %w", err)
		}
	}
	if err := b.store.HSet(ctx, ns.FileSHAsKey(), shas); err != nil {
		return fmt.Errorf("writing file shas: %w", err)
	}
	return nil
}

func mapKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
