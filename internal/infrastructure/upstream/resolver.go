// Package upstream resolves plugin version requests against an ordered list
// of sources: local directories, archive URLs and S3 buckets.
package upstream

import (
	"context"
	"fmt"
	"io"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/core/plugin"
)

// SearchPolicy controls how many sources the resolver consults
type SearchPolicy string

const (
	// PolicyFirstMatch stops at the first source offering a matching candidate
	PolicyFirstMatch SearchPolicy = "first-match"
	// PolicyMergeAll searches every source and selects over the merged candidates
	PolicyMergeAll SearchPolicy = "merge-all"
)

// ParseSearchPolicy validates a policy name. The empty string means first-match.
func ParseSearchPolicy(s string) (SearchPolicy, error) {
	switch SearchPolicy(s) {
	case "", PolicyFirstMatch:
		return PolicyFirstMatch, nil
	case PolicyMergeAll:
		return PolicyMergeAll, nil
	default:
		return "", fmt.Errorf("unknown search policy %q (expected %s or %s)", s, PolicyFirstMatch, PolicyMergeAll)
	}
}

// Resolver implements ports.ArchiveResolver over sources in priority order
type Resolver struct {
	sources []ports.UpstreamSource
	policy  SearchPolicy
	logger  ports.LoggingGateway
}

// NewResolver creates a resolver. Sources are consulted in the order given.
func NewResolver(sources []ports.UpstreamSource, policy SearchPolicy, logger ports.LoggingGateway) *Resolver {
	if policy == "" {
		policy = PolicyFirstMatch
	}
	return &Resolver{sources: sources, policy: policy, logger: logger}
}

// Sources returns the configured sources in priority order
func (r *Resolver) Sources() []ports.UpstreamSource {
	return r.sources
}

// Resolve picks the candidate satisfying req. Within one source, an exact
// key offered twice with different content is ambiguous. Across sources the
// earlier source wins.
func (r *Resolver) Resolve(ctx context.Context, req plugin.VersionRequest) (ports.Candidate, error) {
	if req.Kind == plugin.RequestLatestExisting {
		return ports.Candidate{}, fmt.Errorf("%w: %s is only satisfied from the local store", plugin.ErrNotFound, req)
	}
	if len(r.sources) == 0 {
		return ports.Candidate{}, fmt.Errorf("%w: no upstream sources configured for %s", plugin.ErrNotFound, req)
	}

	var merged []ports.Candidate
	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			return ports.Candidate{}, err
		}

		found, err := src.Search(ctx, req.Name)
		if err != nil {
			return ports.Candidate{}, fmt.Errorf("failed to search %s: %w", src.Descriptor(), err)
		}

		matching := matchingCandidates(req, found)
		r.logger.Log(ports.LogLevelDebug, "Searched upstream source", map[string]interface{}{
			"source":   src.Descriptor(),
			"request":  req.String(),
			"offered":  len(found),
			"matching": len(matching),
		})
		if req.Kind == plugin.RequestExact {
			if err := checkConflicts(matching, src.Descriptor()); err != nil {
				return ports.Candidate{}, err
			}
		}

		if r.policy == PolicyFirstMatch {
			if c, ok := selectCandidate(req, matching); ok {
				return c, nil
			}
			continue
		}
		merged = append(merged, matching...)
	}

	if c, ok := selectCandidate(req, merged); ok {
		return c, nil
	}
	return ports.Candidate{}, plugin.ErrNoCandidate(req)
}

// Fetch streams the bytes of a resolved candidate from the source that offered it
func (r *Resolver) Fetch(ctx context.Context, c ports.Candidate) (io.ReadCloser, error) {
	for _, src := range r.sources {
		if src.Descriptor() == c.Source {
			return src.Open(ctx, c)
		}
	}
	return nil, fmt.Errorf("%w: source %s is not configured", plugin.ErrNotFound, c.Source)
}

func matchingCandidates(req plugin.VersionRequest, found []ports.Candidate) []ports.Candidate {
	var matching []ports.Candidate
	for _, c := range found {
		if req.Matches(c.ID) {
			matching = append(matching, c)
		}
	}
	return matching
}

// selectCandidate applies the request's selection to candidates, keeping
// their order as priority
func selectCandidate(req plugin.VersionRequest, candidates []ports.Candidate) (ports.Candidate, bool) {
	ids := make([]plugin.ArchiveID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	id, ok := req.Select(ids)
	if !ok {
		return ports.Candidate{}, false
	}
	for _, c := range candidates {
		if c.ID.Equal(id) {
			return c, true
		}
	}
	return ports.Candidate{}, false
}

// checkConflicts fails when one source offers the same key with different
// content. Content is compared by digest when both sides know it, otherwise
// by size.
func checkConflicts(candidates []ports.Candidate, source string) error {
	first := make(map[plugin.Key]ports.Candidate, len(candidates))
	for _, c := range candidates {
		prev, seen := first[c.ID.Key()]
		if !seen {
			first[c.ID.Key()] = c
			continue
		}
		if differ(prev, c) {
			return plugin.ErrConflictingContent(c.ID, source)
		}
	}
	return nil
}

func differ(a, b ports.Candidate) bool {
	if a.Digest != "" && b.Digest != "" {
		return a.Digest != b.Digest
	}
	return a.Size != b.Size
}
