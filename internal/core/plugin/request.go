package plugin

import (
	"fmt"
	"regexp"
	"strings"
)

// RequestKind discriminates the VersionRequest variants.
type RequestKind int

const (
	// RequestExact asks for exactly one name, version and variant.
	RequestExact RequestKind = iota
	// RequestLatest asks for the newest version available, optionally under a version prefix.
	RequestLatest
	// RequestLatestExisting asks for the newest version already in the local store. It never fetches.
	RequestLatestExisting
)

// Constraint keywords accepted after '@' in a request string.
const (
	ConstraintLatest     = "latest"
	ConstraintLatestPre  = "latest-pre"
	ConstraintExisting   = "existing"
	constraintSeparator  = "@"
	variantSeparator     = "+"
	defaultConstraintTxt = ConstraintLatest
)

var versionPrefixPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+){0,2}(-[0-9A-Za-z.-]*)?$`)

func (k RequestKind) String() string {
	switch k {
	case RequestExact:
		return "exact"
	case RequestLatest:
		return "latest"
	case RequestLatestExisting:
		return "latest-existing"
	default:
		return fmt.Sprintf("RequestKind(%d)", int(k))
	}
}

// VersionRequest is an operator's intent for one plugin. Use the constructors
// or ParseRequest; they validate every field for the chosen kind.
type VersionRequest struct {
	Kind    RequestKind
	Name    string
	Variant string

	// Version is set for RequestExact only.
	Version Version

	// Prefix optionally narrows RequestLatest and RequestLatestExisting to a version line such as "1" or "2.3".
	Prefix string

	// IncludePrereleases opts in to prerelease versions for the latest kinds.
	IncludePrereleases bool
}

// ExactRequest asks for exactly id.
func ExactRequest(id ArchiveID) VersionRequest {
	return VersionRequest{Kind: RequestExact, Name: id.Name, Variant: id.Variant, Version: id.Version}
}

// LatestRequest asks for the newest version of name/variant under prefix.
func LatestRequest(name, variant, prefix string, includePrereleases bool) (VersionRequest, error) {
	r := VersionRequest{
		Kind:               RequestLatest,
		Name:               name,
		Variant:            variant,
		Prefix:             prefix,
		IncludePrereleases: includePrereleases,
	}
	return r, r.Validate()
}

// ExistingRequest asks for the newest version of name/variant already in the local store.
func ExistingRequest(name, variant string, includePrereleases bool) (VersionRequest, error) {
	r := VersionRequest{
		Kind:               RequestLatestExisting,
		Name:               name,
		Variant:            variant,
		IncludePrereleases: includePrereleases,
	}
	return r, r.Validate()
}

// ParseRequest parses <name>[+<variant>][@<constraint>]. The constraint is a
// full version, a version prefix, "latest" (the default), "latest-pre" or
// "existing". A plugin archive filename is accepted as an exact request.
// A constraint that parses as a full version is always exact, so "1.2.3-rc"
// names that one prerelease. A prefix ending in a separator, such as "1.2.3-"
// or "1.2.3-rc.", matches a family of prereleases.
func ParseRequest(s string) (VersionRequest, error) {
	s = strings.TrimSpace(s)
	if LooksLikeArchive(s) {
		id, err := ParseFilename(s)
		if err != nil {
			return VersionRequest{}, err
		}
		return ExactRequest(id), nil
	}

	head, constraint, hasConstraint := strings.Cut(s, constraintSeparator)
	if hasConstraint && constraint == "" {
		return VersionRequest{}, fmt.Errorf("%w: %q: empty constraint", ErrInvalidRequest, s)
	}
	if !hasConstraint {
		constraint = defaultConstraintTxt
	}
	name, variant, hasVariant := strings.Cut(head, variantSeparator)
	if hasVariant && variant == "" {
		return VersionRequest{}, fmt.Errorf("%w: %q: empty variant", ErrInvalidRequest, s)
	}

	r := VersionRequest{Name: name, Variant: variant}
	switch constraint {
	case ConstraintLatest:
		r.Kind = RequestLatest
	case ConstraintLatestPre:
		r.Kind = RequestLatest
		r.IncludePrereleases = true
	case ConstraintExisting:
		r.Kind = RequestLatestExisting
	default:
		if v, err := ParseVersion(constraint); err == nil {
			r.Kind = RequestExact
			r.Version = v
		} else if versionPrefixPattern.MatchString(constraint) {
			r.Kind = RequestLatest
			r.Prefix = constraint
			r.IncludePrereleases = strings.Contains(constraint, "-")
		} else {
			return VersionRequest{}, fmt.Errorf("%w: %q: unknown constraint %q", ErrInvalidRequest, s, constraint)
		}
	}

	if err := r.Validate(); err != nil {
		return VersionRequest{}, fmt.Errorf("%q: %w", s, err)
	}
	return r, nil
}

// Validate checks that the fields make sense for the request kind.
func (r VersionRequest) Validate() error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if err := ValidateVariant(r.Variant); err != nil {
		return err
	}
	switch r.Kind {
	case RequestExact:
		if r.Version.IsZero() {
			return fmt.Errorf("%w: exact request for %s without a version", ErrInvalidRequest, r.Name)
		}
		if r.Prefix != "" {
			return fmt.Errorf("%w: exact request for %s cannot carry a prefix", ErrInvalidRequest, r.Name)
		}
	case RequestLatest, RequestLatestExisting:
		if !r.Version.IsZero() {
			return fmt.Errorf("%w: %s request for %s cannot pin a version", ErrInvalidRequest, r.Kind, r.Name)
		}
		if r.Prefix != "" && !versionPrefixPattern.MatchString(r.Prefix) {
			return fmt.Errorf("%w: invalid version prefix %q", ErrInvalidRequest, r.Prefix)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidRequest, int(r.Kind))
	}
	return nil
}

// ArchiveID returns the archive an exact request names.
func (r VersionRequest) ArchiveID() (ArchiveID, bool) {
	if r.Kind != RequestExact {
		return ArchiveID{}, false
	}
	return ArchiveID{Name: r.Name, Version: r.Version, Variant: r.Variant}, true
}

// Matches reports whether id has the requested name and variant and satisfies the version constraint.
// Prerelease filtering for the latest kinds happens in Select.
func (r VersionRequest) Matches(id ArchiveID) bool {
	if id.Name != r.Name || id.Variant != r.Variant {
		return false
	}
	if r.Kind == RequestExact {
		return id.Version.Equal(r.Version)
	}
	return id.Version.HasPrefix(r.Prefix)
}

// Select picks the candidate that satisfies the request. Candidates are
// assumed to be in priority order; the first exact match and the first of
// equal latest versions win.
func (r VersionRequest) Select(candidates []ArchiveID) (ArchiveID, bool) {
	var matching []ArchiveID
	for _, c := range candidates {
		if r.Matches(c) {
			matching = append(matching, c)
		}
	}
	if r.Kind == RequestExact {
		if len(matching) == 0 {
			return ArchiveID{}, false
		}
		return matching[0], true
	}
	return SelectLatest(matching, r.IncludePrereleases)
}

// String renders the request in the form ParseRequest accepts.
func (r VersionRequest) String() string {
	head := r.Name
	if r.Variant != "" {
		head += variantSeparator + r.Variant
	}
	var constraint string
	switch r.Kind {
	case RequestExact:
		constraint = r.Version.String()
	case RequestLatestExisting:
		constraint = ConstraintExisting
	default:
		switch {
		case r.Prefix != "":
			constraint = r.Prefix
		case r.IncludePrereleases:
			constraint = ConstraintLatestPre
		default:
			constraint = ConstraintLatest
		}
	}
	return head + constraintSeparator + constraint
}
