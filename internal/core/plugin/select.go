package plugin

import "slices"

// SelectLatest returns the candidate with the highest version. Prereleases are
// ignored unless includePrereleases is set. When two candidates share the
// highest version the earlier one wins, so callers can encode priority in
// the order of candidates. Returns false when nothing qualifies.
func SelectLatest(candidates []ArchiveID, includePrereleases bool) (ArchiveID, bool) {
	var best ArchiveID
	found := false
	for _, c := range candidates {
		if !includePrereleases && c.Version.IsPrerelease() {
			continue
		}
		if !found || c.Version.Compare(best.Version) > 0 {
			best = c
			found = true
		}
	}
	return best, found
}

// FilterToLatest keeps the newest archive of every (name, variant) pair, in
// sorted order.
func FilterToLatest(ids []ArchiveID, includePrereleases bool) []ArchiveID {
	type group struct{ name, variant string }
	groups := make(map[group][]ArchiveID)
	var order []group
	for _, id := range ids {
		g := group{id.Name, id.Variant}
		if _, ok := groups[g]; !ok {
			order = append(order, g)
		}
		groups[g] = append(groups[g], id)
	}

	latest := make([]ArchiveID, 0, len(order))
	for _, g := range order {
		if id, ok := SelectLatest(groups[g], includePrereleases); ok {
			latest = append(latest, id)
		}
	}
	SortIDs(latest)
	return latest
}

// SortIDs sorts ids by name, variant and version.
func SortIDs(ids []ArchiveID) {
	slices.SortStableFunc(ids, func(a, b ArchiveID) int {
		return a.Compare(b)
	})
}
