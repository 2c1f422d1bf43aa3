package peaks

import (
	"math"
	"sort"

	"autoqc/internal/store"
)

// Reconcile keeps rows whose name exactly matches a reference compound and
// resolves duplicates so each compound appears at most once. Output follows
// the order of refs. Compounds without a row are omitted.
//
// Matching is case-sensitive. Parse trims surrounding whitespace from every
// cell, so " Caffeine " in a table matches the reference "Caffeine" while
// "caffeine" does not.
//
// Among several candidates, confirmation-tagged rows are preferred. Remaining
// ties are broken by smallest |ΔRT|, then smallest |Δm/z|, then highest
// intensity, then earliest row. A row minimising both deltas therefore always
// wins when one exists.
func Reconcile(rows []Row, refs []store.ReferenceCompound) []store.Feature {
	byName := make(map[string][]Row, len(refs))
	for _, row := range rows {
		byName[row.Name] = append(byName[row.Name], row)
	}

	features := make([]store.Feature, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if _, dup := seen[ref.Name]; dup {
			continue
		}
		seen[ref.Name] = struct{}{}
		candidates := byName[ref.Name]
		if len(candidates) == 0 {
			continue
		}
		best := pick(candidates, ref)
		features = append(features, store.Feature{
			Compound:   ref.Name,
			ObservedMZ: best.MZ,
			ObservedRT: best.RT,
			Intensity:  best.Intensity,
			Confirmed:  best.Confirmed,
		})
	}
	return features
}

func pick(candidates []Row, ref store.ReferenceCompound) Row {
	if len(candidates) == 1 {
		return candidates[0]
	}
	pool := candidates
	var confirmed []Row
	for _, c := range candidates {
		if c.Confirmed {
			confirmed = append(confirmed, c)
		}
	}
	if len(confirmed) > 0 {
		pool = confirmed
	}
	if len(pool) == 1 {
		return pool[0]
	}

	ranked := append([]Row(nil), pool...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if da, db := math.Abs(a.RT-ref.ExpectedRT), math.Abs(b.RT-ref.ExpectedRT); da != db {
			return da < db
		}
		if da, db := math.Abs(a.MZ-ref.ExpectedMZ), math.Abs(b.MZ-ref.ExpectedMZ); da != db {
			return da < db
		}
		if a.Intensity != b.Intensity {
			return a.Intensity > b.Intensity
		}
		return a.Order < b.Order
	})
	return ranked[0]
}
