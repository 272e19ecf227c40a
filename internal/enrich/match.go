package enrich

import "go.uber.org/zap"

// IndexProfiles keys profiles by normalized public identifier. Profiles
// without a usable identifier are dropped. When two profiles share a key the
// later one wins.
func IndexProfiles(profiles []Profile) map[string]Profile {
	idx := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		key, err := NormalizeHandle(p.PublicIdentifier)
		if err != nil {
			zap.L().Debug("enrich: skipping profile without identifier",
				zap.String("linkedin_url", deref(p.LinkedinURL)),
			)
			continue
		}
		if _, dup := idx[key]; dup {
			zap.L().Debug("enrich: duplicate profile, keeping latest", zap.String("handle", key))
		}
		idx[key] = p
	}
	return idx
}

// Partition splits candidates into those the index resolves and those it
// does not. Every candidate lands in exactly one side, in input order.
func Partition(candidates []Candidate, idx map[string]Profile) ([]Match, []Candidate) {
	var matched []Match
	var unmatched []Candidate
	for _, c := range candidates {
		key, err := NormalizeHandle(c.RawHandle)
		if err != nil {
			unmatched = append(unmatched, c)
			continue
		}
		if p, ok := idx[key]; ok {
			matched = append(matched, Match{Candidate: c, Profile: p})
			continue
		}
		unmatched = append(unmatched, c)
	}
	return matched, unmatched
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
