package memory

import "time"

// Evidence is one historical fact backing a Claim, with a relevance weight:
// 1.0 for the latest value, 0.5 for any older one (spec §4.13).
type Evidence struct {
	Fact      Fact
	Relevance float64
}

// Claim is the context-pack output for a single requested key: the latest
// value plus its supporting evidence, any conflicts, a freshness score, and
// an aggregate confidence (spec §4.13).
type Claim struct {
	Key             string
	Value           any
	Evidence        []Evidence
	Conflicts       []Conflict
	FreshnessScore  float64
	Confidence      float64
}

// ContextPack builds one Claim per requested key, evaluated as of now
// against maxAge for freshness decay. A key with no recorded facts yields a
// Claim with zero value, no evidence, and zero confidence.
func (s *Semantic) ContextPack(keys []string, now time.Time, maxAge time.Duration) []Claim {
	claims := make([]Claim, 0, len(keys))
	for _, key := range keys {
		hist := s.GetHistory(key)
		claim := Claim{Key: key}
		if len(hist) == 0 {
			claims = append(claims, claim)
			continue
		}

		latest := hist[len(hist)-1]
		claim.Value = latest.Value
		claim.FreshnessScore = freshness(now, latest.Provenance.Timestamp, maxAge)

		for i, f := range hist {
			relevance := 0.5
			if i == len(hist)-1 {
				relevance = 1.0
			}
			claim.Evidence = append(claim.Evidence, Evidence{Fact: f, Relevance: relevance})
		}

		for _, c := range s.GetConflicts() {
			if c.Key == key {
				claim.Conflicts = append(claim.Conflicts, c)
			}
		}

		claim.Confidence = aggregateConfidence(claim.Evidence, claim.Conflicts)
		claims = append(claims, claim)
	}
	return claims
}

// freshness is a linear decay from 1.0 at age 0 to 0.0 at maxAge and beyond
// (spec §4.13).
func freshness(now, factTime time.Time, maxAge time.Duration) float64 {
	if maxAge <= 0 {
		return 0
	}
	age := now.Sub(factTime)
	if age <= 0 {
		return 1.0
	}
	if age >= maxAge {
		return 0.0
	}
	return 1.0 - float64(age)/float64(maxAge)
}

// aggregateConfidence is the mean of fact.Confidence*relevance across
// evidence, minus 0.1 per unresolved conflict, clamped to [0,1] (spec
// §4.13).
func aggregateConfidence(evidence []Evidence, conflicts []Conflict) float64 {
	if len(evidence) == 0 {
		return 0
	}
	var sum float64
	for _, e := range evidence {
		sum += e.Fact.Confidence * e.Relevance
	}
	mean := sum / float64(len(evidence))

	var unresolved int
	for _, c := range conflicts {
		if !c.Resolved {
			unresolved++
		}
	}
	mean -= 0.1 * float64(unresolved)

	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}
