// Package refindex builds immutable lookup structures over reference datasets.
package refindex

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// PairKey is an unordered pair of procedure codes with A <= B.
type PairKey struct {
	A string
	B string
}

// NewPairKey returns the canonical key for two codes regardless of order.
func NewPairKey(x, y string) PairKey {
	x, y = domain.NormalizeCode(x), domain.NormalizeCode(y)
	if y < x {
		x, y = y, x
	}
	return PairKey{A: x, B: y}
}

// Index is a read-only view over one reference snapshot.
// It is never mutated after Build returns.
type Index struct {
	version     string
	fingerprint string

	pairs      map[PairKey]domain.ConflictPair
	unitLimits map[string]int
	coverage   map[string]coverageEntry
	excluded   map[string]struct{}
	watchlist  map[string]struct{}
	benchmarks map[string]domain.FeeBenchmark
	authCodes  map[string]struct{}

	// member id -> authorizations with normalized codes
	authorizations map[string][]domain.Authorization

	risk             domain.RiskConfig
	riskySpecialties map[string]struct{}
}

type coverageEntry struct {
	rule    domain.CoverageRule
	allowed map[string]struct{}
}

// Build indexes the raw datasets. A nil or partially empty dataset yields
// empty lookups, never an error.
func Build(data *domain.ReferenceData) *Index {
	if data == nil {
		data = &domain.ReferenceData{}
	}

	idx := &Index{
		version:          data.Version,
		fingerprint:      contentHash(data),
		pairs:            make(map[PairKey]domain.ConflictPair, len(data.ConflictPairs)),
		unitLimits:       make(map[string]int, len(data.UnitLimits)),
		coverage:         make(map[string]coverageEntry, len(data.Coverage)),
		excluded:         toSet(data.Exclusions, strings.TrimSpace),
		watchlist:        toSet(data.Watchlist, strings.TrimSpace),
		benchmarks:       make(map[string]domain.FeeBenchmark, len(data.FeeBenchmarks)),
		authCodes:        toSet(data.AuthRequired, domain.NormalizeCode),
		authorizations:   make(map[string][]domain.Authorization),
		risk:             data.Risk,
		riskySpecialties: toSet(data.Risk.HighRiskSpecialties, normalizeSpecialty),
	}
	idx.risk.HighRiskSpecialties = append([]string(nil), data.Risk.HighRiskSpecialties...)

	for _, p := range data.ConflictPairs {
		if strings.TrimSpace(p.Column1) == "" || strings.TrimSpace(p.Column2) == "" {
			continue
		}
		p.ModifierIndicator = strings.TrimSpace(p.ModifierIndicator)
		key := NewPairKey(p.Column1, p.Column2)
		// First occurrence wins
		if _, ok := idx.pairs[key]; !ok {
			idx.pairs[key] = p
		}
	}

	for code, limit := range data.UnitLimits {
		idx.unitLimits[domain.NormalizeCode(code)] = limit
	}

	for code, rule := range data.Coverage {
		rule.AllowedDiagnoses = append([]string(nil), rule.AllowedDiagnoses...)
		rule.AgeRanges = copyAgeRanges(rule.AgeRanges)
		idx.coverage[domain.NormalizeCode(code)] = coverageEntry{
			rule:    rule,
			allowed: toSet(rule.AllowedDiagnoses, domain.NormalizeDiagnosis),
		}
	}

	for code, bench := range data.FeeBenchmarks {
		rates := make(map[string]float64, len(bench.Rates))
		for region, rate := range bench.Rates {
			rates[normalizeRegion(region)] = rate
		}
		bench.Rates = rates
		idx.benchmarks[domain.NormalizeCode(code)] = bench
	}

	for _, auth := range data.Authorizations {
		codes := make([]string, 0, len(auth.Codes))
		for _, c := range auth.Codes {
			codes = append(codes, domain.NormalizeCode(c))
		}
		auth.Codes = codes
		auth.ValidFrom = copyTime(auth.ValidFrom)
		auth.ValidTo = copyTime(auth.ValidTo)
		member := strings.TrimSpace(auth.MemberID)
		idx.authorizations[member] = append(idx.authorizations[member], auth)
	}

	return idx
}

// Empty returns an index with no datasets.
func Empty() *Index {
	return Build(nil)
}

// Version returns the snapshot version label.
func (i *Index) Version() string {
	return i.version
}

// Fingerprint identifies the snapshot content. Two snapshots with the same
// version label but different datasets have different fingerprints.
func (i *Index) Fingerprint() string {
	return i.fingerprint
}

// ConflictFor returns the conflict pair for two codes, in either order.
func (i *Index) ConflictFor(a, b string) (domain.ConflictPair, bool) {
	p, ok := i.pairs[NewPairKey(a, b)]
	return p, ok
}

// UnitLimit returns the maximum units per day for a code.
func (i *Index) UnitLimit(code string) (int, bool) {
	l, ok := i.unitLimits[domain.NormalizeCode(code)]
	return l, ok
}

// Coverage returns the coverage rule for a code.
func (i *Index) Coverage(code string) (domain.CoverageRule, bool) {
	e, ok := i.coverage[domain.NormalizeCode(code)]
	return e.rule, ok
}

// DiagnosisAllowed reports whether any of the normalized diagnoses is in the
// code's allowed set. Codes without a diagnosis restriction always allow.
func (i *Index) DiagnosisAllowed(code string, diagnoses []string) bool {
	e, ok := i.coverage[domain.NormalizeCode(code)]
	if !ok || len(e.allowed) == 0 {
		return true
	}
	for _, d := range diagnoses {
		if _, hit := e.allowed[domain.NormalizeDiagnosis(d)]; hit {
			return true
		}
	}
	return false
}

// IsExcluded reports whether the provider is on the exclusion list.
func (i *Index) IsExcluded(npi string) bool {
	_, ok := i.excluded[strings.TrimSpace(npi)]
	return ok
}

// IsWatchlisted reports whether the provider is on the internal watchlist.
func (i *Index) IsWatchlisted(npi string) bool {
	_, ok := i.watchlist[strings.TrimSpace(npi)]
	return ok
}

// Benchmark returns the fee benchmark for a code.
func (i *Index) Benchmark(code string) (domain.FeeBenchmark, bool) {
	b, ok := i.benchmarks[domain.NormalizeCode(code)]
	return b, ok
}

// ExpectedRate returns the region rate for a code, falling back to the
// national rate. A zero result means no usable rate.
func (i *Index) ExpectedRate(code, region string) float64 {
	b, ok := i.Benchmark(code)
	if !ok {
		return 0
	}
	if region = normalizeRegion(region); region != "" {
		if r, ok := b.Rates[region]; ok && r > 0 {
			return r
		}
	}
	return b.National
}

// Risk returns the provider and pricing risk parameters.
func (i *Index) Risk() domain.RiskConfig {
	return i.risk
}

// IsHighRiskSpecialty compares case-insensitively.
func (i *Index) IsHighRiskSpecialty(specialty string) bool {
	if specialty == "" {
		return false
	}
	_, ok := i.riskySpecialties[normalizeSpecialty(specialty)]
	return ok
}

// RequiresAuth reports whether a code needs prior authorization.
func (i *Index) RequiresAuth(code string) bool {
	_, ok := i.authCodes[domain.NormalizeCode(code)]
	return ok
}

// AuthorizationsFor returns the member's authorizations. The returned slice
// must not be modified.
func (i *Index) AuthorizationsFor(memberID string) []domain.Authorization {
	return i.authorizations[strings.TrimSpace(memberID)]
}

// Stats summarizes dataset sizes for health and admin endpoints.
type Stats struct {
	Version        string `json:"version"`
	ConflictPairs  int    `json:"conflictPairs"`
	UnitLimits     int    `json:"unitLimits"`
	Coverage       int    `json:"coverage"`
	Exclusions     int    `json:"exclusions"`
	Watchlist      int    `json:"watchlist"`
	FeeBenchmarks  int    `json:"feeBenchmarks"`
	AuthRequired   int    `json:"authRequired"`
	Authorizations int    `json:"authorizations"`
}

// Stats returns dataset sizes.
func (i *Index) Stats() Stats {
	auths := 0
	for _, list := range i.authorizations {
		auths += len(list)
	}
	return Stats{
		Version:        i.version,
		ConflictPairs:  len(i.pairs),
		UnitLimits:     len(i.unitLimits),
		Coverage:       len(i.coverage),
		Exclusions:     len(i.excluded),
		Watchlist:      len(i.watchlist),
		FeeBenchmarks:  len(i.benchmarks),
		AuthRequired:   len(i.authCodes),
		Authorizations: auths,
	}
}

// generation makes fingerprints unique for snapshots that cannot be encoded.
var generation atomic.Uint64

// contentHash hashes the JSON encoding of the datasets. Map keys are encoded
// in sorted order so equal content hashes equally.
func contentHash(data *domain.ReferenceData) string {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("gen-%d", generation.Add(1))
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:16])
}

func copyAgeRanges(ranges []domain.AgeRange) []domain.AgeRange {
	if ranges == nil {
		return nil
	}
	out := make([]domain.AgeRange, len(ranges))
	for i, r := range ranges {
		out[i] = domain.AgeRange{Min: copyInt(r.Min), Max: copyInt(r.Max)}
	}
	return out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func normalizeRegion(region string) string {
	return strings.ToUpper(strings.TrimSpace(region))
}

func normalizeSpecialty(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func toSet(values []string, norm func(string) string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = norm(v)
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}
