package domain

import (
	"strings"
	"time"
)

// ReferenceData holds the raw reference datasets an evaluation runs against.
// It is supplied by an external loader and treated as read-only. Any dataset
// may be missing.
type ReferenceData struct {
	Version string `json:"version,omitempty" yaml:"version"`

	ConflictPairs  []ConflictPair           `json:"conflictPairs,omitempty" yaml:"conflict_pairs"`
	UnitLimits     map[string]int           `json:"unitLimits,omitempty" yaml:"unit_limits"`
	Coverage       map[string]CoverageRule  `json:"coverage,omitempty" yaml:"coverage"`
	Exclusions     []string                 `json:"exclusions,omitempty" yaml:"exclusions"`
	Watchlist      []string                 `json:"watchlist,omitempty" yaml:"watchlist"`
	FeeBenchmarks  map[string]FeeBenchmark  `json:"feeBenchmarks,omitempty" yaml:"fee_benchmarks"`
	Risk           RiskConfig               `json:"risk" yaml:"risk"`
	AuthRequired   []string                 `json:"authRequired,omitempty" yaml:"auth_required"`
	Authorizations []Authorization          `json:"authorizations,omitempty" yaml:"authorizations"`
}

// ConflictPair is a procedure-to-procedure edit: two codes that should not
// be billed together without justification.
type ConflictPair struct {
	Column1           string `json:"column1" yaml:"column1"`
	Column2           string `json:"column2" yaml:"column2"`
	Citation          string `json:"citation,omitempty" yaml:"citation"`
	ModifierIndicator string `json:"modifierIndicator" yaml:"modifier_indicator"`
}

// Modifier indicator values for conflict pairs.
const (
	ModifierNotAllowed    = "0"
	ModifierAllowed       = "1"
	ModifierNotApplicable = "9"
)

// CoverageRule describes which diagnoses, ages, or experimental status make
// a procedure payable.
type CoverageRule struct {
	AllowedDiagnoses []string   `json:"allowedDiagnoses,omitempty" yaml:"allowed_diagnoses"`
	AgeRanges        []AgeRange `json:"ageRanges,omitempty" yaml:"age_ranges"`
	Experimental     bool       `json:"experimental,omitempty" yaml:"experimental"`
}

// AgeRange is an inclusive age window. A nil bound is open-ended.
type AgeRange struct {
	Min *int `json:"min,omitempty" yaml:"min"`
	Max *int `json:"max,omitempty" yaml:"max"`
}

// Contains reports whether age falls inside the range.
func (r AgeRange) Contains(age int) bool {
	if r.Min != nil && age < *r.Min {
		return false
	}
	if r.Max != nil && age > *r.Max {
		return false
	}
	return true
}

// FeeBenchmark is the expected payment for a procedure.
type FeeBenchmark struct {
	Rates        map[string]float64 `json:"rates,omitempty" yaml:"rates"`
	National     float64            `json:"national,omitempty" yaml:"national"`
	GlobalPeriod string             `json:"globalPeriod,omitempty" yaml:"global_period"`
}

// RiskConfig bundles provider and pricing risk parameters.
type RiskConfig struct {
	ROIMultiplier          float64  `json:"roiMultiplier,omitempty" yaml:"roi_multiplier"`
	VolumeThreshold        int      `json:"volumeThreshold,omitempty" yaml:"volume_threshold"`
	HighRiskSpecialties    []string `json:"highRiskSpecialties,omitempty" yaml:"high_risk_specialties"`
	DistanceThresholdMiles float64  `json:"distanceThresholdMiles,omitempty" yaml:"distance_threshold_miles"`
}

// Authorization is a prior-authorization record for a member.
type Authorization struct {
	Number    string     `json:"number" yaml:"number"`
	MemberID  string     `json:"memberId" yaml:"member_id"`
	Codes     []string   `json:"codes" yaml:"codes"`
	Status    string     `json:"status" yaml:"status"`
	ValidFrom *time.Time `json:"validFrom,omitempty" yaml:"valid_from"`
	ValidTo   *time.Time `json:"validTo,omitempty" yaml:"valid_to"`
}

// AuthStatusActive is the only status that satisfies a prior-auth check.
const AuthStatusActive = "active"

// ActiveOn reports whether the authorization is active on the given date.
// A nil date only checks the status.
func (a *Authorization) ActiveOn(date *time.Time) bool {
	if !strings.EqualFold(a.Status, AuthStatusActive) {
		return false
	}
	if date == nil {
		return true
	}
	if a.ValidFrom != nil && date.Before(*a.ValidFrom) {
		return false
	}
	if a.ValidTo != nil && date.After(*a.ValidTo) {
		return false
	}
	return true
}

// NormalizeCode trims and upper-cases a procedure or modifier code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeDiagnosis normalizes an ICD code so "e11.9" and "E119" compare equal.
func NormalizeDiagnosis(code string) string {
	return strings.ReplaceAll(NormalizeCode(code), ".", "")
}
