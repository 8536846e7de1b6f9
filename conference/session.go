// Package conference implements the route conference engine: it matches
// scanned volume labels against the set of labels expected for a route,
// tracks per-label scan counts, manages per-product exclusion overrides
// and computes the all-or-nothing finalization outcome.
package conference

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of a conference session. Transitions are
// one-way: not_started -> in_progress -> completed.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

var (
	// ErrNotInProgress is returned when a scan, exclusion or finalize is
	// attempted outside the in_progress state. This is a caller contract
	// violation, not an operator error.
	ErrNotInProgress = errors.New("conference: session is not in progress")
	// ErrAlreadyStarted is returned by Start on a session that left
	// not_started.
	ErrAlreadyStarted = errors.New("conference: session already started")
	// ErrInvalidReason is returned by MarkExcluded for a reason outside
	// the fixed enumeration.
	ErrInvalidReason = errors.New("conference: invalid exclusion reason")
)

// PartialError reports products that were scanned partially at finalize
// time. The operator must finish each product at 0% or 100%, or mark it
// excluded.
type PartialError struct {
	Products []string // "{orderID}|{productCode}" keys, sorted
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("conference: partial conference detected for %s, finish with 0%% or 100%% scanned per product", strings.Join(e.Products, ", "))
}

// ScanResult classifies the outcome of a single scan attempt.
type ScanResult int

const (
	// ScanAccepted means the scan matched and was counted.
	ScanAccepted ScanResult = iota
	// ScanIgnored means the input was empty after normalization; empty
	// scanner reads are dropped silently.
	ScanIgnored
	// ScanUnknown means the label does not belong to this route.
	ScanUnknown
	// ScanExcluded means the product is marked as excluded from scanning.
	ScanExcluded
	// ScanExcess means every expected volume for this code was already
	// scanned.
	ScanExcess
)

// ScanOutcome is the synchronous result of ResolveScan. Rejections are
// values, never errors crossing the package boundary; Message is suitable
// for showing to the operator as-is.
type ScanOutcome struct {
	Result  ScanResult
	Code    string
	Message string
	// Record is set only on accepted scans, ready to be persisted.
	Record *ScanRecord
}

// Outcome is the immutable result of a finalized conference.
type Outcome struct {
	ResultOK      bool
	MissingLabels []string
	Exclusions    []ExclusionMark
	FinishedAt    time.Time
}

// Session owns the state of one route's conference pass. The expected
// label multiset is fixed at construction; only scan counts and exclusion
// marks mutate. A session is single-operator and is not safe for
// concurrent use.
type Session struct {
	id      string
	routeID string
	status  Status

	expected []ExpectedLabel
	// capacity is the expected count per canonical code. Normally 1, but
	// duplicate labels in the source data are tolerated.
	capacity map[string]int
	counts   map[string]int
	// owner resolves a code to its expected label for order and product
	// attribution. First label wins on duplicates.
	owner      map[string]ExpectedLabel
	exclusions map[string]ExclusionMark
}

// NewSession builds a session over a fixed expected label set. The session
// starts in not_started; call Start before scanning.
func NewSession(id, routeID string, expected []ExpectedLabel) *Session {
	s := &Session{
		id:         id,
		routeID:    routeID,
		status:     StatusNotStarted,
		expected:   expected,
		capacity:   make(map[string]int, len(expected)),
		counts:     make(map[string]int, len(expected)),
		owner:      make(map[string]ExpectedLabel, len(expected)),
		exclusions: make(map[string]ExclusionMark),
	}
	for _, el := range expected {
		s.capacity[el.Code]++
		if _, ok := s.owner[el.Code]; !ok {
			s.owner[el.Code] = el
		}
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// RouteID returns the route this session confers.
func (s *Session) RouteID() string { return s.routeID }

// Status returns the current lifecycle state.
func (s *Session) Status() Status { return s.status }

// Expected returns the fixed expected label set.
func (s *Session) Expected() []ExpectedLabel {
	out := make([]ExpectedLabel, len(s.expected))
	copy(out, s.expected)
	return out
}

// Counts returns a copy of the per-code accepted scan counts.
func (s *Session) Counts() map[string]int {
	out := make(map[string]int, len(s.counts))
	for code, n := range s.counts {
		out[code] = n
	}
	return out
}

// ScannedCount returns the accepted scan count for one code.
func (s *Session) ScannedCount(code string) int { return s.counts[code] }

// Exclusions returns the outstanding exclusion marks, sorted by key.
func (s *Session) Exclusions() []ExclusionMark {
	keys := make([]string, 0, len(s.exclusions))
	for k := range s.exclusions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ExclusionMark, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.exclusions[k])
	}
	return out
}

// Start moves the session from not_started to in_progress.
func (s *Session) Start() error {
	if s.status != StatusNotStarted {
		return ErrAlreadyStarted
	}
	s.status = StatusInProgress
	return nil
}

// maxSuffixStrips bounds the fallback loop; printed labels never carry
// more than a couple of appended suffixes.
const maxSuffixStrips = 10

// ResolveScan matches raw scanner input against the expected label set.
// An exact match on the normalized key is tried first; failing that, the
// fallback repeatedly strips a trailing "-{digits}" segment, which
// tolerates extra numeric suffixes some label printers append. Accepted
// scans increment the code's count and return a ScanRecord for
// persistence. All rejections leave the session unchanged.
func (s *Session) ResolveScan(raw string) (ScanOutcome, error) {
	if s.status != StatusInProgress {
		return ScanOutcome{}, ErrNotInProgress
	}

	norm := Normalize(raw)
	if norm == "" {
		return ScanOutcome{Result: ScanIgnored}, nil
	}

	code, ok := s.matchCode(norm)
	if !ok {
		return ScanOutcome{
			Result:  ScanUnknown,
			Code:    norm,
			Message: "label does not belong to this route",
		}, nil
	}

	label := s.owner[code]
	if _, excluded := s.exclusions[exclusionKey(label.OrderID, label.ProductCode)]; excluded {
		return ScanOutcome{
			Result:  ScanExcluded,
			Code:    code,
			Message: "product marked as excluded from scanning",
		}, nil
	}

	if s.counts[code] >= s.capacity[code] {
		return ScanOutcome{
			Result:  ScanExcess,
			Code:    code,
			Message: "excess volume for this code",
		}, nil
	}

	s.counts[code]++
	return ScanOutcome{
		Result: ScanAccepted,
		Code:   code,
		Record: &ScanRecord{
			NormalizedCode: code,
			OrderID:        label.OrderID,
			ProductCode:    label.ProductCode,
			VolumeIndex:    label.VolumeIndex,
			VolumeTotal:    label.VolumeTotal,
			Matched:        true,
		},
	}, nil
}

// matchCode resolves a normalized key to a known expected code, stripping
// trailing numeric suffixes one at a time. The loop never strips past the
// '/' separator and never empties the product code portion.
func (s *Session) matchCode(norm string) (string, bool) {
	if _, ok := s.capacity[norm]; ok {
		return norm, true
	}
	slash := strings.Index(norm, "/")
	if slash < 0 {
		return "", false
	}
	cand := norm
	for i := 0; i < maxSuffixStrips; i++ {
		dash := strings.LastIndex(cand, "-")
		if dash < 0 || dash < slash {
			return "", false
		}
		if !allDigits(cand[dash+1:]) {
			return "", false
		}
		next := cand[:dash]
		if !strings.Contains(next[slash:], "-") {
			return "", false
		}
		cand = next
		if _, ok := s.capacity[cand]; ok {
			return cand, true
		}
	}
	return "", false
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MarkExcluded records a "do not scan" override for a product. The reason
// must come from the fixed enumeration; validation failures mutate
// nothing. While the mark exists no scan is accepted for the product.
// The product code is matched case-insensitively; order data carries SKUs
// in their printed casing while expected labels are lowercased.
func (s *Session) MarkExcluded(orderID, productCode string, reason ExclusionReason, notes string) error {
	if s.status != StatusInProgress {
		return ErrNotInProgress
	}
	if !reason.Valid() {
		return ErrInvalidReason
	}
	productCode = canonicalProductCode(productCode)
	s.exclusions[exclusionKey(orderID, productCode)] = ExclusionMark{
		OrderID:     orderID,
		ProductCode: productCode,
		Reason:      reason,
		Notes:       notes,
	}
	return nil
}

// ClearExclusion removes a product's exclusion mark. Scanning resumes
// immediately for its remaining volumes. Clearing an absent mark is a
// no-op.
func (s *Session) ClearExclusion(orderID, productCode string) error {
	if s.status != StatusInProgress {
		return ErrNotInProgress
	}
	delete(s.exclusions, exclusionKey(orderID, canonicalProductCode(productCode)))
	return nil
}

// Finalize closes the conference. Every non-excluded product must be
// scanned fully or not at all; a partial product refuses finalization
// with *PartialError and leaves the session in progress. Labels of
// excluded products are left out of the missing-label deficit entirely;
// the outcome is OK only when nothing is missing and no exclusion is
// outstanding. Finalize transitions the session to completed, after which
// no further operation is accepted.
func (s *Session) Finalize() (*Outcome, error) {
	if s.status != StatusInProgress {
		return nil, ErrNotInProgress
	}

	type tally struct{ total, scanned int }
	perProduct := make(map[string]*tally)
	for _, el := range s.expected {
		key := exclusionKey(el.OrderID, el.ProductCode)
		t := perProduct[key]
		if t == nil {
			t = &tally{}
			perProduct[key] = t
		}
		t.total++
	}
	for code, n := range s.counts {
		el := s.owner[code]
		perProduct[exclusionKey(el.OrderID, el.ProductCode)].scanned += n
	}

	var partial []string
	for key, t := range perProduct {
		if _, excluded := s.exclusions[key]; excluded {
			continue
		}
		if t.scanned > 0 && t.scanned < t.total {
			partial = append(partial, key)
		}
	}
	if len(partial) > 0 {
		sort.Strings(partial)
		return nil, &PartialError{Products: partial}
	}

	var missing []string
	for code, capacity := range s.capacity {
		el := s.owner[code]
		if _, excluded := s.exclusions[exclusionKey(el.OrderID, el.ProductCode)]; excluded {
			continue
		}
		if s.counts[code] < capacity {
			missing = append(missing, code)
		}
	}
	sort.Strings(missing)

	s.status = StatusCompleted
	return &Outcome{
		ResultOK:      len(missing) == 0 && len(s.exclusions) == 0,
		MissingLabels: missing,
		Exclusions:    s.Exclusions(),
		FinishedAt:    time.Now(),
	}, nil
}
