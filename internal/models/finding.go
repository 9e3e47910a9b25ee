// Package models holds the data shapes shared by the finding store, the
// priority queue and session tracking.
//
// Types here carry no behavior beyond validation, normalization and copying.
// Stores own the live values and hand out copies made with Clone.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"
)

// --- Status enum ---

// Status is the lifecycle state of a finding.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusFixed      Status = "fixed"
	StatusWontFix    Status = "wont_fix"
)

// validStatuses is the set of allowed finding statuses.
var validStatuses = map[Status]bool{
	StatusOpen:       true,
	StatusInProgress: true,
	StatusFixed:      true,
	StatusWontFix:    true,
}

// ValidateStatus returns an error if the status is not recognized.
func ValidateStatus(s Status) error {
	if !validStatuses[s] {
		return fmt.Errorf("invalid status %q: must be one of: open, in_progress, fixed, wont_fix", s)
	}
	return nil
}

// Closed reports whether the status counts as resolved in statistics.
func (s Status) Closed() bool {
	return s == StatusFixed || s == StatusWontFix
}

// --- Core data structures ---

// LineRange is an inclusive, 1-based line span.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Validate checks that the range is 1-based and not inverted.
func (r LineRange) Validate() error {
	if r.Start < 1 {
		return fmt.Errorf("line range start must be >= 1, got %d", r.Start)
	}
	if r.End < r.Start {
		return fmt.Errorf("line range end %d is before start %d", r.End, r.Start)
	}
	return nil
}

func (r LineRange) String() string {
	if r.Start == r.End {
		return fmt.Sprintf("L%d", r.Start)
	}
	return fmt.Sprintf("L%d-%d", r.Start, r.End)
}

// Finding is a single reported issue with location and description.
type Finding struct {
	Hash        string     `json:"hash"`
	File        string     `json:"file"`
	LineRange   *LineRange `json:"line_range,omitempty"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Severity    string     `json:"severity,omitempty"`
	ProposedFix string     `json:"proposed_fix,omitempty"`
	Status      Status     `json:"status"`
	IssueID     string     `json:"issue_id,omitempty"`
	Source      string     `json:"source,omitempty"`
	Revision    int64      `json:"revision"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of f.
func (f Finding) Clone() Finding {
	if f.LineRange != nil {
		lr := *f.LineRange
		f.LineRange = &lr
	}
	return f
}

// Validate checks the fields every finding must carry.
func (f Finding) Validate() error {
	if strings.TrimSpace(f.File) == "" {
		return fmt.Errorf("'file' is required")
	}
	if strings.TrimSpace(f.Type) == "" {
		return fmt.Errorf("'type' is required")
	}
	if strings.TrimSpace(f.Description) == "" {
		return fmt.Errorf("'description' is required")
	}
	if f.LineRange != nil {
		if err := f.LineRange.Validate(); err != nil {
			return err
		}
	}
	if f.Status != "" {
		if err := ValidateStatus(f.Status); err != nil {
			return err
		}
	}
	return nil
}

// --- Hashing ---

const hashLen = 16

// NormalizeFile returns the slash-separated, cleaned form of a file path.
func NormalizeFile(file string) string {
	f := strings.ReplaceAll(strings.TrimSpace(file), "\\", "/")
	if f == "" {
		return ""
	}
	return path.Clean(f)
}

// NormalizeType lower-cases a finding type and joins words with underscores.
// "Critical Security" → "critical_security"
func NormalizeType(typ string) string {
	return strings.Join(strings.Fields(strings.ToLower(typ)), "_")
}

// normalizeText collapses whitespace and lower-cases.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Hash is the dedup key of a finding: the first 16 hex characters of the
// SHA-256 of the normalized file, type and description joined by NUL.
func Hash(file, typ, description string) string {
	key := NormalizeFile(file) + "\x00" + NormalizeType(typ) + "\x00" + normalizeText(description)
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])[:hashLen]
}
