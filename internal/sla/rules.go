// Package sla audits long-running workflow records for due-date breaches and
// escalates each breach exactly once.
package sla

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidRule is returned when a rule references an unusable identifier.
var ErrInvalidRule = errors.New("sla: invalid rule")

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Rule describes one monitored workflow stage. A record breaches the rule when
// it matches the status predicate, has not been escalated, and DueField lies
// strictly before the audit time.
type Rule struct {
	Name         string
	SourceTable  string
	StatusColumn string
	StatusValues []string
	// NullColumn, when set, adds "<NullColumn> IS NULL" to the predicate.
	NullColumn    string
	DueField      string
	EntityIDField string
	NotifyRole    string
}

// DefaultRules returns the doctoral programme SLA table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:         "scrutiny-delay",
			SourceTable:  "phd_applications",
			StatusColumn: "status",
			StatusValues: []string{"SUBMITTED"},
			DueField:     "due_at",
			NotifyRole:   "SCRUTINY_COMMITTEE",
		},
		{
			Name:        "interview-delay",
			SourceTable: "phd_interviews",
			NullColumn:  "completed_at",
			DueField:    "due_at",
			NotifyRole:  "INTERVIEW_PANEL",
		},
		{
			Name:         "verification-delay",
			SourceTable:  "phd_document_verifications",
			StatusColumn: "status",
			StatusValues: []string{"PENDING"},
			DueField:     "due_at",
			NotifyRole:   "VERIFICATION_OFFICER",
		},
		{
			Name:         "exemption-delay",
			SourceTable:  "phd_exemption_requests",
			StatusColumn: "status",
			StatusValues: []string{"PENDING"},
			DueField:     "decision_due_at",
			NotifyRole:   "DEAN",
		},
		{
			Name:         "guide-allocation-delay",
			SourceTable:  "phd_guide_allocations",
			StatusColumn: "status",
			StatusValues: []string{"PENDING"},
			DueField:     "allocation_due_at",
			NotifyRole:   "DEPARTMENT_HEAD",
		},
	}
}

// IDField returns the column identifying a record, "id" unless overridden.
func (r Rule) IDField() string {
	if r.EntityIDField == "" {
		return "id"
	}
	return r.EntityIDField
}

// Validate checks that every identifier is a plain lower-case SQL name and
// that the rule has at least one predicate besides the due date.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidRule)
	}
	idents := [][2]string{
		{"source table", r.SourceTable},
		{"due field", r.DueField},
		{"id field", r.IDField()},
	}
	if r.StatusColumn != "" {
		idents = append(idents, [2]string{"status column", r.StatusColumn})
	}
	if r.NullColumn != "" {
		idents = append(idents, [2]string{"null column", r.NullColumn})
	}
	for _, id := range idents {
		if !identPattern.MatchString(id[1]) {
			return fmt.Errorf("%w: %s: %s %q", ErrInvalidRule, r.Name, id[0], id[1])
		}
	}
	if r.StatusColumn != "" && len(r.StatusValues) == 0 {
		return fmt.Errorf("%w: %s: status column without values", ErrInvalidRule, r.Name)
	}
	if r.StatusColumn == "" && r.NullColumn == "" {
		return fmt.Errorf("%w: %s: status or null predicate required", ErrInvalidRule, r.Name)
	}
	if strings.TrimSpace(r.NotifyRole) == "" {
		return fmt.Errorf("%w: %s: notify role required", ErrInvalidRule, r.Name)
	}
	return nil
}

// ValidateRules validates each rule and rejects duplicate names.
func ValidateRules(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, ok := seen[r.Name]; ok {
			return fmt.Errorf("%w: duplicate rule %s", ErrInvalidRule, r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

// FindRule looks a rule up by name.
func FindRule(rules []Rule, name string) (Rule, bool) {
	for _, r := range rules {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}
