package models

import (
	"slices"
	"strings"
	"time"
)

type Role string

const (
	RoleExecutor  Role = "executor"
	RoleManager   Role = "manager"
	RoleApplicant Role = "applicant"
	RoleAdmin     Role = "admin"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalBlocked  ApprovalStatus = "blocked"
)

// Executor is the read-only executor-facing subset of a user profile.
type Executor struct {
	ID              string         `json:"id"`
	FullName        string         `json:"full_name"`
	Roles           []Role         `json:"roles"`
	Approval        ApprovalStatus `json:"approval_status"`
	Specializations []string       `json:"specializations"`
	Rating          *float64       `json:"rating,omitempty"`
	HomeZone        string         `json:"home_zone,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (e *Executor) HasRole(r Role) bool {
	return slices.Contains(e.Roles, r)
}

func (e *Executor) IsApproved() bool {
	return e.Approval == ApprovalApproved
}

// Eligible reports whether the executor may be assigned shifts at all.
func (e *Executor) Eligible() bool {
	return e.IsApproved() && e.HasRole(RoleExecutor)
}

// NormalizeSpecialization is the canonical form used whenever two
// specialization names are compared.
func NormalizeSpecialization(spec string) string {
	return strings.ToLower(strings.TrimSpace(spec))
}

func (e *Executor) HasSpecialization(spec string) bool {
	want := NormalizeSpecialization(spec)
	if want == "" {
		return false
	}
	return slices.ContainsFunc(e.Specializations, func(have string) bool {
		return NormalizeSpecialization(have) == want
	})
}

func (e *Executor) Clone() *Executor {
	c := *e
	c.Roles = slices.Clone(e.Roles)
	c.Specializations = slices.Clone(e.Specializations)
	if e.Rating != nil {
		r := *e.Rating
		c.Rating = &r
	}
	return &c
}
