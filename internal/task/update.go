package task

import "time"

// Update is a partial change to a task. Nil fields are left untouched.
// ExpectStatus, when set, makes the merge conditional on the stored status.
type Update struct {
	ExpectStatus   *Status
	Status         *Status
	ResultURLs     []string
	FailureCode    *string
	FailureMessage *string
	CostTime       *int64
	CompletedAt    *time.Time
}

// IsEmpty reports whether applying u would change nothing but UpdatedAt.
func (u Update) IsEmpty() bool {
	return u.Status == nil &&
		u.ResultURLs == nil &&
		u.FailureCode == nil &&
		u.FailureMessage == nil &&
		u.CostTime == nil &&
		u.CompletedAt == nil
}

// Allows reports whether u may be applied to a task currently in status s.
func (u Update) Allows(s Status) bool {
	return u.ExpectStatus == nil || *u.ExpectStatus == s
}

func Ptr[T any](v T) *T {
	return &v
}
