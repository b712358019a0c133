// Package task defines the image-generation task domain model shared by the stores,
// the reconciler and the HTTP layer. It contains status and aspect ratio definitions,
// the partial update type and serialization helpers.
package task

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

type (
	Status      string
	AspectRatio string
	Task        struct {
		ID             string      `json:"id"`
		ProviderTaskID string      `json:"taskId"`
		Prompt         string      `json:"prompt"`
		AspectRatio    AspectRatio `json:"aspectRatio"`
		Status         Status      `json:"status"`
		ResultURLs     []string    `json:"resultUrls,omitempty"`
		FailureCode    string      `json:"failureCode,omitempty"`
		FailureMessage string      `json:"failureMessage,omitempty"`
		CostTime       *int64      `json:"costTime,omitempty"`
		CreatedAt      time.Time   `json:"createdAt"`
		UpdatedAt      time.Time   `json:"updatedAt"`
		CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	}
)

const (
	StatusWaiting Status = "waiting"
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
)

const (
	Ratio1x1  AspectRatio = "1:1"
	Ratio4x3  AspectRatio = "4:3"
	Ratio3x4  AspectRatio = "3:4"
	Ratio16x9 AspectRatio = "16:9"
	Ratio9x16 AspectRatio = "9:16"
)

const DefaultAspectRatio = Ratio1x1

var AspectRatios = []AspectRatio{Ratio1x1, Ratio4x3, Ratio3x4, Ratio16x9, Ratio9x16}

func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFail
}

func (s Status) Valid() bool {
	return s == StatusWaiting || s.IsTerminal()
}

func (r AspectRatio) Valid() bool {
	return slices.Contains(AspectRatios, r)
}

// NewTask returns a waiting task with a fresh id and no provider task id.
// An empty ratio becomes DefaultAspectRatio.
func NewTask(prompt string, ratio AspectRatio, now time.Time) *Task {
	if ratio == "" {
		ratio = DefaultAspectRatio
	}

	return &Task{
		ID:          NewID(),
		Prompt:      prompt,
		AspectRatio: ratio,
		Status:      StatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func NewID() string {
	return "task_" + uuid.New().String()
}

// Apply merges u into t and refreshes UpdatedAt. It does not check u.ExpectStatus;
// stores do that before calling Apply.
func (t *Task) Apply(u Update, now time.Time) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.ResultURLs != nil {
		t.ResultURLs = slices.Clone(u.ResultURLs)
	}
	if u.FailureCode != nil {
		t.FailureCode = *u.FailureCode
	}
	if u.FailureMessage != nil {
		t.FailureMessage = *u.FailureMessage
	}
	if u.CostTime != nil {
		v := *u.CostTime
		t.CostTime = &v
	}
	if u.CompletedAt != nil {
		v := *u.CompletedAt
		t.CompletedAt = &v
	}
	t.UpdatedAt = now
}

func (t *Task) Clone() *Task {
	c := *t
	c.ResultURLs = slices.Clone(t.ResultURLs)
	if t.CostTime != nil {
		v := *t.CostTime
		c.CostTime = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func FromJSON(data string) (*Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, err
	}

	return &t, nil
}
