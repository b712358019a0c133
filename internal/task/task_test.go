package task

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	now := time.Now()
	tsk := NewTask("a cat", Ratio1x1, now)

	assert.True(t, strings.HasPrefix(tsk.ID, "task_"))
	assert.Equal(t, "a cat", tsk.Prompt)
	assert.Equal(t, Ratio1x1, tsk.AspectRatio)
	assert.Equal(t, StatusWaiting, tsk.Status)
	assert.Empty(t, tsk.ProviderTaskID)
	assert.Empty(t, tsk.ResultURLs)
	assert.Nil(t, tsk.CompletedAt)
	assert.Equal(t, now, tsk.CreatedAt)
	assert.Equal(t, now, tsk.UpdatedAt)
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id := NewID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestStatus(t *testing.T) {
	assert.False(t, StatusWaiting.IsTerminal())
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusFail.IsTerminal())

	assert.True(t, StatusWaiting.Valid())
	assert.False(t, Status("running").Valid())
}

func TestAspectRatioValid(t *testing.T) {
	for _, r := range []AspectRatio{"1:1", "4:3", "3:4", "16:9", "9:16"} {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, AspectRatio("2:1").Valid())
	assert.False(t, AspectRatio("").Valid())
}

func TestApply(t *testing.T) {
	created := time.Now().Add(-time.Minute)
	tsk := NewTask("a cat", Ratio1x1, created)

	done := created.Add(30 * time.Second)
	now := created.Add(40 * time.Second)
	tsk.Apply(Update{
		Status:      Ptr(StatusSuccess),
		ResultURLs:  []string{"https://x/1.png"},
		CostTime:    Ptr(int64(12)),
		CompletedAt: &done,
	}, now)

	assert.Equal(t, StatusSuccess, tsk.Status)
	assert.Equal(t, []string{"https://x/1.png"}, tsk.ResultURLs)
	require.NotNil(t, tsk.CostTime)
	assert.Equal(t, int64(12), *tsk.CostTime)
	require.NotNil(t, tsk.CompletedAt)
	assert.Equal(t, done, *tsk.CompletedAt)
	assert.Equal(t, now, tsk.UpdatedAt)
	assert.Equal(t, created, tsk.CreatedAt)
}

func TestApply_EmptyUpdateOnlyTouchesUpdatedAt(t *testing.T) {
	created := time.Now()
	tsk := NewTask("a cat", Ratio1x1, created)
	before := tsk.Clone()

	later := created.Add(time.Second)
	tsk.Apply(Update{}, later)

	assert.Equal(t, later, tsk.UpdatedAt)
	tsk.UpdatedAt = before.UpdatedAt
	assert.Equal(t, before, tsk)
}

func TestClone_IsDeep(t *testing.T) {
	done := time.Now()
	tsk := &Task{ID: "t1", ResultURLs: []string{"u1"}, CostTime: Ptr(int64(3)), CompletedAt: &done}

	c := tsk.Clone()
	c.ResultURLs[0] = "changed"
	*c.CostTime = 99
	*c.CompletedAt = done.Add(time.Hour)

	assert.Equal(t, "u1", tsk.ResultURLs[0])
	assert.Equal(t, int64(3), *tsk.CostTime)
	assert.Equal(t, done, *tsk.CompletedAt)
}

func TestUpdate(t *testing.T) {
	assert.True(t, Update{}.IsEmpty())
	assert.True(t, Update{ExpectStatus: Ptr(StatusWaiting)}.IsEmpty())
	assert.False(t, Update{Status: Ptr(StatusFail)}.IsEmpty())
	assert.False(t, Update{ResultURLs: []string{}}.IsEmpty())

	assert.True(t, Update{}.Allows(StatusSuccess))
	assert.True(t, Update{ExpectStatus: Ptr(StatusWaiting)}.Allows(StatusWaiting))
	assert.False(t, Update{ExpectStatus: Ptr(StatusWaiting)}.Allows(StatusFail))
}

func TestTaskJSON(t *testing.T) {
	tsk := NewTask("a cat", Ratio16x9, time.Now())
	tsk.ProviderTaskID = "p1"

	jsonStr, err := tsk.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, jsonStr, `"taskId":"p1"`)
	assert.Contains(t, jsonStr, `"aspectRatio":"16:9"`)
	assert.NotContains(t, jsonStr, "completedAt")
	assert.NotContains(t, jsonStr, "resultUrls")

	restored, err := FromJSON(jsonStr)
	require.NoError(t, err)
	assert.Equal(t, tsk.ID, restored.ID)
	assert.Equal(t, tsk.ProviderTaskID, restored.ProviderTaskID)
	assert.Equal(t, tsk.Status, restored.Status)
	assert.True(t, tsk.CreatedAt.Equal(restored.CreatedAt))
}

func TestFromJSON_InvalidJSON(t *testing.T) {
	_, err := FromJSON("invalid json")

	assert.Error(t, err)
}

func TestValidateCreate(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		ratio  AspectRatio
		fields []string
	}{
		{name: "valid", prompt: "a cat", ratio: Ratio1x1},
		{name: "default ratio", prompt: "a cat", ratio: ""},
		{name: "max length", prompt: strings.Repeat("a", 1000), ratio: Ratio9x16},
		{name: "max length multibyte", prompt: strings.Repeat("é", 1000), ratio: Ratio4x3},
		{name: "empty prompt", prompt: "", ratio: Ratio1x1, fields: []string{"prompt"}},
		{name: "too long", prompt: strings.Repeat("a", 1001), ratio: Ratio1x1, fields: []string{"prompt"}},
		{name: "bad ratio", prompt: "a cat", ratio: "2:1", fields: []string{"aspectRatio"}},
		{name: "both bad", prompt: "", ratio: "wide", fields: []string{"prompt", "aspectRatio"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCreate(tt.prompt, tt.ratio)
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			got := make([]string, 0, len(ve.Fields))
			for _, f := range ve.Fields {
				got = append(got, f.Field)
			}
			assert.Equal(t, tt.fields, got)
			assert.Contains(t, ve.Error(), "validation failed")
		})
	}
}
