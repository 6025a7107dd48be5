package entities

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{JobPending, JobProcessing, true},
		{JobPending, JobCompleted, false},
		{JobPending, JobFailed, false},
		{JobProcessing, JobCompleted, true},
		{JobProcessing, JobFailed, true},
		{JobProcessing, JobPending, false},
		{JobCompleted, JobFailed, false},
		{JobCompleted, JobProcessing, false},
		{JobFailed, JobCompleted, false},
		{JobFailed, JobPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestJobLifecycleFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	job := &Job{ID: "job1", ToolType: ToolPDFToWord, Status: JobPending}

	require.NoError(t, job.MarkProcessing(now))
	assert.Empty(t, job.DownloadURL())

	require.NoError(t, job.MarkCompleted(JobOutput{Filename: "a_converted.docx", Ref: "ref", Size: 10}, 1500*time.Millisecond, now))
	assert.Equal(t, "/api/download/job1", job.DownloadURL())
	assert.Equal(t, int64(1500), job.ProcessingTimeMs)
	assert.Empty(t, job.ErrorMessage)

	err := job.MarkFailed("late failure", 0, now)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, JobCompleted, job.Status)
}

func TestJobFailedClearsOutput(t *testing.T) {
	now := time.Now()
	job := &Job{ID: "job2", Status: JobProcessing}

	require.NoError(t, job.MarkFailed("", time.Second, now))

	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, "conversion failed", job.ErrorMessage)
	assert.Empty(t, job.OutputFilename)
	assert.Empty(t, job.DownloadURL())
}

func TestJobViewTerminalFields(t *testing.T) {
	pending := (&Job{ID: "p", ToolType: ToolPDFToWord, Status: JobPending}).View()
	assert.Nil(t, pending.OutputFilename)
	assert.Nil(t, pending.DownloadURL)
	assert.Nil(t, pending.ErrorMessage)
	assert.Equal(t, 15, pending.EstimatedTime)

	done := (&Job{ID: "c", Status: JobCompleted, OutputFilename: "out.docx"}).View()
	require.NotNil(t, done.OutputFilename)
	require.NotNil(t, done.DownloadURL)
	assert.Equal(t, "/api/download/c", *done.DownloadURL)
	assert.Nil(t, done.ErrorMessage)

	failed := (&Job{ID: "f", Status: JobFailed, ErrorMessage: "boom"}).View()
	require.NotNil(t, failed.ErrorMessage)
	assert.Nil(t, failed.OutputFilename)
	assert.Nil(t, failed.DownloadURL)
}

func TestJobOwnership(t *testing.T) {
	owned := &Job{UserID: "alice"}
	assert.True(t, owned.IsOwnedBy("alice"))
	assert.False(t, owned.IsOwnedBy("bob"))
	assert.False(t, owned.IsOwnedBy(""))

	anonymous := &Job{}
	assert.True(t, anonymous.IsOwnedBy(""))
	assert.True(t, anonymous.IsOwnedBy("bob"))
}

func TestUserAdmitAtBoundary(t *testing.T) {
	tests := []struct {
		name    string
		daily   int
		monthly int
		allowed bool
		reason  DenialReason
	}{
		{name: "below limit", daily: 4, monthly: 4, allowed: true},
		{name: "daily at limit", daily: 5, monthly: 5, reason: DailyLimitExceeded},
		{name: "monthly at limit", daily: 0, monthly: 50, reason: MonthlyLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{DailyLimit: 5, MonthlyLimit: 50, DailyUsage: tt.daily, MonthlyUsage: tt.monthly}
			ok, reason := u.Admit()
			assert.Equal(t, tt.allowed, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestUserAdmitUnlimited(t *testing.T) {
	u := &User{DailyUsage: 1_000_000, MonthlyUsage: 1_000_000}
	ok, _ := u.Admit()
	assert.True(t, ok)
	assert.Equal(t, -1, u.Snapshot(time.Now()).DailyRemaining)
}

func TestUserRollOver(t *testing.T) {
	day1 := time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Hour)

	u := &User{DailyUsage: 3, MonthlyUsage: 9, DailyPeriod: DayPeriod(day1), MonthlyPeriod: MonthPeriod(day1)}
	u.RollOver(day1)
	assert.Equal(t, 3, u.DailyUsage)

	u.RollOver(day2)
	assert.Equal(t, 0, u.DailyUsage)
	assert.Equal(t, 0, u.MonthlyUsage)
	assert.Equal(t, 20260201, u.DailyPeriod)
	assert.Equal(t, 202602, u.MonthlyPeriod)
}

func TestSnapshotDoesNotMutate(t *testing.T) {
	past := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	u := User{DailyLimit: 5, DailyUsage: 5, DailyPeriod: DayPeriod(past), MonthlyPeriod: MonthPeriod(past)}

	s := u.Snapshot(past.AddDate(0, 0, 1))
	assert.Equal(t, 0, s.DailyUsage)
	assert.Equal(t, 5, s.DailyRemaining)
	assert.Equal(t, 5, u.DailyUsage)
}

func TestApplyPlan(t *testing.T) {
	u := &User{}
	u.ApplyPlan(PlanPro, SubscriptionActive)
	assert.Equal(t, 500, u.DailyLimit)

	u.ApplyPlan(PlanPro, SubscriptionPastDue)
	assert.Equal(t, PlanPro, u.Plan)
	assert.Equal(t, LimitsFor(PlanFree).Daily, u.DailyLimit)
}

func TestResetUsageScopes(t *testing.T) {
	now := time.Now()
	u := &User{DailyUsage: 2, MonthlyUsage: 7}

	u.ResetUsage(ScopeDaily, now)
	assert.Equal(t, 0, u.DailyUsage)
	assert.Equal(t, 7, u.MonthlyUsage)

	u.DailyUsage = 2
	u.ResetUsage(ScopeBoth, now)
	assert.Equal(t, 0, u.DailyUsage)
	assert.Equal(t, 0, u.MonthlyUsage)
}

func TestGenerateAPIKeyFormat(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "sk-"))
	assert.Len(t, key, 35)
	assert.True(t, ValidAPIKeyFormat(key))
	assert.Equal(t, key[:9], DisplayPrefix(key))

	other, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
	assert.NotEqual(t, HashAPIKey(key), HashAPIKey(other))
}

func TestValidAPIKeyFormat(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{name: "canonical", key: "sk-" + strings.Repeat("a1B2", 8), want: true},
		{name: "short", key: "sk-abc", want: false},
		{name: "long", key: "sk-" + strings.Repeat("a", 33), want: false},
		{name: "legacy prefix", key: "api_" + strings.Repeat("a", 32), want: false},
		{name: "symbols", key: "sk-" + strings.Repeat("-", 32), want: false},
		{name: "empty", key: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidAPIKeyFormat(tt.key))
		})
	}
}

func TestToolCatalog(t *testing.T) {
	tool, ok := LookupTool(ToolPDFToWord)
	require.True(t, ok)
	assert.Equal(t, ".docx", tool.OutputFormat)
	assert.Equal(t, 50, tool.MaxFileSize)

	_, ok = LookupTool("pdf_to_midi")
	assert.False(t, ok)

	assert.Len(t, Tools(), len(catalog))
	assert.Nil(t, ToolsByCategory("nope"))
	for _, tc := range ToolsByCategory(CategorySecurity) {
		assert.Equal(t, CategorySecurity, tc.Category)
	}

	tool.InputFormats[0] = ".exe"
	again, _ := LookupTool(ToolPDFToWord)
	assert.Equal(t, ".pdf", again.InputFormats[0])
}

func TestToolValidateInput(t *testing.T) {
	tool, _ := LookupTool(ToolPDFToWord)

	tests := []struct {
		name     string
		filename string
		size     int64
		wantErr  bool
	}{
		{name: "10MB pdf", filename: "report.pdf", size: 10 << 20},
		{name: "uppercase extension", filename: "REPORT.PDF", size: 1024},
		{name: "text file", filename: "notes.txt", size: 1024, wantErr: true},
		{name: "oversized", filename: "big.pdf", size: 51 << 20, wantErr: true},
		{name: "empty", filename: "empty.pdf", size: 0, wantErr: true},
		{name: "no name", filename: "", size: 10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tool.ValidateInput(tt.filename, tt.size)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}
