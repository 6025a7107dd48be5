package entities

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo encodes pending -> processing -> completed|failed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobProcessing
	case JobProcessing:
		return next == JobCompleted || next == JobFailed
	}
	return false
}

const DownloadPathPrefix = "/api/download/"

type Job struct {
	ID               string            `json:"id"`
	UserID           string            `json:"userId,omitempty"`
	APIKeyID         string            `json:"apiKeyId,omitempty"`
	ToolType         ToolType          `json:"toolType"`
	Status           JobStatus         `json:"status"`
	InputFilename    string            `json:"inputFilename"`
	InputRef         string            `json:"-"`
	InputFileSize    int64             `json:"inputFileSize"`
	OutputFilename   string            `json:"outputFilename,omitempty"`
	OutputRef        string            `json:"-"`
	OutputFileSize   int64             `json:"outputFileSize,omitempty"`
	ProcessingTimeMs int64             `json:"processingTime,omitempty"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	Options          map[string]string `json:"options,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// JobOutput is what a successful conversion produced.
type JobOutput struct {
	Filename string
	Ref      string
	Size     int64
}

// IsOwnedBy reports whether requester may see the job. Ownerless jobs are visible by id alone.
func (j *Job) IsOwnedBy(requesterID string) bool {
	if j.UserID == "" {
		return true
	}
	return j.UserID == requesterID
}

// DownloadURL is derived from status, never stored.
func (j *Job) DownloadURL() string {
	if j.Status != JobCompleted {
		return ""
	}
	return DownloadPathPrefix + j.ID
}

func (j *Job) MarkProcessing(now time.Time) error {
	if !j.Status.CanTransitionTo(JobProcessing) {
		return transitionError(j.Status, JobProcessing)
	}
	j.Status = JobProcessing
	j.UpdatedAt = now
	return nil
}

func (j *Job) MarkCompleted(out JobOutput, elapsed time.Duration, now time.Time) error {
	if !j.Status.CanTransitionTo(JobCompleted) {
		return transitionError(j.Status, JobCompleted)
	}
	if out.Filename == "" {
		return &ValidationError{Field: "outputFilename", Message: "completed job requires an output filename"}
	}
	j.Status = JobCompleted
	j.OutputFilename = out.Filename
	j.OutputRef = out.Ref
	j.OutputFileSize = out.Size
	j.ErrorMessage = ""
	j.ProcessingTimeMs = elapsed.Milliseconds()
	j.UpdatedAt = now
	return nil
}

func (j *Job) MarkFailed(message string, elapsed time.Duration, now time.Time) error {
	if !j.Status.CanTransitionTo(JobFailed) {
		return transitionError(j.Status, JobFailed)
	}
	if message == "" {
		message = "conversion failed"
	}
	j.Status = JobFailed
	j.ErrorMessage = message
	j.OutputFilename = ""
	j.OutputRef = ""
	j.OutputFileSize = 0
	j.ProcessingTimeMs = elapsed.Milliseconds()
	j.UpdatedAt = now
	return nil
}

func (j *Job) Clone() *Job {
	c := *j
	if j.Options != nil {
		c.Options = make(map[string]string, len(j.Options))
		for k, v := range j.Options {
			c.Options[k] = v
		}
	}
	return &c
}

// JobStatusView is the client-facing poll response.
type JobStatusView struct {
	JobID          string    `json:"jobId"`
	ToolType       ToolType  `json:"toolType"`
	Status         JobStatus `json:"status"`
	InputFilename  string    `json:"inputFilename"`
	InputFileSize  int64     `json:"inputFileSize"`
	OutputFilename *string   `json:"outputFilename"`
	OutputFileSize int64     `json:"outputFileSize,omitempty"`
	DownloadURL    *string   `json:"downloadUrl"`
	ProcessingTime *int64    `json:"processingTime"`
	ErrorMessage   *string   `json:"errorMessage"`
	EstimatedTime  int       `json:"estimatedTime"`
	PollInterval   int       `json:"pollInterval"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// PollIntervalSeconds is the suggested delay between status polls.
const PollIntervalSeconds = 2

func (j *Job) View() JobStatusView {
	v := JobStatusView{
		JobID:         j.ID,
		ToolType:      j.ToolType,
		Status:        j.Status,
		InputFilename: j.InputFilename,
		InputFileSize: j.InputFileSize,
		PollInterval:  PollIntervalSeconds,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
	if tool, ok := LookupTool(j.ToolType); ok {
		v.EstimatedTime = tool.ProcessingTimeEstimate
	}
	switch j.Status {
	case JobCompleted:
		name, url, ms := j.OutputFilename, j.DownloadURL(), j.ProcessingTimeMs
		v.OutputFilename = &name
		v.OutputFileSize = j.OutputFileSize
		v.DownloadURL = &url
		v.ProcessingTime = &ms
	case JobFailed:
		msg, ms := j.ErrorMessage, j.ProcessingTimeMs
		v.ErrorMessage = &msg
		v.ProcessingTime = &ms
	}
	return v
}
