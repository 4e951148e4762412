package protocol

import "time"

// Narration job kinds routed by the worker.
const (
	KindRead      = "read"
	KindSummarise = "summarise"
	KindPodcast   = "podcast"
)

// NarrationJob is the unit of work published to the narration queue.
type NarrationJob struct {
	TaskID  string `json:"task_id"`
	PaperID string `json:"paper_id"`
	Kind    string `json:"kind"`
	Voice   string `json:"voice,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// JobProgress reports a stage change for a running narration job.
type JobProgress struct {
	TaskID    string    `json:"task_id"`
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectNarrateJobs    = "jobs.narrate"
	SubjectProgressPrefix = "jobs.progress"
)

// ProgressSubject returns the per-task progress subject.
func ProgressSubject(taskID string) string {
	return SubjectProgressPrefix + "." + taskID
}

// ValidKind reports whether kind names a routable narration job.
func ValidKind(kind string) bool {
	switch kind {
	case KindRead, KindSummarise, KindPodcast:
		return true
	}
	return false
}
