package models

// PipelineStatus is the operational view of the pipeline: how many events sit in each state.
type PipelineStatus struct {
	Counts map[Status]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

// NewPipelineStatus fills every known status, including empty ones.
func NewPipelineStatus(counts map[Status]int64) PipelineStatus {
	ps := PipelineStatus{Counts: make(map[Status]int64, len(AllStatuses))}
	for _, s := range AllStatuses {
		ps.Counts[s] = counts[s]
		ps.Total += counts[s]
	}
	return ps
}
