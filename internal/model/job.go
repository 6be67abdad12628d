package model

// JobStatusResponse reports an ad hoc job in the cancel registry
type JobStatusResponse struct {
	JobID    string `json:"jobId"`
	Known    bool   `json:"known"`
	Canceled bool   `json:"canceled"`
}
