package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCompliance carries SLA audit passes.
	QueueCompliance = "compliance"
	// TaskSLAAudit is the task type for one SLA audit pass.
	TaskSLAAudit = "sla:audit"
)

// SLAAuditPayload selects the rules of a pass. An empty Rule runs every rule.
type SLAAuditPayload struct {
	Rule string `json:"rule,omitempty"`
}

// NewSLAAuditTask constructs an Asynq task.
func NewSLAAuditTask(rule string) (*asynq.Task, error) {
	data, err := json.Marshal(SLAAuditPayload{Rule: rule})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSLAAudit, data), nil
}
