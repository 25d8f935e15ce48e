// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// ImportTask represents one asynchronous import: every object becomes one document,
// and the whole task is written as a single batch.
type ImportTask struct {
	TaskID      string   `json:"task_id"`
	ObjectNames []string `json:"object_names"`
}
