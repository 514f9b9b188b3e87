package jobrun

const (
	WorkflowTitle   = "chat_title"
	WorkflowCleanup = "attachment_cleanup"
	WorkflowSweep   = "attachment_sweep"

	ActivityTitle   = "chat_title_generate"
	ActivityCleanup = "attachment_cleanup_run"
	ActivitySweep   = "attachment_sweep_run"

	// SweepWorkflowID is fixed so only one cron sweep exists per namespace.
	SweepWorkflowID = "attachment-sweep-cron"
)

func TitleWorkflowID(chatID string) string { return "chat-title-" + chatID }

type CleanupResult struct {
	Requested int `json:"requested"`
	Deleted   int `json:"deleted"`
}

type SweepResult struct {
	Rows  int `json:"rows"`
	Blobs int `json:"blobs"`
}
