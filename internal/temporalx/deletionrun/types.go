package deletionrun

// Workflow and activity names are the wire contract between the API process
// starting deletions and the worker executing them; DeletionService starts
// workflows by these names.
const (
	WorkflowAssetDelete   = "asset_delete"
	WorkflowProjectDelete = "project_delete"
	ActivityStep          = "deletion_step"
)
