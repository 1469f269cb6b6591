package v1

// InboxItem pairs a task with the action the agent should take on it.
type InboxItem struct {
	Task   *Task  `json:"task"`
	Action string `json:"action"`
}

// InboxBuckets partitions the agent's assigned tasks by status.
type InboxBuckets struct {
	Todo       []InboxItem `json:"todo"`
	InProgress []InboxItem `json:"in_progress"`
	Blocked    []InboxItem `json:"blocked"`
	Handoff    []InboxItem `json:"handoff"`
	Review     []InboxItem `json:"review"`
}

// InboxCapacity reports how much concurrent work the agent has left.
type InboxCapacity struct {
	Max               int  `json:"max"`
	CurrentInProgress int  `json:"current_in_progress"`
	HasCapacity       bool `json:"has_capacity"`
}

// Inbox is the aggregated view returned by GET /api/agents/me/inbox.
type Inbox struct {
	Summary       string         `json:"summary"`
	Tasks         InboxBuckets   `json:"tasks"`
	Reviews       []InboxItem    `json:"reviews"`
	Questions     []Question     `json:"questions"`
	Notifications []Notification `json:"notifications"`
	Capacity      InboxCapacity  `json:"capacity"`
}
