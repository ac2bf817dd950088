package models

// ConversationStatus is the lifecycle state of a conversation
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
)

// Valid reports whether s is a known conversation status
func (s ConversationStatus) Valid() bool {
	return s == ConversationActive || s == ConversationArchived
}

// CanTransition reports whether a conversation may move from s to next.
// Archiving is one-way; re-archiving is allowed as a no-op.
func (s ConversationStatus) CanTransition(next ConversationStatus) bool {
	switch s {
	case ConversationActive:
		return next == ConversationActive || next == ConversationArchived
	case ConversationArchived:
		return next == ConversationArchived
	}
	return false
}

// AcceptsMessages reports whether new messages may be appended
func (s ConversationStatus) AcceptsMessages() bool {
	return s == ConversationActive
}

// TaskStatus is the lifecycle state of a task
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskProcessing, TaskFailed},
	TaskProcessing: {TaskCompleted, TaskFailed},
}

// Valid reports whether s is a known task status
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskProcessing, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransition reports whether a task may move from s to next
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
