package chat

// Post carries the job-posting identity a room is scoped to.
type Post struct {
	ID     int64
	Name   string
	Budget int64
}

// Room identifies one employer/freelancer conversation for a job post.
// CurrentCommentID anchors the proposal thread the room augments, when any.
type Room struct {
	ID               string
	Post             Post
	CurrentCommentID int64
}

// WorkflowInfo is the server-authoritative workflow status attached to a
// room snapshot, expressed in the API status vocabulary.
type WorkflowInfo struct {
	ID                 string
	Status             string
	StatusBeforeCancel string
}

// RoomSnapshot is the room state pushed by the server on room updates.
type RoomSnapshot struct {
	Room     Room
	Workflow WorkflowInfo
}
