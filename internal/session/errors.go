package session

// Operation names carried by errors from this package
const (
	opCreate       = "session.Create"
	opGet          = "session.Get"
	opEnd          = "session.End"
	opListActive   = "session.ListActive"
	opListForTeach = "session.ListForTeacher"
)
