package attendance

const (
	opMark           = "attendance.Mark"
	opUpdateStatus   = "attendance.UpdateStatus"
	opListForSession = "attendance.ListForSession"
	opListForStudent = "attendance.ListForStudent"
	opCounts         = "attendance.AggregateStatusCounts"
)
