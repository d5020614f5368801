package notifications

const (
	TypeLeaveSubmitted  = "leave_submitted"
	TypeLeaveHRApproved = "leave_hr_approved"
	TypeLeaveAwaiting   = "leave_awaiting_final"
	TypeLeaveApproved   = "leave_approved"
	TypeLeaveRejected   = "leave_rejected"
)
