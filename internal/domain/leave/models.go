package leave

import "time"

type Kind string

const (
	KindLeave      Kind = "leave"
	KindPermission Kind = "permission"
)

func (k Kind) Valid() bool {
	return k == KindLeave || k == KindPermission
}

type Category string

const (
	CategoryCasual    Category = "casual"
	CategorySick      Category = "sick"
	CategoryEarned    Category = "earned"
	CategoryMaternity Category = "maternity"
	CategoryPaternity Category = "paternity"
	CategoryUnpaid    Category = "unpaid"
)

var Categories = []Category{
	CategoryCasual,
	CategorySick,
	CategoryEarned,
	CategoryMaternity,
	CategoryPaternity,
	CategoryUnpaid,
}

func (c Category) Valid() bool {
	for _, candidate := range Categories {
		if c == candidate {
			return true
		}
	}
	return false
}

// Status is the overall workflow state of a request. It is always derived
// from the two stage records, see DeriveStatus.
type Status string

const (
	StatusPending    Status = "pending"
	StatusHRApproved Status = "hr_approved"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
)

var Statuses = []Status{StatusPending, StatusHRApproved, StatusApproved, StatusRejected}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusHRApproved, StatusApproved, StatusRejected:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Decision is the state of a single approval stage.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

type Stage int

const (
	Stage1 Stage = 1
	Stage2 Stage = 2
)

// ApprovalRecord is one approver's decision. It is written once, when the
// stage leaves pending, and never touched again.
type ApprovalRecord struct {
	Status  Decision   `json:"status"`
	By      string     `json:"by,omitempty"`
	ByName  string     `json:"byName,omitempty"`
	Role    string     `json:"role,omitempty"`
	Remarks string     `json:"remarks,omitempty"`
	At      *time.Time `json:"at,omitempty"`
}

func pendingRecord() ApprovalRecord {
	return ApprovalRecord{Status: DecisionPending}
}

type DateRange struct {
	Start time.Time `json:"startDate"`
	End   time.Time `json:"endDate"`
}

func (r DateRange) String() string {
	return r.Start.Format(dateLayout) + " to " + r.End.Format(dateLayout)
}

type LeaveRequest struct {
	ID            string         `json:"id"`
	RequesterID   string         `json:"requesterId"`
	RequesterName string         `json:"requesterName"`
	Kind          Kind           `json:"kind"`
	Category      Category       `json:"category"`
	StartDate     time.Time      `json:"startDate"`
	EndDate       time.Time      `json:"endDate"`
	Duration      int            `json:"duration"`
	Reason        string         `json:"reason"`
	Description   string         `json:"description,omitempty"`
	AssignedTo    string         `json:"assignedTo,omitempty"`
	Status        Status         `json:"status"`
	Stage1        ApprovalRecord `json:"stage1"`
	Stage2        ApprovalRecord `json:"stage2"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func (r LeaveRequest) Range() DateRange {
	return DateRange{Start: r.StartDate, End: r.EndDate}
}

// Record returns the approval record for the given stage.
func (r LeaveRequest) Record(stage Stage) ApprovalRecord {
	if stage == Stage2 {
		return r.Stage2
	}
	return r.Stage1
}
