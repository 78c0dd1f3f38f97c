package models

import "errors"

type ChangeRequestStatus string

const (
	ChangeRequestStatusPending  ChangeRequestStatus = "P"
	ChangeRequestStatusApproved ChangeRequestStatus = "A"
	ChangeRequestStatusRejected ChangeRequestStatus = "R"
)

// long form for API responses & filters
func (s ChangeRequestStatus) Name() string {
	switch s {
	case ChangeRequestStatusPending:
		return "Pending"
	case ChangeRequestStatusApproved:
		return "Approved"
	case ChangeRequestStatusRejected:
		return "Rejected"
	}
	return string(s)
}

func ParseChangeRequestStatus(s string) (ChangeRequestStatus, error) {
	switch s {
	case "Pending", "pending", "P":
		return ChangeRequestStatusPending, nil
	case "Approved", "approved", "A":
		return ChangeRequestStatusApproved, nil
	case "Rejected", "rejected", "R":
		return ChangeRequestStatusRejected, nil
	}
	return "", errors.New("invalid change request status")
}

type UserRole string

const (
	UserRoleAdmin      UserRole = "A"
	UserRoleSupervisor UserRole = "S"
)

func (r UserRole) Name() string {
	switch r {
	case UserRoleAdmin:
		return "Admin"
	case UserRoleSupervisor:
		return "Supervisor"
	}
	return string(r)
}

type ZoneAssignmentKind string

const (
	// ZoneAssignmentKindFull grants every zone of the business (administrative capability).
	ZoneAssignmentKindFull ZoneAssignmentKind = "F"
	// ZoneAssignmentKindRestricted grants only the named zone.
	ZoneAssignmentKindRestricted ZoneAssignmentKind = "R"
)

type HistoryActionType string

const (
	HistoryActionCreate HistoryActionType = "CREATE"
	HistoryActionUpdate HistoryActionType = "UPDATE"
	HistoryActionDelete HistoryActionType = "DELETE"
)
