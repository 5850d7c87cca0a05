package cluster

// StatusKind is the health a unit reports to the orchestrator.
type StatusKind string

const (
	StatusActive      StatusKind = "active"
	StatusWaiting     StatusKind = "waiting"
	StatusMaintenance StatusKind = "maintenance"
	StatusBlocked     StatusKind = "blocked"
)

// Status is a unit status with a human readable message.
type Status struct {
	Kind    StatusKind
	Message string
}

// ActiveStatus reports a unit that is part of a healthy cluster.
func ActiveStatus(msg string) Status { return Status{Kind: StatusActive, Message: msg} }

// WaitingStatus reports a unit waiting on another unit or a retry.
func WaitingStatus(msg string) Status { return Status{Kind: StatusWaiting, Message: msg} }

// MaintenanceStatus reports a unit busy with local work such as an install.
func MaintenanceStatus(msg string) Status { return Status{Kind: StatusMaintenance, Message: msg} }

// BlockedStatus reports a unit that needs an operator to fix its configuration.
func BlockedStatus(msg string) Status { return Status{Kind: StatusBlocked, Message: msg} }

func (s Status) String() string { return string(s.Kind) + ": " + s.Message }
