package model

// DialogError is the single inline error displayed by an open dialog.
type DialogError struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail,omitempty"`
}

func (e *DialogError) Error() string {
	if e.Detail == "" {
		return e.Summary
	}

	return e.Summary + ": " + e.Detail
}

// NoticeKind identifies a non-blocking informational notice.
type NoticeKind string

const (
	NoticeRestartRequired NoticeKind = "restart-required"
	NoticeForceOff        NoticeKind = "force-off"

	MsgRestartRequired = "Changes will take effect after shutting down the VM"
	MsgForceOff        = "The VM is running and will be forced off before deletion."
)

// Notice is informational only and never blocks a submission.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// RestartRequiredNotice is shown when changes are applied to the inactive configuration of a running resource.
func RestartRequiredNotice() Notice {
	return Notice{Kind: NoticeRestartRequired, Message: MsgRestartRequired}
}

// ForceOffNotice is shown when a running VM is to be destroyed before deletion.
func ForceOffNotice() Notice {
	return Notice{Kind: NoticeForceOff, Message: MsgForceOff}
}
