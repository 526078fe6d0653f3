//go:build windows

// Package notifications implements the kernel's ambient desktop-alert
// surface: a local toast fired when a gate run fails or a task moves to
// done while a required compliance check fails, via go-toast/toast wrapping
// Windows' native notification center.
package notifications

import (
	"fmt"

	"github.com/go-toast/toast"
)

// ToastNotifier pushes Windows toast notifications. It is a no-op build
// stub on every other platform (see toast_other.go); the kernel never
// requires toast delivery to succeed, it only attempts it.
type ToastNotifier struct {
	appID        string
	dashboardURL string
}

// NewToastNotifier creates a notifier bound to a dashboard URL that a
// clicked toast will open.
func NewToastNotifier(dashboardURL string) *ToastNotifier {
	if dashboardURL == "" {
		dashboardURL = "http://127.0.0.1:4177"
	}
	return &ToastNotifier{appID: "agentcoord-kernel", dashboardURL: dashboardURL}
}

// NotifyGateFailed pushes a toast reporting a failed gate run.
func (t *ToastNotifier) NotifyGateFailed(taskID, gateCommand string) error {
	return t.push("Gate failed", fmt.Sprintf("Task %s: gate %q failed", taskID, gateCommand))
}

// NotifyComplianceBlocked pushes a toast when a task has moved to done
// while a required compliance check did not pass; the transition itself
// is not blocked.
func (t *ToastNotifier) NotifyComplianceBlocked(taskID, agentID, reason string) error {
	return t.push("Completed without passing compliance", fmt.Sprintf("Task %s (agent %s): %s", taskID, agentID, reason))
}

func (t *ToastNotifier) push(title, message string) error {
	notification := toast.Notification{
		AppID:   t.appID,
		Title:   title,
		Message: message,
		Audio:   toast.Default,
		Actions: []toast.Action{
			{Type: "protocol", Label: "Open Dashboard", Arguments: t.dashboardURL},
		},
	}
	return notification.Push()
}

// IsSupported reports whether this build can push a toast.
func (t *ToastNotifier) IsSupported() bool { return true }
