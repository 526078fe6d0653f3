//go:build !windows

package notifications

import "fmt"

// ToastNotifier is a no-op stub on non-Windows platforms; toast delivery
// is inherently Windows-only (go-toast/toast).
type ToastNotifier struct {
	dashboardURL string
}

// NewToastNotifier creates a stub notifier.
func NewToastNotifier(dashboardURL string) *ToastNotifier {
	return &ToastNotifier{dashboardURL: dashboardURL}
}

// NotifyGateFailed pushes nothing on this platform and returns an error.
func (t *ToastNotifier) NotifyGateFailed(taskID, gateCommand string) error {
	return fmt.Errorf("toast notifications are only supported on windows")
}

// NotifyComplianceBlocked pushes nothing on this platform and returns an
// error.
func (t *ToastNotifier) NotifyComplianceBlocked(taskID, agentID, reason string) error {
	return fmt.Errorf("toast notifications are only supported on windows")
}

// IsSupported reports whether this build can push a toast.
func (t *ToastNotifier) IsSupported() bool { return false }
