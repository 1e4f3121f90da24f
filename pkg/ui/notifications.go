package ui

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"pixivdl/pkg/crawler"
)

// AppName is the notification source shown by the desktop
const AppName = "pixivdl"

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	cmd := exec.Command("notify-send", "--app-name="+AppName, title, message)
	return cmd.Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	cmd := exec.Command("osascript", "-e", script)
	return cmd.Run()
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier(%q).Show($toast)
	`, title, message, AppName)

	cmd := exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	return cmd.Run()
}

// Notifier prints a message and mirrors it as a desktop notification
type Notifier struct {
	sender NotificationSender
	out    io.Writer
}

// NewNotifier creates a Notifier for the current platform. Desktop
// notifications are skipped when enabled is false.
func NewNotifier(enabled bool) *Notifier {
	var sender NotificationSender
	if enabled {
		switch runtime.GOOS {
		case "linux":
			sender = &LinuxNotificationSender{}
		case "darwin":
			sender = &MacOSNotificationSender{}
		case "windows":
			sender = &WindowsNotificationSender{}
		}
	}
	return NewNotifierWith(sender, os.Stdout)
}

// NewNotifierWith creates a Notifier with an explicit sender, which may be nil
func NewNotifierWith(sender NotificationSender, out io.Writer) *Notifier {
	return &Notifier{sender: sender, out: out}
}

func (n *Notifier) send(title, message string) {
	if n.sender != nil {
		// desktop delivery is best effort
		_ = n.sender.Send(title, message)
	}
}

// SendNotification sends a desktop notification and prints to console
func (n *Notifier) SendNotification(title, message string) {
	fmt.Fprintf(n.out, "\n%s: %s\n", Cyan(title), Yellow(message))
	n.send(title, message)
}

// SendError sends an error notification
func (n *Notifier) SendError(title, message string) {
	fmt.Fprintf(n.out, "\n%s: %s\n", Red(title), Red(message))
	n.send(title, message)
}

// SendSuccess sends a success notification
func (n *Notifier) SendSuccess(title, message string) {
	fmt.Fprintf(n.out, "\n%s: %s\n", Green(title), Green(message))
	n.send(title, message)
}

// NotifySummary reports a finished crawl. runErr is the error Run returned.
func (n *Notifier) NotifySummary(s *crawler.Summary, runErr error) {
	title := fmt.Sprintf("%s %s %s", AppName, s.Namespace, s.SubjectID)
	switch {
	case runErr != nil:
		n.SendError(title, fmt.Sprintf("Crawl aborted after %d pages: %v", s.Pages, runErr))
	case s.Err() != nil:
		n.SendError(title, s.Err().Error())
	default:
		parts := []string{fmt.Sprintf("%d new", s.Succeeded)}
		if s.Skipped > 0 {
			parts = append(parts, fmt.Sprintf("%d already mirrored", s.Skipped))
		}
		if s.Failed > 0 {
			parts = append(parts, fmt.Sprintf("%d failed", s.Failed))
		}
		n.SendSuccess(title, strings.Join(parts, ", "))
	}
}
