package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// NotificationSender delivers a desktop notification
type NotificationSender interface {
	Send(title, message string) error
}

// commandSender runs a platform notification command
type commandSender struct {
	build func(title, message string) *exec.Cmd
}

func (c commandSender) Send(title, message string) error {
	return c.build(title, message).Run()
}

func notifySend(title, message string) *exec.Cmd {
	return exec.Command("notify-send", "--app-name=moonfetch", title, message)
}

func osascript(title, message string) *exec.Cmd {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script)
}

func powershell(title, message string) *exec.Cmd {
	escape := func(s string) string { return strings.ReplaceAll(s, "'", "''") }
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		$template = [Windows.UI.Notifications.ToastTemplateType]::ToastText02
		$xml = [Windows.UI.Notifications.ToastNotificationManager]::GetTemplateContent($template)
		$text = $xml.GetElementsByTagName('text')
		$text.Item(0).AppendChild($xml.CreateTextNode('%s')) | Out-Null
		$text.Item(1).AppendChild($xml.CreateTextNode('%s')) | Out-Null
		$toast = [Windows.UI.Notifications.ToastNotification]::new($xml)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier('moonfetch').Show($toast)
	`, escape(title), escape(message))
	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script)
}

// senderFor returns the sender for goos, or nil when unsupported
func senderFor(goos string) NotificationSender {
	switch goos {
	case "linux", "freebsd":
		return commandSender{build: notifySend}
	case "darwin":
		return commandSender{build: osascript}
	case "windows":
		return commandSender{build: powershell}
	}
	return nil
}

// Notifier prints a line and raises a desktop notification when enabled
type Notifier struct {
	sender  NotificationSender
	enabled bool
}

// NewNotifier creates a Notifier for the current platform
func NewNotifier(enabled bool) *Notifier {
	return &Notifier{sender: senderFor(runtime.GOOS), enabled: enabled}
}

func (n *Notifier) send(title, message string) {
	if !n.enabled || n.sender == nil {
		return
	}
	// best effort; a missing notify binary is not an error for the caller
	_ = n.sender.Send(title, message)
}

// SendSuccess reports a finished batch
func (n *Notifier) SendSuccess(title, message string) {
	if !IsQuiet() {
		fmt.Fprintf(out, "\n%s: %s\n", Green(title), Green(message))
	}
	n.send(title, message)
}

// SendError reports a failed batch
func (n *Notifier) SendError(title, message string) {
	fmt.Fprintf(out, "\n%s: %s\n", Red(title), Red(message))
	n.send(title, message)
}
