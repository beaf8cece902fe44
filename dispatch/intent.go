package dispatch

import (
	"encoding/base64"
	"fmt"
	"os/exec"
	"runtime"
)

// IntentFunc hands an encoded receipt to a host-level print helper.
type IntentFunc func(payload []byte) error

// BuildIntentURI wraps the payload in a rawbt-style URI understood by
// OS print helper apps, asking for silent non-interactive printing.
func BuildIntentURI(payload []byte) string {
	return "rawbt:base64," + base64.StdEncoding.EncodeToString(payload)
}

// LaunchIntent dispatches the payload through the platform URI opener.
// Best effort: success means the handoff was issued, not that paper
// came out.
func LaunchIntent(payload []byte) error {
	uri := BuildIntentURI(payload)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", uri)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", uri)
	default:
		cmd = exec.Command("xdg-open", uri)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch print intent: %w", err)
	}

	// Detach; the helper owns the job from here.
	go cmd.Wait()
	return nil
}
