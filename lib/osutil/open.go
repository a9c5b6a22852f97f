package osutil

import (
	"os/exec"
	"runtime"
)

func openCommand(path string) *exec.Cmd {
	switch runtime.GOOS {
	case "windows":
		return exec.Command("explorer", path)
	case "darwin":
		return exec.Command("open", path)
	default:
		return exec.Command("xdg-open", path)
	}
}

// OpenFolder shows path in the platform file manager without waiting for
// it to close.
func OpenFolder(path string) error {
	cmd := openCommand(path)
	err := cmd.Start()
	if err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}
