package keyring

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// PromptSecret reads a value from the terminal without echoing it.
func PromptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)

	// Prefer the controlling terminal so piped stdin does not swallow the prompt
	fd := int(os.Stdin.Fd())
	tty, err := os.Open("/dev/tty")
	if err == nil {
		defer tty.Close()
		fd = int(tty.Fd())
	}

	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", label, err)
	}
	return string(secret), nil
}
