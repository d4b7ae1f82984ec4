//go:build !linux && !darwin

package logger

// isTerminal reports false; colors are only enabled on unix terminals.
func isTerminal(fd uintptr) bool {
	return false
}
