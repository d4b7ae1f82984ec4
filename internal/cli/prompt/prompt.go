// Package prompt asks for configuration values on the terminal.
package prompt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/marmos91/ibsim/internal/wire"
	"github.com/marmos91/ibsim/pkg/iba"
)

// ErrAborted is returned when the user interrupts a prompt.
var ErrAborted = errors.New("aborted")

func wrapError(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
		return ErrAborted
	}
	return err
}

// Input asks for a line of text. validate may be nil.
func Input(label, def string, validate func(string) error) (string, error) {
	p := promptui.Prompt{
		Label:    label,
		Default:  def,
		Validate: validate,
	}
	result, err := p.Run()
	return strings.TrimSpace(result), wrapError(err)
}

// Int asks for an integer in [lo, hi].
func Int(label string, def, lo, hi int) (int, error) {
	s, err := Input(label, strconv.Itoa(def), IntRange(lo, hi))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

// GUID asks for a 64-bit GUID.
func GUID(label string, def iba.GUID) (iba.GUID, error) {
	s, err := Input(label, def.String(), ValidateGUID)
	if err != nil {
		return 0, err
	}
	return iba.ParseGUID(s)
}

// Select asks the user to pick one of items and returns it.
func Select(label string, items []string, def string) (string, error) {
	cursor := 0
	for i, it := range items {
		if it == def {
			cursor = i
		}
	}
	p := promptui.Select{
		Label:     label,
		Items:     items,
		CursorPos: cursor,
		Size:      len(items),
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "> {{ . | cyan }}",
			Inactive: "  {{ . }}",
			Selected: "{{ \"" + label + ":\" | faint }} {{ . }}",
		},
	}
	_, result, err := p.Run()
	return result, wrapError(err)
}

// Confirm asks a yes/no question.
func Confirm(label string, defaultYes bool) (bool, error) {
	def := "n"
	if defaultYes {
		def = "y"
	}
	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
		Default:   def,
	}
	result, err := p.Run()
	if errors.Is(err, promptui.ErrAbort) {
		return false, nil
	}
	if err != nil {
		return false, wrapError(err)
	}
	return ParseYes(result, defaultYes), nil
}

// ParseYes interprets a yes/no answer. Empty input yields def.
func ParseYes(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def
	case "y", "yes":
		return true
	default:
		return false
	}
}

// IntRange returns a validator accepting integers in [lo, hi].
func IntRange(lo, hi int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return errors.New("must be an integer")
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}

// ValidatePort accepts a UDP port number.
func ValidatePort(s string) error {
	return IntRange(1, 65535)(s)
}

// ValidateGUID accepts a GUID in hex, with or without 0x.
func ValidateGUID(s string) error {
	_, err := iba.ParseGUID(strings.TrimSpace(s))
	return err
}

// ValidateGIDPrefix accepts an IPv6 subnet prefix such as fe80::.
func ValidateGIDPrefix(s string) error {
	_, err := iba.ParseGIDPrefix(strings.TrimSpace(s))
	return err
}

// ValidateNodeID accepts node ids that fit the client info record.
func ValidateNodeID(s string) error {
	if len(s) > wire.NodeIDSize {
		return fmt.Errorf("must be at most %d bytes", wire.NodeIDSize)
	}
	return nil
}
