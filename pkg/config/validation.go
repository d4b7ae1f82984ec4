package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/ibsim/pkg/iba"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("ib_gid_prefix", func(fl validator.FieldLevel) bool {
		_, err := iba.ParseGIDPrefix(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if last := int(cfg.Simulate.BaseLID) + cfg.Simulate.NumPorts - 1; last > 0xbfff {
		return fmt.Errorf("simulate.base_lid: LID range ends at %#x, beyond the unicast range", last)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		return fmt.Errorf("metrics.port: required when metrics are enabled")
	}
	return nil
}

// parsePKey accepts "0xffff", "ffff" or a decimal value.
func parsePKey(s string) (uint16, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	base := 10
	if strings.HasPrefix(s, "0x") {
		s, base = s[2:], 16
	}
	v, err := strconv.ParseUint(s, base, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid partition key %q: %w", s, err)
	}
	return uint16(v), nil
}

// ParsePKeys parses a list of partition keys as written on the command line.
func ParsePKeys(items []string) ([]uint16, error) {
	out := make([]uint16, 0, len(items))
	for _, item := range items {
		pk, err := parsePKey(item)
		if err != nil {
			return nil, err
		}
		out = append(out, pk)
	}
	return out, nil
}
