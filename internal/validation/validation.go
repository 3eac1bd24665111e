// Package validation provides centralized input validation for ebismon.
package validation

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// =============================================================================
// Name Validation
// =============================================================================

// nameRules defines the validation rules for names.
type nameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// keyPartRules returns the rules for channel names and groups. Both become
// parts of a storage key, so the key separator ':' is never allowed.
func keyPartRules() nameRules {
	return nameRules{
		MinLength:    1,
		MaxLength:    128,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// deviceNameRules returns the rules for device names. A device name may be
// used as an MQTT topic level.
func deviceNameRules() nameRules {
	return nameRules{
		MinLength:    1,
		MaxLength:    64,
		AllowDots:    false,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// validateName validates a name according to the given rules.
func validateName(name string, rules nameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name cannot start with '.'")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == ':' {
			return fmt.Errorf("name cannot contain the key separator ':' at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules nameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateKeyPart validates a channel name or group.
func ValidateKeyPart(name string) error {
	return validateName(name, keyPartRules())
}

// ValidateDeviceName validates a device name.
func ValidateDeviceName(name string) error {
	return validateName(name, deviceNameRules())
}

// =============================================================================
// OID Validation
// =============================================================================

// ValidateOID validates a numeric object identifier such as
// "1.3.6.1.4.1.9999.1.1". A leading dot is accepted.
func ValidateOID(oid string) error {
	s := strings.TrimPrefix(oid, ".")
	if s == "" {
		return fmt.Errorf("empty OID")
	}

	arcs := strings.Split(s, ".")
	if len(arcs) < 2 {
		return fmt.Errorf("OID %q: at least two arcs required", oid)
	}
	for i, arc := range arcs {
		if arc == "" {
			return fmt.Errorf("OID %q: empty arc at position %d", oid, i)
		}
		if _, err := strconv.ParseUint(arc, 10, 32); err != nil {
			return fmt.Errorf("OID %q: arc %q is not a number", oid, arc)
		}
	}
	if arcs[0] != "0" && arcs[0] != "1" && arcs[0] != "2" {
		return fmt.Errorf("OID %q: first arc must be 0, 1 or 2", oid)
	}

	return nil
}

// =============================================================================
// MQTT Topic Validation
// =============================================================================

// ValidateTopicFilter validates an MQTT subscription filter. '+' must fill
// a whole level, '#' must be the whole last level.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("empty topic filter")
	}
	if len(filter) > 65535 {
		return fmt.Errorf("topic filter too long")
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.ContainsRune(level, 0) {
			return fmt.Errorf("topic filter cannot contain NUL")
		}
		if strings.Contains(level, "#") {
			if level != "#" || i != len(levels)-1 {
				return fmt.Errorf("'#' must be the whole last level of %q", filter)
			}
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("'+' must fill a whole level of %q", filter)
		}
	}

	return nil
}
