package store

import (
	"regexp"
	"strconv"
	"strings"

	"qms/waitlist-service/internal/models"
)

var contactNamePattern = regexp.MustCompile(`^[A-Za-z\x{4e00}-\x{9fa5}]+$`)

func ParsePartySize(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, invalid("people is required")
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid("people must be a number")
	}
	if value <= 0 {
		return 0, invalid("people must be greater than 0")
	}
	return value, nil
}

func ValidateTake(input TakeInput) error {
	if input.PartySize <= 0 {
		return invalid("people must be greater than 0")
	}
	if !models.ValidSource(input.Source) {
		return invalid("source must be Line official or onsite")
	}
	if input.Source != models.SourceLineOfficial {
		return nil
	}
	if !ValidContactName(input.ContactName) {
		return invalid("name must contain letters only")
	}
	if !ValidContactPhone(input.ContactPhone) {
		return invalid("phone must be 10 digits starting with 09")
	}
	return nil
}

func ValidContactName(value string) bool {
	return contactNamePattern.MatchString(value)
}

func ValidContactPhone(value string) bool {
	if len(value) != 10 || !strings.HasPrefix(value, "09") {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
