package jobs

import "strings"

// ValidatePayload performs minimal validation on decoded payloads.
func ValidatePayload(t JobType, payload any) error {
	if !t.IsValid() {
		return ErrInvalidJobType
	}

	trim := func(s string) string { return strings.TrimSpace(s) }

	switch t {
	case JobSendWelcome:
		var p SendWelcomePayload
		switch v := payload.(type) {
		case SendWelcomePayload:
			p = v
		case *SendWelcomePayload:
			p = *v
		default:
			return ErrPayloadTypeMismatch
		}
		if trim(p.UserID) == "" || trim(p.Email) == "" {
			return ErrInvalidJobPayload
		}
		return nil

	case JobExportTodosCSV:
		var p ExportTodosCSVPayload
		switch v := payload.(type) {
		case ExportTodosCSVPayload:
			p = v
		case *ExportTodosCSVPayload:
			p = *v
		default:
			return ErrPayloadTypeMismatch
		}
		if trim(p.UserID) == "" {
			return ErrInvalidJobPayload
		}
		return nil

	default:
		return ErrInvalidJobType
	}
}
