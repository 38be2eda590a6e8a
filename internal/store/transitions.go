package store

import "qms/waitlist-service/internal/models"

const (
	ActionCancel   = "cancel"
	ActionCall     = "call"
	ActionCallNext = "call_next"
)

var transitionMap = map[string][]string{
	ActionCancel:   {models.StatusWaiting},
	ActionCall:     {models.StatusWaiting},
	ActionCallNext: {models.StatusWaiting},
}

var resultStatus = map[string]string{
	ActionCancel:   models.StatusCancelled,
	ActionCall:     models.StatusCompleted,
	ActionCallNext: models.StatusCompleted,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// ResultStatus is the status reported to the caller that performed action.
func ResultStatus(action string) string {
	return resultStatus[action]
}
