package call

import "chat-client/internal/models"

var transitions = map[models.CallStatus][]models.CallStatus{
	models.CallIdle:      {models.CallRinging, models.CallEnded},
	models.CallRinging:   {models.CallAccepted, models.CallRejected, models.CallEnded},
	models.CallAccepted:  {models.CallConnected, models.CallEnded},
	models.CallConnected: {models.CallEnded},
}

// CanTransition reports whether a session may move from one status to another.
// Terminal statuses have no successors.
func CanTransition(from, to models.CallStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
