package workflow

// The backend reports workflow progress in its own vocabulary. The two tables
// below translate between the wire strings and Status; unknown strings map to
// ("", false) so callers can drop them instead of corrupting local state.

var fromAPI = map[string]Status{
	"pending":   StatusIdle,
	"started":   StatusStarted,
	"quotation": StatusQuoteProposed,
	"assigned":  StatusQuoteApproved,
	"working":   StatusWorkInProgress,
	"delivered": StatusDeliverySubmitted,
	"revision":  StatusRevisionRequested,
	"completed": StatusCompleted,
	"cancelled": StatusCancelled,
}

var toAPI = map[Status]string{
	StatusIdle:              "pending",
	StatusStarted:           "started",
	StatusQuoteProposed:     "quotation",
	StatusQuoteApproved:     "assigned",
	StatusWorkInProgress:    "working",
	StatusDeliverySubmitted: "delivered",
	StatusRevisionRequested: "revision",
	StatusCompleted:         "completed",
	StatusCancelled:         "cancelled",
}

// FromAPIStatus translates a server status string into the local vocabulary.
func FromAPIStatus(s string) (Status, bool) {
	status, ok := fromAPI[s]
	return status, ok
}

// ToAPIStatus translates a local status into the server vocabulary.
func ToAPIStatus(s Status) (string, bool) {
	api, ok := toAPI[s]
	return api, ok
}
