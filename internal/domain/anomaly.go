package domain

// AnomalyKind classifies a replay irregularity. Anomalies are flagged, never
// guessed around.
type AnomalyKind string

const (
	AnomalyDuplicateListed AnomalyKind = "duplicate_listed"
	AnomalyEventAfterClose AnomalyKind = "event_after_close"
	AnomalyUnknownListing  AnomalyKind = "unknown_listing"
	AnomalyOutOfOrder      AnomalyKind = "out_of_order"
	AnomalyMismatch        AnomalyKind = "verification_mismatch"
)

// Anomaly is one flagged irregularity observed while rebuilding the read
// model.
type Anomaly struct {
	Kind      AnomalyKind `json:"kind"`
	ListingID uint64      `json:"listingId"`
	Event     EventKind   `json:"event,omitempty"`
	Position  LogPosition `json:"position"`
	Detail    string      `json:"detail,omitempty"`
}
