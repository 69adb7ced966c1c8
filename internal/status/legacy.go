package status

import (
	"fmt"

	"castline/internal/domain"
)

// LegacySubmissionStatuses maps the retired review vocabulary onto the
// current one. Values outside the map are kept as they are.
var LegacySubmissionStatuses = map[string]domain.SubmissionStatus{
	"pending":  domain.SubmissionNew,
	"reviewed": domain.SubmissionPinned,
	"selected": domain.SubmissionBooked,
	"rejected": domain.SubmissionRejected,
}

// LegacyOutcome is the result of migrating one submission's status fields.
type LegacyOutcome struct {
	From           string
	To             domain.SubmissionStatus
	Mapped         bool
	PinnedOverride bool
	DropPinnedFlag bool
	// KeepStatus marks a stored status that is not a string. It is never
	// rewritten; From holds its printed form.
	KeepStatus bool
}

// Changed reports whether the stored document needs a write.
func (o LegacyOutcome) Changed() bool {
	if o.KeepStatus {
		return o.DropPinnedFlag
	}
	return o.DropPinnedFlag || string(o.To) != o.From
}

// MigrateLegacySubmission computes the status for a stored submission.
// status is the raw stored value (nil for null); pinned is the raw legacy
// flag (nil when absent). A true pinned flag wins over a null mapping, and a
// present flag is always dropped. A status that is not a string is left as
// stored.
func MigrateLegacySubmission(status any, pinned any) LegacyOutcome {
	raw, ok := status.(string)
	if status != nil && !ok {
		raw = fmt.Sprint(status)
		out := LegacyOutcome{From: raw, To: domain.SubmissionStatus(raw), KeepStatus: true}
		out.DropPinnedFlag = pinned != nil
		return out
	}
	out := LegacyOutcome{From: raw, To: domain.SubmissionStatus(raw)}
	if mapped, ok := LegacySubmissionStatuses[raw]; ok {
		out.To = mapped
		out.Mapped = true
	}
	if pinned != nil {
		out.DropPinnedFlag = true
		if flag, _ := pinned.(bool); flag && out.To == domain.SubmissionNew {
			out.To = domain.SubmissionPinned
			out.PinnedOverride = true
		}
	}
	return out
}
