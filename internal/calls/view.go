package calls

// IncomingView is the reconciled union of the most recent Record and
// Signal for one call_id, as seen by the callee. Derived state only —
// never persisted. Field-level merge: a field present in one source and
// missing in the other is filled in rather than the whole view being
// replaced.
//
// Merge rules:
// - existing non-empty fields win (a signal cannot overwrite a record)
// - Status is the exception: a terminal status always takes effect
//
// Both merges are idempotent and commute for the two arrival orders
// (record-then-signal, signal-then-record).

type IncomingView struct {
	CallID     string   `json:"call_id"`
	CallerID   string   `json:"caller_id"`
	CalleeID   string   `json:"callee_id"`
	Type       CallType `json:"call_type"`
	Status     Status   `json:"status"`
	CallerName string   `json:"caller_name,omitempty"`
	MeetingURL string   `json:"meeting_url,omitempty"`
}

// ViewFromRecord builds the initial view from a persisted ringing record.
func ViewFromRecord(rec Record) IncomingView {
	return IncomingView{
		CallID:     rec.CallID,
		CallerID:   rec.CallerID,
		CalleeID:   rec.CalleeID,
		Type:       rec.Type,
		Status:     rec.Status,
		MeetingURL: rec.MeetingURL,
	}
}

// ViewFromSignal builds a placeholder view when the offer signal arrives
// before the record (the signal-first race in the reconciler).
func ViewFromSignal(sig Signal) IncomingView {
	return IncomingView{
		CallID:     sig.CallID,
		CallerID:   sig.FromUserID,
		CalleeID:   sig.ToUserID,
		Type:       sig.Payload.CallType,
		Status:     StatusRinging,
		CallerName: sig.Payload.CallerName,
		MeetingURL: sig.Payload.MeetingURL,
	}
}

// MergeRecord folds a record into an existing view for the same call.
func (v IncomingView) MergeRecord(rec Record) IncomingView {
	if rec.CallID != v.CallID {
		return v
	}
	out := v
	if out.CallerID == "" {
		out.CallerID = rec.CallerID
	}
	if out.CalleeID == "" {
		out.CalleeID = rec.CalleeID
	}
	if out.Type == "" {
		out.Type = rec.Type
	}
	if out.MeetingURL == "" {
		out.MeetingURL = rec.MeetingURL
	}
	if rec.Status.Terminal() || out.Status == "" {
		out.Status = rec.Status
	}
	return out
}

// MergeSignal folds a signal into an existing view for the same call.
// Offers fill gaps; reject/end signals force the terminal status.
func (v IncomingView) MergeSignal(sig Signal) IncomingView {
	if sig.CallID != v.CallID {
		return v
	}
	out := v
	switch sig.Type {
	case SignalOffer:
		if out.CallerID == "" {
			out.CallerID = sig.FromUserID
		}
		if out.Type == "" {
			out.Type = sig.Payload.CallType
		}
		if out.CallerName == "" {
			out.CallerName = sig.Payload.CallerName
		}
		if out.MeetingURL == "" {
			out.MeetingURL = sig.Payload.MeetingURL
		}
	case SignalReject:
		out.Status = StatusRejected
	case SignalEnd:
		out.Status = StatusEnded
	}
	return out
}
