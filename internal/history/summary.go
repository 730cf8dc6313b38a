package history

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidRange = errors.New("history: invalid range")

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Summary aggregates the local participant's history over a time range.
type Summary struct {
	PeerID string    `json:"peer_id,omitempty"`
	Range  TimeRange `json:"range"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	MissedCalls    int `json:"missed_calls"`
	DeclinedCalls  int `json:"declined_calls"`
	OutgoingCalls  int `json:"outgoing_calls"`
	IncomingCalls  int `json:"incoming_calls"`
	VideoCalls     int `json:"video_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}

// Summarize is the pure aggregation behind Recorder.Summary.
func Summarize(entries []Entry) Summary {
	var out Summary
	timed := 0
	for _, e := range entries {
		out.TotalCalls++
		if e.Outgoing() {
			out.OutgoingCalls++
		} else {
			out.IncomingCalls++
		}
		if e.CallKind == "video" {
			out.VideoCalls++
		}
		switch e.Status {
		case StatusCompleted:
			out.CompletedCalls++
			if e.DurationSeconds != nil {
				out.TotalDurationSeconds += *e.DurationSeconds
				timed++
			}
		case StatusMissed:
			out.MissedCalls++
		case StatusDeclined:
			out.DeclinedCalls++
		}
	}
	if timed > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / timed
	}
	return out
}

// Summary aggregates entries created in [from, to), optionally with one peer.
func (r *Recorder) Summary(ctx context.Context, rng TimeRange, peerID string) (Summary, error) {
	if rng.From.IsZero() || rng.To.IsZero() || !rng.To.After(rng.From) {
		return Summary{}, ErrInvalidRange
	}
	if r.repo == nil {
		return Summary{}, errors.New("history: repository not configured")
	}
	rows, err := r.repo.List(ctx, r.owner, Query{PeerID: peerID, Since: rng.From, Until: rng.To})
	if err != nil {
		return Summary{}, err
	}
	out := Summarize(rows)
	out.PeerID = peerID
	out.Range = rng
	return out, nil
}
