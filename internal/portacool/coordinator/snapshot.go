package coordinator

import (
	"maps"
	"time"

	"github.com/nerrad567/portacool-apex/internal/portacool/cloud"
)

// Snapshot is one immutable view of the device: datapoints, timer info
// and alerts as of FetchedAt.
//
// A Snapshot is never modified once published. Updates build a new value
// and swap it in whole.
type Snapshot struct {
	Datapoints map[int]string      `json:"datapoints"`
	TimerInfo  map[string]any      `json:"timer_info"`
	Alerts     []cloud.AlertRecord `json:"alerts"`

	// FetchedAt is the time of the network read the snapshot came from.
	// Zero for the initial empty snapshot.
	FetchedAt time.Time `json:"fetched_at"`
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Datapoints: map[int]string{},
		TimerInfo:  map[string]any{},
		Alerts:     []cloud.AlertRecord{},
	}
}

// Datapoint returns the polled value of a datapoint.
func (s *Snapshot) Datapoint(id int) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.Datapoints[id]
	return v, ok
}

// ActiveAlerts returns the alerts whose condition is raised.
func (s *Snapshot) ActiveAlerts() []cloud.AlertRecord {
	if s == nil {
		return nil
	}
	active := make([]cloud.AlertRecord, 0, len(s.Alerts))
	for _, a := range s.Alerts {
		if a.Active() {
			active = append(active, a)
		}
	}
	return active
}

// withDatapoints returns a copy of s whose datapoints are s's datapoints
// with updates written over them. Timer info and alerts are shared with s.
func (s *Snapshot) withDatapoints(updates map[int]string) *Snapshot {
	dps := make(map[int]string, len(s.Datapoints)+len(updates))
	maps.Copy(dps, s.Datapoints)
	maps.Copy(dps, updates)

	return &Snapshot{
		Datapoints: dps,
		TimerInfo:  s.TimerInfo,
		Alerts:     s.Alerts,
		FetchedAt:  s.FetchedAt,
	}
}
