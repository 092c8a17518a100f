package enforce

import (
	"encoding/json"
	"os"
	"time"

	"minder/internal/models"
)

// Snapshot is the locally cached copy of decision-relevant rule state.
// It is not authoritative: it exists for zero-latency blocking decisions
// and as the fallback while the server is unreachable or throttling.
type Snapshot struct {
	Rules     []models.RuleStatus `json:"rules"`
	FetchedAt time.Time           `json:"fetched_at"`
}

// Verdict is the engine's decision for a hostname.
type Verdict int

const (
	// VerdictUnknown means no snapshot exists yet.
	VerdictUnknown Verdict = iota
	VerdictAllowed
	VerdictBlocked
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllowed:
		return "allowed"
	case VerdictBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Decide is the single pure decision function applied at every trigger
// path: page load, refresh response and pushed snapshot. The first rule
// matching the hostname exactly or as a "."+domain suffix wins, in
// snapshot order. It never touches the network.
func Decide(snap *Snapshot, hostname string) Verdict {
	if snap == nil {
		return VerdictUnknown
	}
	for i := range snap.Rules {
		rule := &snap.Rules[i]
		if !models.MatchesHost(hostname, rule.Domain) {
			continue
		}
		if rule.Block {
			return VerdictBlocked
		}
		if rule.DailyLimitMin > 0 && rule.UsedTodayMin >= float64(rule.DailyLimitMin) {
			return VerdictBlocked
		}
		return VerdictAllowed
	}
	return VerdictAllowed
}

// Store persists snapshots across engine restarts.
type Store interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}

// FileStore keeps the snapshot in one JSON file.
type FileStore struct {
	Path string
}

var _ Store = (*FileStore)(nil)

// Load reads the snapshot; a missing file yields a nil snapshot.
func (s *FileStore) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Save atomically writes the snapshot.
func (s *FileStore) Save(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := s.Path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.Path)
}
