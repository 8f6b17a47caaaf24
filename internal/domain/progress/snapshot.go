package progress

import (
	"sort"
	"time"
)

// GroupProgress accumulates a user's activity inside one club.
type GroupProgress struct {
	BooksCompleted             int             `json:"booksCompleted"`
	SessionsHeld               int             `json:"sessionsHeld"`
	SessionsAttended           int             `json:"sessionsAttended"`
	Shares                     int             `json:"shares"`
	DiscussionPosts            int             `json:"discussionPosts"`
	ConsecutiveMonthsCompleted int             `json:"consecutiveMonthsCompleted"`
	LastCompletedMonth         string          `json:"lastCompletedMonth,omitempty"`
	Genres                     map[string]bool `json:"genres,omitempty"`
	JoinedAt                   time.Time       `json:"joinedAt"`
}

// ListeningStats accumulates audio listening.
type ListeningStats struct {
	MinutesListened  int `json:"minutesListened"`
	SessionsListened int `json:"sessionsListened"`
}

// EarnedBadge records when a badge was awarded.
type EarnedBadge struct {
	BadgeID  string    `json:"badgeId"`
	EarnedAt time.Time `json:"earnedAt"`
}

// Snapshot is a user's full progress. Values returned by the Store are
// copies and may be read freely.
type Snapshot struct {
	UserID       string                   `json:"userId"`
	Groups       map[string]GroupProgress `json:"groups"`
	Listening    ListeningStats           `json:"listening"`
	EarnedBadges map[string]EarnedBadge   `json:"earnedBadges"`
	JoinedAt     time.Time                `json:"joinedAt"`
}

func newSnapshot(userID string) Snapshot {
	return Snapshot{
		UserID:       userID,
		Groups:       make(map[string]GroupProgress),
		EarnedBadges: make(map[string]EarnedBadge),
	}
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Groups = make(map[string]GroupProgress, len(s.Groups))
	for id, g := range s.Groups {
		if g.Genres != nil {
			genres := make(map[string]bool, len(g.Genres))
			for k, v := range g.Genres {
				genres[k] = v
			}
			g.Genres = genres
		}
		out.Groups[id] = g
	}
	out.EarnedBadges = make(map[string]EarnedBadge, len(s.EarnedBadges))
	for id, b := range s.EarnedBadges {
		out.EarnedBadges[id] = b
	}
	return out
}

// HasBadge reports whether badgeID was already awarded.
func (s Snapshot) HasBadge(badgeID string) bool {
	_, ok := s.EarnedBadges[badgeID]
	return ok
}

// Badges returns the earned badges ordered by award time then id.
func (s Snapshot) Badges() []EarnedBadge {
	out := make([]EarnedBadge, 0, len(s.EarnedBadges))
	for _, b := range s.EarnedBadges {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].BadgeID < out[j].BadgeID
		}
		return out[i].EarnedAt.Before(out[j].EarnedAt)
	})
	return out
}

// TotalBooks sums completed books across groups.
func (s Snapshot) TotalBooks() int {
	n := 0
	for _, g := range s.Groups {
		n += g.BooksCompleted
	}
	return n
}

// TotalDiscussionPosts sums discussion posts across groups.
func (s Snapshot) TotalDiscussionPosts() int {
	n := 0
	for _, g := range s.Groups {
		n += g.DiscussionPosts
	}
	return n
}

// TotalShares sums shares across groups.
func (s Snapshot) TotalShares() int {
	n := 0
	for _, g := range s.Groups {
		n += g.Shares
	}
	return n
}

// TotalSessionsAttended sums attended sessions across groups.
func (s Snapshot) TotalSessionsAttended() int {
	n := 0
	for _, g := range s.Groups {
		n += g.SessionsAttended
	}
	return n
}

// TotalSessionsHeld sums held sessions across groups.
func (s Snapshot) TotalSessionsHeld() int {
	n := 0
	for _, g := range s.Groups {
		n += g.SessionsHeld
	}
	return n
}

// DistinctGenres counts genres read across every group.
func (s Snapshot) DistinctGenres() int {
	seen := make(map[string]bool)
	for _, g := range s.Groups {
		for genre := range g.Genres {
			seen[genre] = true
		}
	}
	return len(seen)
}

// MaxStreak is the longest current monthly completion streak of any group.
func (s Snapshot) MaxStreak() int {
	best := 0
	for _, g := range s.Groups {
		best = max(best, g.ConsecutiveMonthsCompleted)
	}
	return best
}

// MembershipDays is the number of whole days since the user joined, or 0 if unknown.
func (s Snapshot) MembershipDays(now time.Time) int {
	if s.JoinedAt.IsZero() || now.Before(s.JoinedAt) {
		return 0
	}
	return int(now.Sub(s.JoinedAt) / (24 * time.Hour))
}
