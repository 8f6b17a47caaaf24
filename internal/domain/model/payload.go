package model

// PresenceStatus is a user's ephemeral status within a context.
type PresenceStatus string

// Presence statuses.
const (
	StatusOnline PresenceStatus = "online"
	StatusTyping PresenceStatus = "typing"
	StatusIdle   PresenceStatus = "idle"
)

// Valid reports whether s is a known status.
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusTyping, StatusIdle:
		return true
	}
	return false
}

// PresenceUpdate is the payload of presence_update.
type PresenceUpdate struct {
	UserID    string         `json:"userId"`
	Status    PresenceStatus `json:"status"`
	ContextID string         `json:"contextId"`
	Synthetic bool           `json:"synthetic,omitempty"`
}

// NewMessage is the payload of new_message (a discussion post).
type NewMessage struct {
	ClubID    string `json:"clubId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
	Text      string `json:"text"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

// VoteCast is the payload of vote_cast.
type VoteCast struct {
	BookID    string `json:"bookId"`
	ClubID    string `json:"clubId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

// Activity kinds produced by synthetic actors.
const (
	ActivityReadingUpdate = "reading_update"
	ActivityRating        = "rating"
	ActivityClubJoin      = "club_join"
)

// ActivityUpdate is the payload of activity_update. UserID is the feed
// recipient and may be empty, in which case consumers pick their own.
type ActivityUpdate struct {
	UserID    string `json:"userId,omitempty"`
	ActorID   string `json:"actorId"`
	ActorName string `json:"actorName"`
	Activity  string `json:"activity"`
	BookTitle string `json:"bookTitle,omitempty"`
	ClubName  string `json:"clubName,omitempty"`
	Rating    int    `json:"rating,omitempty"`
	Progress  int    `json:"progress,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

// ClubUpdate is the payload of club_update.
type ClubUpdate struct {
	UserID   string `json:"userId"`
	ClubID   string `json:"clubId"`
	ClubName string `json:"clubName"`
	Message  string `json:"message"`
}

// Notification request kinds carried by the notification event.
const (
	NotifyFriendRequest = "friend_request"
	NotifyBadgeEarned   = "badge_earned"
)

// NotificationRequest is the payload of the notification event.
type NotificationRequest struct {
	Kind       string `json:"kind"`
	UserID     string `json:"userId"`
	FromUserID string `json:"fromUserId,omitempty"`
	FromName   string `json:"fromName,omitempty"`
	BadgeID    string `json:"badgeId,omitempty"`
	BadgeName  string `json:"badgeName,omitempty"`
}

// Progress update kinds reported by domain actions.
const (
	ProgressBookCompleted     = "book_completed"
	ProgressClubBookCompleted = "club_book_completed"
	ProgressSessionAttended   = "session_attended"
	ProgressSessionMissed     = "session_missed"
	ProgressShared            = "shared"
	ProgressDiscussionPost    = "discussion_post"
	ProgressListening         = "listening"
	ProgressClubJoined        = "club_joined"
)

// ProgressUpdate is the payload of progress_update. Month is formatted
// "2006-01" and only used by club_book_completed.
type ProgressUpdate struct {
	UserID  string `json:"userId"`
	Kind    string `json:"kind"`
	GroupID string `json:"groupId,omitempty"`
	Genre   string `json:"genre,omitempty"`
	Month   string `json:"month,omitempty"`
	Minutes int    `json:"minutes,omitempty"`
}
