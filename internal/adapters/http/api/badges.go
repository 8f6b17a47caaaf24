package api

import (
	"net/http"
	"time"

	"github.com/okian/chorus/internal/domain/achievement"
)

type badgeView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Rarity      string     `json:"rarity,omitempty"`
	Icon        string     `json:"icon,omitempty"`
	Criteria    string     `json:"criteria"`
	EarnedAt    *time.Time `json:"earnedAt,omitempty"`
}

func newBadgeView(b achievement.BadgeDefinition) badgeView {
	v := badgeView{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		Rarity:      b.Rarity,
		Icon:        b.Icon,
	}
	if b.Criteria != nil {
		v.Criteria = b.Criteria.Kind()
	}
	return v
}

// BadgeHandler serves the catalog and earned badges.
type BadgeHandler struct {
	deps BadgeDependencies
}

// NewBadgeHandler creates a new badge handler.
func NewBadgeHandler(deps BadgeDependencies) *BadgeHandler {
	return &BadgeHandler{deps: deps}
}

// HandleGetBadges handles GET /badges[?user=]. Without a user it returns the
// whole catalog.
func (h *BadgeHandler) HandleGetBadges(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_badges"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	user := r.URL.Query().Get("user")
	if user == "" {
		catalog := h.deps.Catalog()
		out := make([]badgeView, 0, len(catalog))
		for _, b := range catalog {
			out = append(out, newBadgeView(b))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	awards, err := h.deps.Badges(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", WrapKind(op, ErrInternal, err))
		return
	}
	out := make([]badgeView, 0, len(awards))
	for _, a := range awards {
		v := newBadgeView(a.Badge)
		earned := a.EarnedAt
		v.EarnedAt = &earned
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}
