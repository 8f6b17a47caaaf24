package achievement

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/okian/chorus/internal/domain/progress"
)

// Criteria kinds accepted in the catalog.
const (
	KindBooksCompleted     = "books_completed"
	KindClubStreak         = "club_streak"
	KindAttendanceRate     = "attendance_rate"
	KindDiscussionCount    = "discussion_count"
	KindSharesCount        = "shares_count"
	KindGenreDiversity     = "genre_diversity"
	KindClubsJoined        = "clubs_joined"
	KindMembershipDuration = "membership_duration"
	KindListeningMinutes   = "listening_minutes"
	KindExpression         = "expression"
)

// Criteria decides whether a snapshot earns a badge. The set of
// implementations is closed to this package.
type Criteria interface {
	Kind() string
	eligible(snap progress.Snapshot, now time.Time) bool
}

// BooksCompleted requires Count books across every club.
type BooksCompleted struct{ Count int }

// ClubStreak requires one club with ConsecutiveMonths monthly completions in a row.
type ClubStreak struct{ ConsecutiveMonths int }

// AttendanceRate requires one club with at least MinSessions held sessions
// and an attended share of at least Rate.
type AttendanceRate struct {
	Rate        float64
	MinSessions int
}

// DiscussionCount requires Count discussion posts.
type DiscussionCount struct{ Count int }

// SharesCount requires Count shares.
type SharesCount struct{ Count int }

// GenreDiversity requires Genres distinct genres.
type GenreDiversity struct{ Genres int }

// ClubsJoined requires membership in Count clubs.
type ClubsJoined struct{ Count int }

// MembershipDuration requires Days days since the user joined.
type MembershipDuration struct{ Days int }

// ListeningMinutes requires Minutes minutes of listening.
type ListeningMinutes struct{ Minutes int }

// Expression is a CEL boolean expression over snapshot totals. An expression
// that fails to compile or evaluate is never eligible.
type Expression struct {
	Source  string
	program cel.Program
	err     error
}

// Unknown is any criteria type this build does not understand. It is never eligible.
type Unknown struct{ Type string }

func (BooksCompleted) Kind() string     { return KindBooksCompleted }
func (ClubStreak) Kind() string         { return KindClubStreak }
func (AttendanceRate) Kind() string     { return KindAttendanceRate }
func (DiscussionCount) Kind() string    { return KindDiscussionCount }
func (SharesCount) Kind() string        { return KindSharesCount }
func (GenreDiversity) Kind() string     { return KindGenreDiversity }
func (ClubsJoined) Kind() string        { return KindClubsJoined }
func (MembershipDuration) Kind() string { return KindMembershipDuration }
func (ListeningMinutes) Kind() string   { return KindListeningMinutes }
func (*Expression) Kind() string        { return KindExpression }
func (u Unknown) Kind() string          { return u.Type }

func (c BooksCompleted) eligible(s progress.Snapshot, _ time.Time) bool {
	return s.TotalBooks() >= c.Count
}

func (c ClubStreak) eligible(s progress.Snapshot, _ time.Time) bool {
	return s.MaxStreak() >= c.ConsecutiveMonths
}

func (c AttendanceRate) eligible(s progress.Snapshot, _ time.Time) bool {
	for _, g := range s.Groups {
		if g.SessionsHeld == 0 || g.SessionsHeld < c.MinSessions {
			continue
		}
		if float64(g.SessionsAttended)/float64(g.SessionsHeld) >= c.Rate {
			return true
		}
	}
	return false
}

func (c DiscussionCount) eligible(s progress.Snapshot, _ time.Time) bool {
	return s.TotalDiscussionPosts() >= c.Count
}

func (c SharesCount) eligible(s progress.Snapshot, _ time.Time) bool {
	return s.TotalShares() >= c.Count
}

func (c GenreDiversity) eligible(s progress.Snapshot, _ time.Time) bool {
	return s.DistinctGenres() >= c.Genres
}

func (c ClubsJoined) eligible(s progress.Snapshot, _ time.Time) bool {
	return len(s.Groups) >= c.Count
}

func (c MembershipDuration) eligible(s progress.Snapshot, now time.Time) bool {
	if s.JoinedAt.IsZero() {
		return false
	}
	return s.MembershipDays(now) >= c.Days
}

func (c ListeningMinutes) eligible(s progress.Snapshot, _ time.Time) bool {
	return s.Listening.MinutesListened >= c.Minutes
}

func (c *Expression) eligible(s progress.Snapshot, now time.Time) bool {
	if c.program == nil {
		return false
	}
	out, _, err := c.program.Eval(expressionVars(s, now))
	if err != nil {
		return false
	}
	ok, isBool := out.Value().(bool)
	return isBool && ok
}

func (Unknown) eligible(progress.Snapshot, time.Time) bool { return false }

// Err returns the compile error of the expression, if any.
func (c *Expression) Err() error {
	return c.err
}

var exprVariables = []string{
	"books_completed",
	"discussion_posts",
	"shares",
	"genres",
	"clubs",
	"sessions_attended",
	"sessions_held",
	"max_streak",
	"listening_minutes",
	"membership_days",
}

var (
	celOnce sync.Once
	celEnv  *cel.Env
	celErr  error
)

func expressionEnv() (*cel.Env, error) {
	celOnce.Do(func() {
		opts := make([]cel.EnvOption, 0, len(exprVariables))
		for _, name := range exprVariables {
			opts = append(opts, cel.Variable(name, cel.IntType))
		}
		celEnv, celErr = cel.NewEnv(opts...)
	})
	return celEnv, celErr
}

func expressionVars(s progress.Snapshot, now time.Time) map[string]any {
	return map[string]any{
		"books_completed":   int64(s.TotalBooks()),
		"discussion_posts":  int64(s.TotalDiscussionPosts()),
		"shares":            int64(s.TotalShares()),
		"genres":            int64(s.DistinctGenres()),
		"clubs":             int64(len(s.Groups)),
		"sessions_attended": int64(s.TotalSessionsAttended()),
		"sessions_held":     int64(s.TotalSessionsHeld()),
		"max_streak":        int64(s.MaxStreak()),
		"listening_minutes": int64(s.Listening.MinutesListened),
		"membership_days":   int64(s.MembershipDays(now)),
	}
}

// NewExpression compiles src. The returned criteria is usable even when
// compilation fails; it is then never eligible and Err reports why.
func NewExpression(src string) *Expression {
	c := &Expression{Source: src}
	env, err := expressionEnv()
	if err != nil {
		c.err = fmt.Errorf("build expression env: %w", err)
		return c
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		c.err = fmt.Errorf("compile %q: %w", src, issues.Err())
		return c
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		c.err = fmt.Errorf("expression %q must return a boolean, got %s", src, ast.OutputType())
		return c
	}
	prg, err := env.Program(ast)
	if err != nil {
		c.err = fmt.Errorf("program %q: %w", src, err)
		return c
	}
	c.program = prg
	return c
}

// parseCriteria builds a variant from its catalog parameters.
func parseCriteria(params map[string]any) (Criteria, error) {
	kind, _ := params["type"].(string)
	switch kind {
	case KindBooksCompleted:
		n, err := intParam(params, "count")
		return BooksCompleted{Count: n}, err
	case KindClubStreak:
		n, err := intParam(params, "consecutiveMonths")
		return ClubStreak{ConsecutiveMonths: n}, err
	case KindAttendanceRate:
		rate, err := floatParam(params, "rate")
		if err != nil {
			return nil, err
		}
		n, err := intParam(params, "minSessions")
		return AttendanceRate{Rate: rate, MinSessions: n}, err
	case KindDiscussionCount:
		n, err := intParam(params, "count")
		return DiscussionCount{Count: n}, err
	case KindSharesCount:
		n, err := intParam(params, "count")
		return SharesCount{Count: n}, err
	case KindGenreDiversity:
		n, err := intParam(params, "genres")
		return GenreDiversity{Genres: n}, err
	case KindClubsJoined:
		n, err := intParam(params, "count")
		return ClubsJoined{Count: n}, err
	case KindMembershipDuration:
		n, err := intParam(params, "days")
		return MembershipDuration{Days: n}, err
	case KindListeningMinutes:
		n, err := intParam(params, "minutes")
		return ListeningMinutes{Minutes: n}, err
	case KindExpression:
		src, _ := params["expr"].(string)
		if src == "" {
			return nil, fmt.Errorf("%w: expression criteria needs expr", ErrInvalidCriteria)
		}
		return NewExpression(src), nil
	default:
		return Unknown{Type: kind}, nil
	}
}

func intParam(params map[string]any, key string) (int, error) {
	switch v := params[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s=%v is not a whole number", ErrInvalidCriteria, key, v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q", ErrInvalidCriteria, key, v)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidCriteria, key)
	default:
		return 0, fmt.Errorf("%w: %s has type %T", ErrInvalidCriteria, key, v)
	}
}

func floatParam(params map[string]any, key string) (float64, error) {
	switch v := params[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q", ErrInvalidCriteria, key, v)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidCriteria, key)
	default:
		return 0, fmt.Errorf("%w: %s has type %T", ErrInvalidCriteria, key, v)
	}
}
