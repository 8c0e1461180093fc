package amarkotha

// PostType discriminates the three kinds of citizen submissions.
type PostType string

const (
	PostTypeIssue    PostType = "Issue"
	PostTypePetition PostType = "Petition"
	PostTypePoll     PostType = "Poll"
)

type PostCategory string

const (
	CategoryInfrastructure PostCategory = "Infrastructure"
	CategoryEducation      PostCategory = "Education"
	CategoryEconomy        PostCategory = "Economy"
	CategoryCorruption     PostCategory = "Corruption"
	CategoryHealth         PostCategory = "Health"
	CategoryEnvironment    PostCategory = "Environment"
	CategoryOther          PostCategory = "Other"
)

// ParseCategory maps free-form category text to a known category, falling
// back to Other.
func ParseCategory(s string) PostCategory {
	for _, c := range []PostCategory{
		CategoryInfrastructure, CategoryEducation, CategoryEconomy,
		CategoryCorruption, CategoryHealth, CategoryEnvironment, CategoryOther,
	} {
		if equalFold(string(c), s) {
			return c
		}
	}
	return CategoryOther
}

// Geographic sentinels. A post scoped to DivisionNational or DistrictAll
// matches every specific division/district in feed filters.
const (
	DivisionNational = "National"
	DistrictAll      = "All"

	// FilterAll is the wildcard on the filter side.
	FilterAll = "ALL"
)

type Comment struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	AuthorID  string `json:"authorId"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type PollOption struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// Post is a citizen submission: an Issue, a Petition, or a Poll.
//
// The numeric vote counters and the voter id sets are maintained together
// by field-level deltas; UpvotesBy and DownvotesBy are disjoint and their
// sizes equal the counters. The remote store is the source of truth: a
// Post is never constructed partially, and every delivered snapshot fully
// replaces the previous one.
type Post struct {
	ID          string       `json:"id"`
	Type        PostType     `json:"type"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Author      string       `json:"author"`
	AuthorID    string       `json:"authorId"`
	Category    PostCategory `json:"category"`
	Timestamp   int64        `json:"timestamp"`

	Upvotes     int      `json:"upvotes"`
	Downvotes   int      `json:"downvotes"`
	UpvotesBy   []string `json:"upvotesBy"`
	DownvotesBy []string `json:"downvotesBy"`

	Division string `json:"division"`
	District string `json:"district"`

	Hashtags []string  `json:"hashtags"`
	Comments []Comment `json:"comments"`

	// Poll posts only. Option vote counts render but casting is not wired.
	PollOptions []PollOption `json:"pollOptions,omitempty"`

	// Optional annotation attached at creation time by the analysis client.
	AIAnalysis string `json:"aiAnalysis,omitempty"`
}

// Normalize defaults every absent list so consumers never branch on nil.
func (p *Post) Normalize() {
	if p.UpvotesBy == nil {
		p.UpvotesBy = []string{}
	}
	if p.DownvotesBy == nil {
		p.DownvotesBy = []string{}
	}
	if p.Comments == nil {
		p.Comments = []Comment{}
	}
	if p.Hashtags == nil {
		p.Hashtags = []string{}
	}
	if p.Division == "" {
		p.Division = DivisionNational
	}
	if p.District == "" {
		p.District = DistrictAll
	}
}

// HasUpvoted reports whether uid is in the upvoter set.
func (p *Post) HasUpvoted(uid string) bool { return contains(p.UpvotesBy, uid) }

// HasDownvoted reports whether uid is in the downvoter set.
func (p *Post) HasDownvoted(uid string) bool { return contains(p.DownvotesBy, uid) }

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type AccountStatus string

const (
	StatusActive    AccountStatus = "Active"
	StatusInactive  AccountStatus = "Inactive"
	StatusBanned    AccountStatus = "Banned"
	StatusPending   AccountStatus = "Pending"
	StatusSuspended AccountStatus = "Suspended"
)

// User is the profile document mirrored for an identity. Follower and
// following counters are authoritative only from the remote store and are
// never recomputed locally.
type User struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Username  string        `json:"username,omitempty"`
	Email     string        `json:"email,omitempty"`
	Avatar    string        `json:"avatar"`
	Bio       string        `json:"bio,omitempty"`
	Location  string        `json:"location,omitempty"`
	Followers int           `json:"followers"`
	Following int           `json:"following"`
	Role      Role          `json:"role,omitempty"`
	Status    AccountStatus `json:"status,omitempty"`
	JoinedAt  int64         `json:"joinedDate,omitempty"`
}

// IsAdmin reports the courtesy client-side role check. The store's access
// policy remains the security boundary.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyInfo    NotificationKind = "info"
	NotifyAlert   NotificationKind = "alert"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationKind `json:"type"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	Timestamp int64            `json:"timestamp"`
}

// SiteSettings is the singleton configuration document. Exactly one
// instance exists; an admin session initializes it with defaults when the
// document is absent.
type SiteSettings struct {
	SiteName             string `json:"siteName"`
	Tagline              string `json:"tagline"`
	ContactEmail         string `json:"contactEmail"`
	MaintenanceMode      bool   `json:"maintenanceMode"`
	AIAnalysisEnabled    bool   `json:"aiAnalysisEnabled"`
	AISuggestionsEnabled bool   `json:"aiSuggestionsEnabled"`
	DefaultDivision      string `json:"defaultDivision"`
	RegistrationOpen     bool   `json:"registrationOpen"`
}

func DefaultSettings() SiteSettings {
	return SiteSettings{
		SiteName:             "AmarKotha",
		Tagline:              "Voice of Bangladesh",
		ContactEmail:         "admin@amarkotha.com",
		AIAnalysisEnabled:    true,
		AISuggestionsEnabled: true,
		DefaultDivision:      "Dhaka",
		RegistrationOpen:     true,
	}
}

// Collection names in the document store.
const (
	CollectionPosts         = "posts"
	CollectionUsers         = "users"
	CollectionUsernames     = "usernames"
	CollectionNotifications = "notifications"
	CollectionSettings      = "settings"

	// SettingsDocID is the fixed id of the settings singleton.
	SettingsDocID = "config"
)
