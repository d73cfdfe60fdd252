package domain

// User is the active identity, durable or guest.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayName returns the name used when addressing the user.
func (u User) DisplayName() string {
	if u.Name == "" {
		return "User"
	}
	return u.Name
}

// Mode tells where a user's chat state lives.
type Mode string

const (
	ModeDurable Mode = "durable"
	ModeGuest   Mode = "guest"
)

// RelationshipStage values as stored on profiles.
const (
	StageNew          = "new"
	StageAcquaintance = "acquaintance"
	StageDating       = "dating"
	StageCommitted    = "committed"
)

// Profile is the personalization record of a durable user.
type Profile struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Email             string   `json:"email,omitempty"`
	AvatarURL         string   `json:"avatar_url,omitempty"`
	Bio               string   `json:"bio,omitempty"`
	Interests         []string `json:"interests,omitempty"`
	PersonalityTraits []string `json:"personality_traits,omitempty"`
	RelationshipStage string   `json:"relationship_stage,omitempty"`
	UpdatedAt         string   `json:"updated_at,omitempty"`
}
