// Package domain defines the persistence models for users and moderation
// records. These types are mapped with GORM and form the core data layer
// of the moderation backend.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Role is the platform role of a user account.
type Role string

const (
	RoleInfluencer Role = "influencer"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleInfluencer || r == RoleAdmin }

// InputKind is the type of content submitted for moderation.
type InputKind string

const (
	InputText  InputKind = "text"
	InputImage InputKind = "image"
	InputURL   InputKind = "url"
)

var inputLabels = map[InputKind]string{
	InputText:  "Text Content",
	InputImage: "Image File",
	InputURL:   "URL/Link",
}

// Label is the human-readable name shown next to k.
func (k InputKind) Label() string { return inputLabels[k] }

// Valid reports whether k is a supported input kind.
func (k InputKind) Valid() bool {
	switch k {
	case InputText, InputImage, InputURL:
		return true
	}
	return false
}

// Verdict is the outcome of a moderation request.
type Verdict string

const (
	VerdictSafe    Verdict = "safe"
	VerdictUnsafe  Verdict = "unsafe"
	VerdictPending Verdict = "pending"
	VerdictError   Verdict = "error"
)

var verdictLabels = map[Verdict]string{
	VerdictSafe:    "Safe Content",
	VerdictUnsafe:  "Unsafe Content",
	VerdictPending: "Pending Review",
	VerdictError:   "Processing Error",
}

// Label is the human-readable name shown next to v.
func (v Verdict) Label() string { return verdictLabels[v] }

// Terminal reports whether v is a final verdict.
func (v Verdict) Terminal() bool { return v != VerdictPending && v != "" }

// RiskLevel is the coarse severity tier attached to a classified record.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Label is the human-readable name shown next to r, e.g. "High Risk".
func (r RiskLevel) Label() string {
	if !r.Valid() {
		return ""
	}
	return strings.ToUpper(string(r[:1])) + string(r[1:]) + " Risk"
}

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// User is a registered account. The password hash never leaves the server.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Username / Email: unique login identifiers.
//   - Role: "influencer" (default) or "admin".
//   - IsActive: disabled accounts cannot log in or refresh tokens.
//   - Profile fields mirror what brand owners fill in at onboarding.
type User struct {
	ID              string     `json:"id"               gorm:"type:char(36);primaryKey"`
	Username        string     `json:"username"         gorm:"type:varchar(150);not null;uniqueIndex"`
	Email           string     `json:"email"            gorm:"type:varchar(254);not null;uniqueIndex"`
	PasswordHash    string     `json:"-"                gorm:"type:varchar(255);not null"`
	FirstName       string     `json:"first_name"       gorm:"type:varchar(150)"`
	LastName        string     `json:"last_name"        gorm:"type:varchar(150)"`
	Role            Role       `json:"role"             gorm:"type:varchar(20);not null;default:'influencer';check:chk_users_role,role IN ('influencer','admin')"`
	Organization    *string    `json:"organization,omitempty"     gorm:"type:varchar(200)"`
	InstagramHandle *string    `json:"instagram_handle,omitempty" gorm:"type:varchar(100)"`
	TwitterHandle   *string    `json:"twitter_handle,omitempty"   gorm:"type:varchar(100)"`
	YoutubeChannel  *string    `json:"youtube_channel,omitempty"  gorm:"type:varchar(200)"`
	Website         *string    `json:"website,omitempty"          gorm:"type:varchar(200)"`
	PhoneNumber     *string    `json:"phone_number,omitempty"     gorm:"type:varchar(20)"`
	Bio             *string    `json:"bio,omitempty"              gorm:"type:varchar(500)"`
	IsVerified      bool       `json:"is_verified"      gorm:"not null;default:false"`
	IsActive        bool       `json:"is_active"        gorm:"not null;default:true"`
	LastLoginAt     *time.Time `json:"last_login,omitempty"`
	CreatedAt       time.Time  `json:"date_joined"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// FullName joins first and last name, falling back to the username.
func (u User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Username
}

// ModerationRecord is one moderation request and its outcome. A record is
// inserted as pending and finalized exactly once after classification.
//
// RiskLevel and Confidence are either both nil or both set; they stay nil
// for pending and error verdicts. InputFile holds an upload reference and is
// only present for image submissions.
type ModerationRecord struct {
	ID               string                      `json:"id"                 gorm:"type:char(36);primaryKey"`
	UserID           string                      `json:"user_id"            gorm:"type:char(36);not null;index:idx_moderation_user_created,priority:1"`
	InputType        InputKind                   `json:"input_type"         gorm:"type:varchar(10);not null;index:idx_moderation_type_created,priority:1;check:chk_moderation_input_type,input_type IN ('text','image','url')"`
	InputValue       *string                     `json:"input_value"        gorm:"type:text"`
	InputFile        *string                     `json:"input_file"         gorm:"type:varchar(512)"`
	Result           Verdict                     `json:"result"             gorm:"type:varchar(10);not null;default:'pending';index:idx_moderation_result_created,priority:1;check:chk_moderation_result,result IN ('safe','unsafe','pending','error')"`
	RiskLevel        *RiskLevel                  `json:"risk_level"         gorm:"type:varchar(10)"`
	ConfidenceScore  *float64                    `json:"confidence_score"`
	FlagsDetected    datatypes.JSONSlice[string] `json:"flags_detected"     gorm:"not null"`
	ProcessingTimeMs *int64                      `json:"processing_time_ms"`
	IPAddress        *string                     `json:"-"                  gorm:"type:varchar(45)"`
	UserAgent        *string                     `json:"-"                  gorm:"type:text"`
	Notes            *string                     `json:"notes"              gorm:"type:text"`
	CreatedAt        time.Time                   `json:"created_at"         gorm:"index:idx_moderation_user_created,priority:2;index:idx_moderation_type_created,priority:2;index:idx_moderation_result_created,priority:2"`
	UpdatedAt        time.Time                   `json:"updated_at"`

	// User is the submitting account, loaded by the record queries and
	// rendered as an Owner. Records are removed with their owner.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ModerationRecord.
func (ModerationRecord) TableName() string { return "moderation_logs" }

// Owner is the public summary of a record's submitter embedded in record
// responses.
type Owner struct {
	ID           string  `json:"id"`
	Username     string  `json:"username"`
	FullName     string  `json:"full_name"`
	Role         Role    `json:"role"`
	Organization *string `json:"organization,omitempty"`
}

// MarshalJSON adds the display labels and, when User was loaded, the owner
// summary under "user".
func (m ModerationRecord) MarshalJSON() ([]byte, error) {
	type record ModerationRecord
	out := struct {
		record
		Owner            *Owner  `json:"user,omitempty"`
		InputTypeDisplay string  `json:"input_type_display"`
		ResultDisplay    string  `json:"result_display"`
		RiskLevelDisplay *string `json:"risk_level_display"`
	}{
		record:           record(m),
		InputTypeDisplay: m.InputType.Label(),
		ResultDisplay:    m.Result.Label(),
	}
	if m.User.ID != "" {
		out.Owner = &Owner{
			ID:           m.User.ID,
			Username:     m.User.Username,
			FullName:     m.User.FullName(),
			Role:         m.User.Role,
			Organization: m.User.Organization,
		}
	}
	if m.RiskLevel != nil {
		l := m.RiskLevel.Label()
		out.RiskLevelDisplay = &l
	}
	return json.Marshal(out)
}
