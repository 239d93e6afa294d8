package model

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultAvatarRef is used for claims whose owner has no avatar of their own.
const DefaultAvatarRef = "/static/avatar-default.png"

// DateLayout is the canonical claim date format (YYYY-MM-DD).
const DateLayout = "2006-01-02"

var validate = validator.New()

// Claim is one owner's single active day-selection. OwnerID is the primary
// key: writing a claim for an owner replaces the previous one wholesale.
type Claim struct {
	OwnerID     string `json:"owner_id" validate:"required"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref"`

	// Date is the claimed day in YYYY-MM-DD form. Only the syntax is
	// checked; far past and far future dates are accepted.
	Date string `json:"date" validate:"required,datetime=2006-01-02"`

	// ClaimedAt is assigned by the store on every write and is strictly
	// increasing. It is informational only.
	ClaimedAt time.Time `json:"claimed_at"`
}

// Validate checks the fields the store itself is responsible for. The
// non-empty display name rule is enforced by the claim store client.
func (c Claim) Validate() error {
	return validate.Struct(c)
}

// WithDefaults returns c with an empty AvatarRef replaced by the fallback.
func (c Claim) WithDefaults() Claim {
	if c.AvatarRef == "" {
		c.AvatarRef = DefaultAvatarRef
	}
	return c
}

// Profile holds a client's locally preferred display values. It is not
// shared with other users and is applied on the next claim write.
type Profile struct {
	DisplayName string `yaml:"display_name" json:"display_name"`
	AvatarRef   string `yaml:"avatar_ref,omitempty" json:"avatar_ref,omitempty"`
}

// Snapshot is one full push of the current claim set. Revision increases
// by one with every change the store applies.
type Snapshot struct {
	Revision uint64    `json:"revision"`
	Claims   []Claim   `json:"claims"`
	At       time.Time `json:"at"`
}

// Clone returns a deep copy of the claim slice so receivers can never alias
// the store's or another observer's backing array.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Claims = append([]Claim(nil), s.Claims...)
	if out.Claims == nil {
		out.Claims = []Claim{}
	}
	return out
}

// FrameSnapshot is the only frame type pushed on the live feed.
const FrameSnapshot = "snapshot"

// Frame is one message on the websocket feed.
type Frame struct {
	Type string `json:"type"`
	Snapshot
}
