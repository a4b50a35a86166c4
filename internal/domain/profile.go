package domain

import "time"

// Profile is the remote profile record holding the authoritative role.
type Profile struct {
	UserID      string
	Role        Role
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProfileDefaults seeds a profile created on first lookup.
type ProfileDefaults struct {
	Role        Role
	DisplayName string
}

// ProfileUpdate lists the fields a caller wants to change.
type ProfileUpdate struct {
	Role        *Role
	DisplayName *string
}

// RoleAssignment records the role requested during sign-up.
type RoleAssignment struct {
	UserID    string
	Role      Role
	CreatedAt time.Time
}

// ProfileCacheEntry is a cached role lookup keyed by user id.
type ProfileCacheEntry struct {
	Role        Role      `json:"role"`
	DisplayName string    `json:"displayName"`
	WrittenAt   time.Time `json:"writtenAt"`
}
