package models

import "time"

// OAuth2UserLink ties a local account to an external provider identity.
type OAuth2UserLink struct {
	ID              string
	UserID          string
	Provider        string
	ProviderUserID  string
	ProviderEmail   string
	ProviderName    string
	ProviderPicture *string
	LinkedAt        time.Time
	LastUsedAt      time.Time
	Active          bool
}

// OAuth2Profile is the fixed-shape projection of a provider's raw attribute
// map. Each supported provider contributes an extractor in the oauth2 service.
type OAuth2Profile struct {
	ID       string
	Name     string
	Email    string
	ImageURL string
}
