package gisapi

// PortalSelf represents the portal's self-describe response
// (sharing/rest/portals/self).
type PortalSelf struct {
	ID             string    `json:"id"                       yaml:"id"`
	Name           string    `json:"name"                     yaml:"name"`
	PortalHostname string    `json:"portalHostname"           yaml:"portalHostname"`
	CurrentVersion string    `json:"currentVersion"           yaml:"currentVersion"`
	IsPortal       bool      `json:"isPortal"                 yaml:"isPortal"`
	AllSSL         bool      `json:"allSSL"                   yaml:"allSSL"`
	URLKey         string    `json:"urlKey,omitempty"         yaml:"urlKey,omitempty"`
	CustomBaseURL  string    `json:"customBaseUrl,omitempty"  yaml:"customBaseUrl,omitempty"`
	User           *UserInfo `json:"user,omitempty"           yaml:"user,omitempty"`
}

// ServerInfo represents a server's rest/info response. OwningSystemURL
// identifies the portal the server is federated with; TokenServicesURL is
// where server-scoped tokens are minted.
type ServerInfo struct {
	CurrentVersion   float64 `json:"currentVersion"            yaml:"currentVersion"`
	FullVersion      string  `json:"fullVersion,omitempty"     yaml:"fullVersion,omitempty"`
	OwningSystemURL  string  `json:"owningSystemUrl,omitempty" yaml:"owningSystemUrl,omitempty"`
	TokenServicesURL string  `json:"tokenServicesUrl"          yaml:"tokenServicesUrl"`
}

// UserInfo represents the authenticated principal
// (sharing/rest/community/self).
type UserInfo struct {
	Username    string   `json:"username"              yaml:"username"`
	FullName    string   `json:"fullName,omitempty"    yaml:"fullName,omitempty"`
	Email       string   `json:"email,omitempty"       yaml:"email,omitempty"`
	Role        string   `json:"role,omitempty"        yaml:"role,omitempty"`
	OrgID       string   `json:"orgId,omitempty"       yaml:"orgId,omitempty"`
	Privileges  []string `json:"privileges,omitempty"  yaml:"privileges,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`

	// Created and Modified are epoch milliseconds, as the platform reports them.
	Created  int64 `json:"created,omitempty"  yaml:"created,omitempty"`
	Modified int64 `json:"modified,omitempty" yaml:"modified,omitempty"`
}
