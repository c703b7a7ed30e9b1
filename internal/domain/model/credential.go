package model

import "time"

// Credential is a target-site account held on behalf of an owner. The key is
// (OwnerID, OwnerUsername, TargetSite, TargetAccount); TargetAccount is never empty.
type Credential struct {
	OwnerID       string
	OwnerUsername string
	TargetSite    string
	TargetAccount string
	Password      string // Plaintext at the domain boundary; encrypted at rest by the adapter.
	Email         string
	FirstName     string
	LastName      string
	Location      string
	AutoGenerated bool
	CreatedAt     time.Time
}

// Profile returns the registration profile described by the credential.
func (c Credential) Profile() Profile {
	return Profile{
		Username:  c.TargetAccount,
		Password:  c.Password,
		Email:     c.Email,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Location:  c.Location,
	}
}
