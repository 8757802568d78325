package models

import "time"

// PartyRole is the role asserted for a party by the identity provider.
type PartyRole string

const (
	RoleProducer  PartyRole = "PRODUCER"
	RoleCertifier PartyRole = "CERTIFIER"
	RoleOperator  PartyRole = "OPERATOR"
)

// Valid reports whether the role is one the service understands.
func (r PartyRole) Valid() bool {
	switch r {
	case RoleProducer, RoleCertifier, RoleOperator:
		return true
	}
	return false
}

// Party mirrors an identity known to the service. The identifier is assigned by
// the identity provider and is never generated locally.
type Party struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	Name          string    `json:"name"`
	Organization  string    `gorm:"index" json:"organization"`
	Email         string    `json:"email,omitempty"`
	Role          PartyRole `gorm:"not null;index;size:16" json:"role"`
	WalletAddress string    `gorm:"size:42" json:"walletAddress,omitempty"`
	IsActive      bool      `gorm:"default:true" json:"isActive"`
	IsVerified    bool      `gorm:"default:false" json:"isVerified"`

	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
