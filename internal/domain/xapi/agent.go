// Package xapi contains the xAPI (Tin Can) value types exchanged with a
// Learning Record Store: agents, verbs, statements and scores. These are
// the wire-level concepts of the xAPI specification, modeled as explicit
// typed structs validated at the LRS client boundary.
package xapi

import (
	"github.com/tincanhub/tincan-launch/internal/domain/user"
)

// Account is an account-based agent identity: a home page URL plus a
// name unique within that home page.
type Account struct {
	HomePage string `json:"homePage"`
	Name     string `json:"name"`
}

// Agent identifies a learner in the LRS. Exactly one inverse functional
// identifier (Mbox or Account) is populated.
type Agent struct {
	ObjectType string   `json:"objectType"`
	Name       string   `json:"name,omitempty"`
	Mbox       string   `json:"mbox,omitempty"`
	Account    *Account `json:"account,omitempty"`
}

// IdentitySource is the per-activity identity strategy configuration
// used to decide which agent identifier to emit.
type IdentitySource struct {
	// CustomAccountHomePage, when set, pairs with the user's IDNumber to
	// form an account identity against an external system.
	CustomAccountHomePage string

	// UseEmailIdentity allows an mbox identity built from the user's email.
	UseEmailIdentity bool

	// InstanceHomePage is the host LMS base URL, used for the default
	// account identity (homePage = base URL, name = username).
	InstanceHomePage string
}

// ResolveActor builds the Agent for a learner under the given identity
// strategy. Resolution always succeeds: when neither the custom account
// nor the email identity applies it falls through to the default
// account identity against the host base URL.
//
// Precedence: custom account home page + id number, then email mbox,
// then host account.
func ResolveActor(u *user.User, src IdentitySource) Agent {
	agent := Agent{
		ObjectType: "Agent",
		Name:       u.FullName(),
	}

	switch {
	case u.IDNumber != "" && src.CustomAccountHomePage != "":
		agent.Account = &Account{
			HomePage: src.CustomAccountHomePage,
			Name:     u.IDNumber,
		}
	case u.Email != "" && src.UseEmailIdentity:
		agent.Mbox = "mailto:" + u.Email
	default:
		agent.Account = &Account{
			HomePage: src.InstanceHomePage,
			Name:     u.Username,
		}
	}

	return agent
}

// Equals reports whether two agents denote the same identity. Display
// name is ignored; only the inverse functional identifier counts.
func (a Agent) Equals(other Agent) bool {
	if a.Mbox != "" || other.Mbox != "" {
		return a.Mbox == other.Mbox
	}
	if a.Account != nil && other.Account != nil {
		return a.Account.HomePage == other.Account.HomePage && a.Account.Name == other.Account.Name
	}
	return false
}
