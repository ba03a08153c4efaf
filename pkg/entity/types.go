package entity

import (
	"time"

	"github.com/platinummonkey/ledger/pkg/audit"
)

// User is an account. The password is never written to the audit trail in
// clear and the last login time is not audited at all.
type User struct {
	Base
	Username  string     `json:"username"`
	Email     *string    `json:"email"`
	Password  string     `json:"password"`
	Roles     []string   `json:"roles"`
	LastLogin *time.Time `json:"lastLogin"`
}

func (u *User) ItemType() audit.ItemType { return audit.ItemTypeUser }

func (u *User) AuditFields() []audit.Field {
	return append(u.BaseFields(),
		audit.Field{Name: "username", Value: &u.Username},
		audit.Field{Name: "email", Value: u.Email},
		audit.Field{Name: "password", Value: &u.Password, Sensitive: true},
		audit.Field{Name: "roles", Value: joinList(u.Roles)},
		audit.Field{Name: "lastLogin", Value: FormatTimePtr(u.LastLogin), NotLogged: true},
	)
}

// Group is a named set of users
type Group struct {
	Base
	Name        string   `json:"name"`
	Description *string  `json:"description"`
	Members     []string `json:"members"`
}

func (g *Group) ItemType() audit.ItemType { return audit.ItemTypeGroup }

func (g *Group) AuditFields() []audit.Field {
	return append(g.BaseFields(),
		audit.Field{Name: "name", Value: &g.Name},
		audit.Field{Name: "description", Value: g.Description},
		audit.Field{Name: "members", Value: joinList(g.Members)},
	)
}

// APIToken is a credential issued to a user. Tokens are never audited.
type APIToken struct {
	Base
	UserID    string     `json:"userId"`
	TokenHash string     `json:"tokenHash"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (t *APIToken) ItemType() audit.ItemType { return audit.ItemTypeAPIToken }

func (t *APIToken) AuditDisabled() bool { return true }

func (t *APIToken) AuditFields() []audit.Field {
	return append(t.BaseFields(),
		audit.Field{Name: "userId", Value: &t.UserID},
		audit.Field{Name: "tokenHash", Value: &t.TokenHash, Sensitive: true},
		audit.Field{Name: "expiresAt", Value: FormatTimePtr(t.ExpiresAt)},
	)
}
