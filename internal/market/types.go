// Package market holds the storefront's view of backend resources.
package market

import (
	"fmt"
	"time"
)

type Script struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug,omitempty"`
	Description string    `json:"description"`
	Game        string    `json:"game"`
	Version     string    `json:"version,omitempty"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (s Script) GetID() string { return s.ID }

// DisplayPrice formats the price in major units, e.g. "12.50 EUR".
func (s Script) DisplayPrice() string {
	cur := s.Currency
	if cur == "" {
		cur = "USD"
	}
	return fmt.Sprintf("%.2f %s", s.Price, cur)
}

// License statuses as reported by the backend.
const (
	LicenseActive  = "active"
	LicenseRevoked = "revoked"
	LicenseExpired = "expired"
)

type License struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	ScriptID   string     `json:"scriptId"`
	ScriptName string     `json:"scriptName,omitempty"`
	UserID     string     `json:"userId,omitempty"`
	BoundIP    string     `json:"boundIp,omitempty"` // empty until first bind
	Status     string     `json:"status"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func (l License) GetID() string { return l.ID }

func (l License) Active() bool { return l.Status == LicenseActive }

type Payment struct {
	ID         string    `json:"id"`
	ScriptID   string    `json:"scriptId"`
	ScriptName string    `json:"scriptName,omitempty"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	Provider   string    `json:"provider"` // "stripe","paypal"
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (p Payment) GetID() string { return p.ID }

type Activity struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "login","license.bind",...
	Message   string    `json:"message"`
	IP        string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a Activity) GetID() string { return a.ID }

const RoleAdmin = "admin"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	DiscordID string    `json:"discordId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) GetID() string { return u.ID }

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// Dashboard is everything the account page shows for one user.
type Dashboard struct {
	Profile  User
	Licenses []License
	Payments []Payment
	Activity []Activity
}
