package models

import "time"

// Property is the listing a contract is signed against. Only the fields the
// contract workflow needs are modelled here.
type Property struct {
	ID        string
	OwnerID   string
	Title     string
	Address   string
	CreatedAt time.Time
}
