package models

import (
	"time"

	id "tumi/pkg/domain"
)

type User struct {
	ID        id.UserID
	Email     string
	FirstName string
	LastName  string
	CreatedAt time.Time
}

// FullName joins first and last name, skipping blanks.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
