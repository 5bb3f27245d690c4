package models

import (
	"fmt"
	"strings"
)

const (
	RoleOwner     = "owner"
	RoleRenter    = "renter"
	RoleCommittee = "committee"
)

type User struct {
	Phone     string `json:"phone"`
	FullName  string `json:"full_name"`
	Apartment string `json:"apartment"`
	Role      string `json:"role"`
	Status    Status `json:"status"`
}

// Users worksheet columns, 1-based.
const (
	UserColPhone = iota + 1
	UserColName
	UserColApartment
	UserColRole
	UserColStatus
)

func (u *User) Row() []string {
	return []string{u.Phone, u.FullName, u.Apartment, u.Role, string(u.Status)}
}

func UserFromRow(row []string) (User, error) {
	if len(row) < UserColStatus {
		return User{}, fmt.Errorf("user row has %d cells, want %d", len(row), UserColStatus)
	}
	return User{
		Phone:     row[UserColPhone-1],
		FullName:  row[UserColName-1],
		Apartment: row[UserColApartment-1],
		Role:      row[UserColRole-1],
		Status:    Status(row[UserColStatus-1]),
	}, nil
}

// NormalizePhone strips separators so lookups match however the number was
// typed. The sheet keeps whatever formatting the user registered with.
func NormalizePhone(phone string) string {
	replacer := strings.NewReplacer("-", "", " ", "", "'", "")
	return replacer.Replace(strings.TrimSpace(phone))
}

func (u *User) IsCommittee() bool {
	return u.Role == RoleCommittee
}
