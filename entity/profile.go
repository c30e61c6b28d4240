package entity

import (
	"fmt"
	"net/http"
	"time"

	"hsync/lib/validate"
)

type DurationUnit string

const (
	UnitHours  DurationUnit = "hours"
	UnitDays   DurationUnit = "days"
	UnitWeeks  DurationUnit = "weeks"
	UnitMonths DurationUnit = "months"
)

// Duration is the validity of a voucher counted from its creation
type Duration struct {
	Amount int          `json:"amount" bson:"amount" validate:"required,min=1"`
	Unit   DurationUnit `json:"unit" bson:"unit" validate:"required,oneof=hours days weeks months"`
}

// ExpiresAt returns from shifted by the duration; months follow the calendar
func (d Duration) ExpiresAt(from time.Time) time.Time {
	switch d.Unit {
	case UnitHours:
		return from.Add(time.Duration(d.Amount) * time.Hour)
	case UnitDays:
		return from.AddDate(0, 0, d.Amount)
	case UnitWeeks:
		return from.AddDate(0, 0, 7*d.Amount)
	case UnitMonths:
		return from.AddDate(0, d.Amount, 0)
	}
	return from
}

// LimitUptime renders the duration in the controller's uptime notation.
// A month is counted as 30 days there.
func (d Duration) LimitUptime() string {
	switch d.Unit {
	case UnitHours:
		return fmt.Sprintf("%dh", d.Amount)
	case UnitDays:
		return fmt.Sprintf("%dd", d.Amount)
	case UnitWeeks:
		return fmt.Sprintf("%dw", d.Amount)
	case UnitMonths:
		return fmt.Sprintf("%dd", 30*d.Amount)
	}
	return ""
}

func (d Duration) String() string {
	return fmt.Sprintf("%d %s", d.Amount, d.Unit)
}

// Profile describes a sellable voucher type
type Profile struct {
	Id             int64    `json:"id"`
	Name           string   `json:"name"`
	Duration       Duration `json:"duration"`
	WholesalePrice int64    `json:"wholesale_price"`
	RetailPrice    int64    `json:"retail_price"`
	RemoteProfile  string   `json:"remote_profile"`
	CodeLength     int      `json:"code_length"`
	Active         bool     `json:"active"`
}

type ProfileRequest struct {
	Name           string   `json:"name" validate:"required,min=1,max=64"`
	Duration       Duration `json:"duration" validate:"required"`
	WholesalePrice int64    `json:"wholesale_price" validate:"min=0"`
	RetailPrice    int64    `json:"retail_price" validate:"required,min=1"`
	RemoteProfile  string   `json:"remote_profile" validate:"required,min=1,max=64"`
	CodeLength     int      `json:"code_length" validate:"required,min=4,max=12"`
}

func (p *ProfileRequest) Bind(_ *http.Request) error {
	return validate.Struct(p)
}

func (p *ProfileRequest) Profile() *Profile {
	return &Profile{
		Name:           p.Name,
		Duration:       p.Duration,
		WholesalePrice: p.WholesalePrice,
		RetailPrice:    p.RetailPrice,
		RemoteProfile:  p.RemoteProfile,
		CodeLength:     p.CodeLength,
		Active:         true,
	}
}
