package model

import (
	"fmt"
	"strings"
	"time"
)

// ClassID identifies one of the two daily sessions.
type ClassID string

const (
	Morning   ClassID = "morning"
	Afternoon ClassID = "afternoon"
)

// Classes lists the sessions in display order.
var Classes = []ClassID{Morning, Afternoon}

// Valid reports whether c is a known session.
func (c ClassID) Valid() bool {
	return c == Morning || c == Afternoon
}

// Label returns the French display label used in exports.
func (c ClassID) Label() string {
	if info, ok := ClassInfos[c]; ok {
		return info.Label
	}
	return string(c)
}

// ParseClassID accepts the wire value of a session.
func ParseClassID(s string) (ClassID, error) {
	c := ClassID(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown class %q", s)
	}
	return c, nil
}

// ClassInfo describes a session slot.
type ClassInfo struct {
	ID    ClassID `json:"id"`
	Label string  `json:"label"`
	Start string  `json:"start"`
	End   string  `json:"end"`
}

var ClassInfos = map[ClassID]ClassInfo{
	Morning:   {ID: Morning, Label: "Matin", Start: "08h30", End: "13h00"},
	Afternoon: {ID: Afternoon, Label: "Après-midi", Start: "14h00", End: "18h30"},
}

// Student is a registered learner.
type Student struct {
	ID        string    `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	ClassID   ClassID   `json:"classId"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewStudent is the input for creating a student.
type NewStudent struct {
	FirstName string  `json:"firstName" validate:"required,max=100"`
	LastName  string  `json:"lastName" validate:"required,max=100"`
	ClassID   ClassID `json:"classId" validate:"classid"`
}

// StudentUpdate holds the fields to change; nil fields are left untouched.
type StudentUpdate struct {
	FirstName *string  `json:"firstName,omitempty"`
	LastName  *string  `json:"lastName,omitempty"`
	ClassID   *ClassID `json:"classId,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u StudentUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.ClassID == nil
}

// AttendanceRecord is one student's presence for one session on one date.
type AttendanceRecord struct {
	ID          string  `json:"id"`
	StudentID   string  `json:"studentId"`
	Date        string  `json:"date"`
	ClassID     ClassID `json:"classId"`
	Present     bool    `json:"present"`
	ArrivalTime string  `json:"arrivalTime,omitempty"`
}

// PresentStudent marks a student present with an optional HH:mm arrival time.
type PresentStudent struct {
	StudentID   string `json:"studentId" validate:"required"`
	ArrivalTime string `json:"arrivalTime,omitempty" validate:"omitempty,hhmm"`
}

// DaySave replaces the whole attendance sheet of a session for a date.
type DaySave struct {
	Date    string           `json:"date" validate:"required,isodate"`
	ClassID ClassID          `json:"classId" validate:"classid"`
	Present []PresentStudent `json:"presentStudentsData" validate:"dive"`
}

// Well-known settings keys.
const (
	SettingFormationStart = "FORMATION_START"
	SettingFormationEnd   = "FORMATION_END"
)

// Setting is a key/value override stored remotely.
type Setting struct {
	Key         string `json:"key" validate:"required,max=100"`
	Value       string `json:"value" validate:"required"`
	Description string `json:"description,omitempty"`
}

// ImportSummary reports the outcome of a bulk student import.
type ImportSummary struct {
	Added   int `json:"added_count"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Session is a signed access token for the API.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
