package models

import "time"

// Class is a language-learning class owned by the platform's roster service.
// The engine only reads it for membership scope and flag context.
type Class struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	LanguageCode string    `db:"language_code" json:"language_code"`
	TeacherID    string    `db:"teacher_id" json:"teacher_id"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ClassContext is the class and teacher visibility attached to a flag record
// when it is created or refreshed.
type ClassContext struct {
	ClassIDs   []string
	TeacherIDs []string
}
