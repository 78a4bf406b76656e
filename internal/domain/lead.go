package domain

import "time"

// Lead is a captured contact identity. PhoneNumber is the natural key.
type Lead struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	PhoneNumber        string    `json:"phone_number"`
	LanguagePreference Language  `json:"language_preference"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
