package models

// User is the identity shape the messaging core depends on. Profile
// details beyond id and display name live outside this subsystem.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
