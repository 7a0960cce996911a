package models

// User is a registered identity as returned by the interpretation service.
// LastName is a pointer so an absent last name stays distinct from an empty
// string across persistence round trips.
type User struct {
	ID        int64   `json:"id"`
	FirstName string  `json:"first_name"`
	LastName  *string `json:"last_name"`
	DOB       string  `json:"dob"`
	Phone     string  `json:"phone"`
}
