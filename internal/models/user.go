package models

// User is an account known to the identity collaborator. Only the fields the
// session server needs are carried here.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// String is used in status messages ("authorization succeed as ...").
func (u User) String() string {
	return u.Username
}
