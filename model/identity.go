package model

// Member type discriminators used in group membership listings.
const (
	MemberTypeUser  = "user"
	MemberTypeGroup = "group"
)

// User is a service identity referenced by tickets and tasks. Identity
// objects are independent entities; tickets reference them by name and
// id but never own them.
type User struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Group is a named set of members. Members may themselves be groups;
// the identity resolver flattens nested membership.
type Group struct {
	ID      int           `json:"id"`
	Name    string        `json:"name"`
	Members []GroupMember `json:"members"`
}

// GroupMember is one entry of a group listing. Type discriminates
// between direct users and nested groups.
type GroupMember struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Email string `json:"email,omitempty"`
}

// User converts a user-typed member into a User value.
func (m GroupMember) User() User {
	return User{ID: m.ID, Name: m.Name, Email: m.Email}
}
