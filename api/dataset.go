package api

import "context"

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusInactive UserStatus = "inactive"
)

type User struct {
	ID     int        `json:"id"`
	Name   string     `json:"name"`
	Email  string     `json:"email"`
	Status UserStatus `json:"status"`
}

// Dataset é a fonte dos usuários servidos em /api/users.
type Dataset interface {
	Users(ctx context.Context) []User
}

// StaticDataset é somente leitura; Users devolve uma cópia.
type StaticDataset struct {
	users []User
}

func NewStaticDataset(users []User) *StaticDataset {
	cp := make([]User, len(users))
	copy(cp, users)
	return &StaticDataset{users: cp}
}

func (d *StaticDataset) Users(context.Context) []User {
	out := make([]User, len(d.users))
	copy(out, d.users)
	return out
}

// DefaultUsers é o conjunto fixo servido pelo gateway.
func DefaultUsers() []User {
	return []User{
		{ID: 1, Name: "Alice Johnson", Email: "alice@example.com", Status: StatusActive},
		{ID: 2, Name: "Bob Smith", Email: "bob@example.com", Status: StatusActive},
		{ID: 3, Name: "Carol Williams", Email: "carol@example.com", Status: StatusInactive},
	}
}
