// internal/model/models.go
package model

import (
	"time"
)

// Repository represents the metadata of a starred GitHub repository.
type Repository struct {
	ID            int64
	Name          string
	Owner         string
	FullName      string
	Description   *string
	StarCount     int
	Language      *string
	Topics        []string
	RepoCreatedAt time.Time
	PushedAt      *time.Time
	LastFetchedAt time.Time
}

// UserStar links a user to a repository they starred.
type UserStar struct {
	UserID        string
	RepoID        int64
	StarredAt     time.Time
	LastCheckedAt time.Time
}

// StarredRepo is a repository together with the time the user starred it.
type StarredRepo struct {
	Repository
	StarredAt time.Time
}

// Account holds the GitHub credentials of a signed-in user.
type Account struct {
	UserID      string
	Login       string
	AccessToken string
	UpdatedAt   time.Time
}
