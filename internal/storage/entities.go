package storage

import "time"

// User is a registered account. LastActive is zero until the first heartbeat.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	LastActive   time.Time
	CreatedAt    time.Time
}

// Summary returns the public part of u.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}

// UserSummary is what other users are allowed to see about an account
type UserSummary struct {
	ID    int64  `json:"id,string"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Channel struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// ChannelSummary is a channel together with its current number of members
type ChannelSummary struct {
	Channel
	MemberCount int
}

type Message struct {
	ID        int64       `json:"id,string"`
	ChannelID int64       `json:"channelId,string"`
	AuthorID  int64       `json:"userId,string"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"createdAt"`
	Author    UserSummary `json:"user"`
}
