// Package helix holds the Twitch entities returned by the API and the
// endpoint helpers that fetch them through a client.Client.
package helix

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unvalidated identifiers as returned by the API.
type (
	GameID   string
	StreamID string
	TagID    string
	UserID   string
	VideoID  string
)

// Follow is a follow relationship: From follows To.
type Follow struct {
	FromID     UserID    `json:"from_id"`
	FromName   string    `json:"from_name"`
	ToID       UserID    `json:"to_id"`
	ToName     string    `json:"to_name"`
	FollowedAt time.Time `json:"followed_at"`
}

// Game is a category on Twitch.
type Game struct {
	// BoxArtURL is a template containing {width} and {height}. It may be empty.
	BoxArtURL string `json:"box_art_url,omitempty"`
	ID        GameID `json:"id"`
	Name      string `json:"name"`
}

func (g Game) String() string {
	return g.Name
}

// BoxArt returns the box art URL for the given size, or "" if the game has none.
func (g Game) BoxArt(width, height int) string {
	return fillSize(g.BoxArtURL, width, height)
}

// StreamType is the type field of a Stream.
type StreamType string

const (
	StreamTypeLive StreamType = "live"
	// StreamTypeError is sent in case of an error.
	StreamTypeError StreamType = ""
)

// Stream is a live stream.
type Stream struct {
	GameID       GameID     `json:"game_id"`
	ID           StreamID   `json:"id"`
	Language     string     `json:"language"`
	StartedAt    time.Time  `json:"started_at"`
	TagIDs       []TagID    `json:"tag_ids"`
	ThumbnailURL string     `json:"thumbnail_url"`
	Title        string     `json:"title"`
	Type         StreamType `json:"type"`
	UserID       UserID     `json:"user_id"`
	UserName     string     `json:"user_name"`
	ViewerCount  uint64     `json:"viewer_count"`
}

func (s Stream) String() string {
	return s.Title
}

// URL returns a link to this stream.
func (s Stream) URL() string {
	return fmt.Sprintf("https://twitch.tv/streams/%s/channel/%s", s.ID, s.UserID)
}

// Thumbnail returns the thumbnail URL for the given size.
func (s Stream) Thumbnail(width, height int) string {
	return fillSize(s.ThumbnailURL, width, height)
}

// Uptime returns how long the stream has been live at now.
func (s Stream) Uptime(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// BroadcasterType is the broadcaster_type field of a User.
type BroadcasterType string

const (
	BroadcasterTypePartner   BroadcasterType = "partner"
	BroadcasterTypeAffiliate BroadcasterType = "affiliate"
	BroadcasterTypeRegular   BroadcasterType = ""
)

// UserType is the type field of a User.
type UserType string

const (
	UserTypeStaff     UserType = "staff"
	UserTypeAdmin     UserType = "admin"
	UserTypeGlobalMod UserType = "global_mod"
	UserTypeRegular   UserType = ""
)

// User is a Twitch user or channel.
type User struct {
	BroadcasterType BroadcasterType `json:"broadcaster_type"`
	Description     string          `json:"description"`
	DisplayName     string          `json:"display_name"`
	// Email is only set when the token has the user:read:email scope.
	Email           string   `json:"email,omitempty"`
	ID              UserID   `json:"id"`
	Login           string   `json:"login"`
	OfflineImageURL string   `json:"offline_image_url,omitempty"`
	ProfileImageURL string   `json:"profile_image_url,omitempty"`
	Type            UserType `json:"type"`
	ViewCount       uint64   `json:"view_count"`
}

func (u User) String() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Login
}

// Chatlog is one chunk of a video's chat replay.
type Chatlog struct {
	Comments []Message `json:"comments"`
	// Next is the cursor of the following chunk, if any.
	Next string `json:"_next,omitempty"`
}

// MessageState is the state field of a Message.
type MessageState string

// MessageStatePublished is the only known state.
const MessageStatePublished MessageState = "published"

// Message is a chat message of a video.
type Message struct {
	ContentOffsetSeconds float64         `json:"content_offset_seconds"`
	Commenter            Commenter       `json:"commenter"`
	Message              MessageBody     `json:"message"`
	MoreReplies          json.RawMessage `json:"more_replies,omitempty"`
	State                MessageState    `json:"state"`
}

// Offset returns the position of the message in the video.
func (m Message) Offset() time.Duration {
	return time.Duration(m.ContentOffsetSeconds * float64(time.Second))
}

// Commenter is the author of a Message.
type Commenter struct {
	ID          UserID `json:"_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// MessageBody is the content of a Message.
type MessageBody struct {
	Body string `json:"body"`
	// IsAction is true for /me messages.
	IsAction bool `json:"is_action"`
	// UserColor is the chosen nickname color in hex, if any.
	UserColor string `json:"user_color,omitempty"`
}

func fillSize(template string, width, height int) string {
	if template == "" {
		return ""
	}
	return strings.NewReplacer(
		"{width}", strconv.Itoa(width),
		"{height}", strconv.Itoa(height),
	).Replace(template)
}
