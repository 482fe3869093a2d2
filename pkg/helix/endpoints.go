package helix

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/helix-client/pkg/client"
	"github.com/Sternrassler/helix-client/pkg/pagination"
)

// FollowsFrom lists every user followed by from.
//
// https://dev.twitch.tv/docs/api/reference#get-users-follows
func FollowsFrom(c *client.Client, from UserID) *pagination.Stream[Follow] {
	return pagination.New[Follow](c, c.URL("/users/follows"), url.Values{"from_id": {string(from)}})
}

// ListGames lists the games with the given IDs in arbitrary order. At most
// 100 IDs may be given.
//
// https://dev.twitch.tv/docs/api/reference#get-games
func ListGames(c *client.Client, ids ...GameID) *pagination.Stream[Game] {
	return pagination.New[Game](c, c.URL("/games"), values("id", ids))
}

// Get fetches this game.
func (id GameID) Get(ctx context.Context, c *client.Client) (Game, error) {
	games, err := client.GetData[[]Game](ctx, c, c.URL("/games"), url.Values{"id": {string(id)}})
	if err != nil {
		return Game{}, err
	}
	game, err := pagination.ExactlyOneOf(games)
	if err != nil {
		return Game{}, fmt.Errorf("game %s: %w", id, err)
	}
	return game, nil
}

// StreamFilter narrows ListStreams. Empty fields do not filter. Games is
// limited to 10 entries, Users and Languages to 100.
type StreamFilter struct {
	Games     []GameID
	Users     []UserID
	Languages []string
}

func (f StreamFilter) query() url.Values {
	q := url.Values{}
	for k, v := range values("game_id", f.Games) {
		q[k] = v
	}
	for k, v := range values("user_id", f.Users) {
		q[k] = v
	}
	for k, v := range values("language", f.Languages) {
		q[k] = v
	}
	return q
}

// ListStreams lists live streams by decreasing viewer count.
//
// https://dev.twitch.tv/docs/api/reference#get-streams
func ListStreams(c *client.Client, filter StreamFilter) *pagination.Stream[Stream] {
	return pagination.New[Stream](c, c.URL("/streams"), filter.query())
}

// Game fetches the game being streamed.
func (s Stream) Game(ctx context.Context, c *client.Client) (Game, error) {
	return s.GameID.Get(ctx, c)
}

// UsersByLogin lists the users with the given login names in arbitrary
// order. At most 100 names may be given.
//
// https://dev.twitch.tv/docs/api/reference#get-users
func UsersByLogin(c *client.Client, logins ...string) *pagination.Stream[User] {
	return pagination.New[User](c, c.URL("/users"), values("login", logins))
}

// ListUsers lists the users with the given IDs in arbitrary order. At most
// 100 IDs may be given.
func ListUsers(c *client.Client, ids ...UserID) *pagination.Stream[User] {
	return pagination.New[User](c, c.URL("/users"), values("id", ids))
}

// Me returns the user the client's token belongs to.
func Me(ctx context.Context, c *client.Client) (User, error) {
	return pagination.ExactlyOne(ctx, pagination.New[User](c, c.URL("/users"), nil))
}

// ChatlogAfter returns the chunk of chat replay starting at offset into the
// video. This uses the legacy v5 comments endpoint, which has no Helix
// counterpart.
func (id VideoID) ChatlogAfter(ctx context.Context, c *client.Client, offset time.Duration) (Chatlog, error) {
	base := strings.TrimSuffix(c.BaseURL(), "/helix")
	rawURL := fmt.Sprintf("%s/v5/videos/%s/comments", base, url.PathEscape(string(id)))
	query := url.Values{"content_offset_seconds": {strconv.FormatInt(int64(offset/time.Second), 10)}}
	return client.Get[Chatlog](ctx, c, rawURL, query)
}

// values builds a repeated query parameter from distinct entries of vs,
// keeping their first-seen order.
func values[S ~string](key string, vs []S) url.Values {
	if len(vs) == 0 {
		return nil
	}
	seen := make([]string, 0, len(vs))
	for _, v := range vs {
		if !slices.Contains(seen, string(v)) {
			seen = append(seen, string(v))
		}
	}
	return url.Values{key: seen}
}
