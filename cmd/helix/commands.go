package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/helix-client/pkg/helix"
	"github.com/Sternrassler/helix-client/pkg/pagination"
	"github.com/spf13/cobra"
)

func (a *app) tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the bearer token, minting one if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := a.client.Token(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func (a *app) usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users [login...]",
		Short: "Show users by login name, or the token's own user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var users []helix.User
			if len(args) == 0 {
				me, err := helix.Me(ctx, a.client)
				if err != nil {
					return err
				}
				users = append(users, me)
			} else {
				var err error
				users, err = pagination.Collect(ctx, helix.UsersByLogin(a.client, args...), 0)
				if err != nil {
					return err
				}
			}

			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tLOGIN\tNAME\tTYPE\tVIEWS")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", u.ID, u.Login, u, u.BroadcasterType, u.ViewCount)
			}
			return w.Flush()
		},
	}
}

func (a *app) streamsCmd() *cobra.Command {
	var (
		games     []string
		users     []string
		languages []string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "streams",
		Short: "List live streams by viewer count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := helix.StreamFilter{Languages: languages}
			for _, g := range games {
				filter.Games = append(filter.Games, helix.GameID(g))
			}
			for _, u := range users {
				filter.Users = append(filter.Users, helix.UserID(u))
			}

			streams, err := pagination.Collect(cmd.Context(), helix.ListStreams(a.client, filter), limit)
			if err != nil {
				return err
			}
			return writeStreams(cmd.OutOrStdout(), streams, time.Now())
		},
	}

	cmd.Flags().StringSliceVar(&games, "game", nil, "filter by game ID (repeatable)")
	cmd.Flags().StringSliceVar(&users, "user", nil, "filter by user ID (repeatable)")
	cmd.Flags().StringSliceVar(&languages, "language", nil, "filter by language code (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of streams, 0 for all")

	return cmd
}

func writeStreams(out io.Writer, streams []helix.Stream, now time.Time) error {
	w := newTable(out)
	fmt.Fprintln(w, "CHANNEL\tVIEWERS\tUPTIME\tTITLE")
	for _, s := range streams {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.UserName, s.ViewerCount, s.Uptime(now).Truncate(time.Minute), s)
	}
	return w.Flush()
}

func (a *app) gameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "game <id>",
		Short: "Show a game by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			game, err := helix.GameID(args[0]).Get(cmd.Context(), a.client)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", game.ID, game)
			return nil
		},
	}
}

func (a *app) followsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "follows <user-id>",
		Short: "List the channels a user follows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			follows, err := pagination.Collect(cmd.Context(), helix.FollowsFrom(a.client, helix.UserID(args[0])), limit)
			if err != nil {
				return err
			}

			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tNAME\tSINCE")
			for _, f := range follows {
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.ToID, f.ToName, f.FollowedAt.Format(time.DateOnly))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of follows, 0 for all")

	return cmd
}

func (a *app) chatlogCmd() *cobra.Command {
	var offset time.Duration

	cmd := &cobra.Command{
		Use:   "chatlog <video-id>",
		Short: "Print a chunk of a video's chat replay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := helix.VideoID(args[0]).ChatlogAfter(cmd.Context(), a.client, offset)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, m := range log.Comments {
				fmt.Fprintf(out, "[%s] %s: %s\n", m.Offset().Truncate(time.Second), m.Commenter.DisplayName, m.Message.Body)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&offset, "offset", 0, "position in the video to start at")

	return cmd
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}
