// Package pagination turns cursor-paginated Helix endpoints into lazy
// streams of items.
//
// Helix returns at most one page per request together with an opaque
// pagination.cursor. The next page is requested by repeating the request
// with after=<cursor>. Because each cursor is only known once the previous
// page is decoded, pages are fetched strictly one after another and only
// when the consumer asks for more items.
//
// Example usage:
//
//	stream := pagination.New[helix.User](client, "https://api.twitch.tv/helix/users", query)
//	for user, err := range stream.All(ctx) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(user.Login)
//	}
//
// A stream:
//   - starts without an after parameter
//   - stops when the server sends no cursor
//   - stops on the first page with no data, whatever the cursor says
//   - yields the first fetch error as its last element
//
// Streams are not restartable; create a new one to iterate again.
package pagination
