/*
Package client is a typed Go client for corrald's REST API.

It covers the full control surface: creating a world, resetting it,
reading its status, and fetching its VPN peer config and network map.
The CTF platform backend and the end-to-end tests both drive corrald
through this package instead of hand-building HTTP requests.

	c := client.New("http://corrald:5000")
	cfg, err := c.CreateWorld(ctx, "summerctf", "alice")
	if err != nil {
		// handle
	}
	// cfg is the wireguard peer config to hand to the player

Expected conditions map to sentinel errors: a 404 (peer config not
written yet, VPN service absent) unwraps to ErrNotFound, a rejected
name to ErrInvalidName. Anything else is a real fault and carries the
response body in the error text.

Create and reset block for as long as corrald takes to finish the
underlying stack work, so callers control patience through the context
rather than a client-wide timeout.
*/
package client
