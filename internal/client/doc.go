// Package client implements the user-facing side of the system: the REST
// client, the websocket push channel, the local tunnel host for peer-to-peer
// messages, the roster cache, and the facade that ties them into one session.
package client
