// Package websocket is a server-only implementation of the WebSocket
// protocol (RFC 6455), including the permessage-deflate extension
// (RFC 7692).
//
// It accepts inbound TCP connections, performs the HTTP/1.1 upgrade
// handshake itself (without [net/http]), and exchanges framed messages
// with each connected peer through a callback table until the peer or
// the server ends the connection.
//
// Design goals, in order: protocol correctness, predictable resource
// ownership (one goroutine per connection, no shared mutable state once
// [Server.Listen] starts), and a small surface area.
//
// Note A: this package is server-only. There is no WebSocket client role,
// no TLS termination, and no subprotocol negotiation beyond handing the
// raw request headers to the application's handshake callback.
//
// Note B: extensions other than [permessage-deflate] are not supported.
//
// [permessage-deflate]: https://datatracker.ietf.org/doc/html/rfc7692
package websocket
