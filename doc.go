// Package wsproto implements the RFC 6455 WebSocket protocol as a
// session-core library: HTTP upgrade handshake, frame codec, message
// fragmentation and UTF-8 validation, and the closing handshake, all
// wired around a Session state machine (CONNECTING -> OPEN -> CLOSING ->
// CLOSED).
//
// wsproto does not depend on net/http; a Session owns its net.Conn
// directly and parses the handshake bytes itself, so it fits equally
// behind a raw TCP acceptor (see Server) or a hijacked HTTP connection.
//
// # Usage
//
//	endpoint := wsproto.NewEndpoint(wsproto.RoleServer,
//		wsproto.WithLogger(logger),
//		wsproto.WithRateLimit(wsproto.DefaultRateLimitConfig()))
//
//	srv := wsproto.NewServer(wsproto.ServerConfig{
//		Addr:     ":8080",
//		Endpoint: endpoint,
//		Handler:  myHandler{},
//	})
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
package wsproto

/*
   WebSocket Frame Format (RFC 6455):

   0                   1                   2                   3
   0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
  +-+-+-+-+-------+-+-------------+-------------------------------+
  |F|R|R|R| opcode|M| Payload len |    Extended payload length    |
  |I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
  |N|V|V|V|       |S|             |   (if payload len==126/127)   |
  | |1|2|3|       |K|             |                               |
  +-+-+-+-+-------+-+-------------+-------------------------------+
  |     Extended payload length continued, if payload len == 127  |
  +---------------------------------------------------------------+
  |                               | Masking-key, if MASK set to 1 |
  +-------------------------------+-------------------------------+
  | Masking-key (continued)       |          Payload Data         |
  +-------------------------------+-------------------------------+
  |                     Payload Data continued ...                |
  +---------------------------------------------------------------+
  |                     Payload Data continued ...                |
  +---------------------------------------------------------------+
*/
