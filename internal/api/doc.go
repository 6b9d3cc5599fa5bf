// Package api serves the App over loopback HTTP and streams its
// notifications over a WebSocket, and provides the client the CLI uses to
// talk to a running `ochat serve`.
//
// Routes (all JSON):
//
//	GET    /api/status
//	POST   /api/start | /api/stop
//	GET    /api/contacts
//	POST   /api/contacts                          request a chat
//	DELETE /api/contacts/{peer}
//	POST   /api/contacts/{peer}/confirm | cancel | block
//	PUT    /api/contacts/{peer}/rules
//	GET    /api/contacts/{peer}/messages
//	POST   /api/contacts/{peer}/messages          text, reply or reaction
//	POST   /api/contacts/{peer}/files
//	POST   /api/contacts/{peer}/typing
//	POST   /api/contacts/{peer}/messages/{id}/retry
//	DELETE /api/contacts/{peer}/messages/{id}
//	GET    /api/files/{transfer}
//	GET    /api/sessions
//	GET    /api/events                            WebSocket
package api
