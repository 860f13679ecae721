// Package ws streams collection snapshot updates to UI clients over
// WebSocket.
//
// Hub bridges the notifier's subscription stream onto any number of
// WebSocket connections. A connecting client immediately receives the latest
// update (the notifier's replay-latest contract carries through the wire),
// then one message per subsequent publish — there is no polling interval;
// pushes happen exactly when the cache publishes.
//
// Message format sent to clients:
//
//	{
//	  "event": "snapshot" | "cleared",
//	  "data":  { /* same schema as GET /api/v1/collections */ }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws/collections by the daemon.
package ws
