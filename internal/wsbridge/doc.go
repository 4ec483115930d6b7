// Package wsbridge serves chat sessions to web clients over WebSocket:
// transcript snapshots and connection status flow out as JSON frames, send
// commands flow in. One socket binds one session; closing either closes
// both.
package wsbridge
