// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/evaluation/ws to receive the bus events of
// the running evaluation as JSON messages. The stream ends when the
// evaluation stops, publication completes or the client disconnects.
package websocket
