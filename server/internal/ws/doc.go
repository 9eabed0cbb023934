// Package ws is the WebSocket gateway every client UI connects to.
//
// Each connection gets a uuid, is attached to the bus as a transport and is
// greeted with connection-established. Clients then send JSON frames
// {"event", "data"}:
//
//	join-branch     {branchId, role, userId?}   register or switch identity
//	leave-branch    {branchId}                  drop identity, keep socket
//	join-customer   {branchId, customerId?}     join as role customer
//	leave-customer  {}                          like leave-branch
//	ping            {}                          reply pong
//
// plus the client-originated events in client_events.go, which are checked
// against the sender's role and published to the sender's branch. A frame
// whose data does not decode is answered with a bad_frame error.
//
// A successful join is answered with branch-joined followed by the branch
// presence as a sequenced branch-metrics event sent only to the joiner.
//
// Outgoing frames are queued on a buffered channel drained by writePump. A
// client whose buffer is full is disconnected rather than allowed to stall
// the bus.
package ws
