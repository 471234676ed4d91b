// Package events defines the notifications emitted by the allocation engine.
//
// Available event types:
//   - departure_alert: a scheduled stop has elapsed on a resource
//   - suggestion_issued: a waiting train has a feasible resource
//   - suggestion_expired: a suggestion was not accepted in time
//   - suggestion_accepted: a suggestion turned into an assignment
//   - state_changed: the station state document was replaced
package events
