// Package limiters turns the internal/rate windows into per-action throttle
// policies for the authority.
//
// # Policies
//
//   - register: per client IP, counted over successful registrations in the
//     durable access log (survives restarts).
//   - password_reset: per email, counted over reset-request log rows whether
//     or not the account exists.
//   - password_reset_ip, admin_toggle, admin_maintenance, admin_read: sliding
//     windows in memory or Redis.
//
// The limiter is nil-safe: calling CheckAndRecord on a nil receiver allows.
//
// # Architecture boundaries
//
// Each action owns its own key namespace. Thresholds come from the [Rule]
// map supplied at construction time.
//
// # What this package must NOT do
//
//   - Import the root authority package or any sibling internal package
//     except internal/rate.
//   - Make policy decisions beyond counting; flow functions decide consequences.
package limiters
