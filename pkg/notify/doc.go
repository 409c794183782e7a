// Package notify delivers outbound mail for request submissions and
// resolutions. Delivery is strictly fire-and-forget: the Dispatcher
// queues messages and drops on overload or failure, so notification
// trouble never surfaces to the operation that triggered it.
package notify
