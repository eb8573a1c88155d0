// Package audit delivers security events to pluggable sinks.
//
// Components never block on delivery: they hand events to a [Dispatcher],
// which buffers them and relays to a [Sink] on its own goroutine. Shipped
// sinks cover in-process channels, JSON lines, logrus, Sentry and AMQP
// brokers; [MultiSink] combines them.
//
// This package does not decide which events to emit. That belongs to the
// lockout, token, refresh and apikey packages and the root engine.
package audit
