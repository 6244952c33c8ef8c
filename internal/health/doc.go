// Package health provides composable probes and the HTTP handlers that serve
// them as liveness and readiness endpoints.
//
// [All] and [Any] combine probes, [Fixed] and [CheckFunc] build them.
// [ShutdownGate] fails readiness as soon as a drain starts so load balancers
// stop routing before the listener closes.
package health
