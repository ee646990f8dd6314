/*
Package supervisor coordinates the lifecycle of a fixed set of services.

A Supervisor starts and stops its services concurrently, keeps a consistent
table of their states fed by transition listeners, and lets callers block until
the set is healthy (every service RUNNING) or stopped (every service
TERMINATED or FAILED).

In-flight stops are never abandoned: StopAll only requests them, each service
finishes its own shutdown on its goroutine whether or not anyone awaits it, and
Shutdown is the blocking form for callers that need a leak-free exit.
*/
package supervisor
