/*
Package service implements supervised lifecycle state machines.

A Service runs one of three task shapes:

  - Idle: StartUp while STARTING, nothing while RUNNING, ShutDown while STOPPING.
  - Loop: Run begins as the service enters RUNNING and is cancelled by a stop;
    its natural return moves the service through STOPPING to TERMINATED.
  - Scheduled: Iteration runs on a Schedule while RUNNING; a stop cancels the
    pending execution.

Task bodies observe stops cooperatively through their context. Errors and
panics raised by a task body move the service to FAILED; they are reported
through FailureCause, the Await methods and listeners, never by panicking the
caller.
*/
package service
