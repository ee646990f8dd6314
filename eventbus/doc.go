/*
Package eventbus provides an in-process typed event bus.

Handlers declare the message types they accept as explicit bindings. Publish
resolves bindings by the dynamic type of the message (interface bindings match
implementing types), fans the message out to every matching handler and
aggregates handler failures. A message nobody accepts is wrapped in a
bus.DeadLetter and re-dispatched to the handlers bound to that type.
*/
package eventbus
