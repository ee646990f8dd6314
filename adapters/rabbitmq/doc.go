/*
Package rabbitmq exports dead letters to a RabbitMQ topic exchange.
It includes an auto-reconnect publisher and supports optional header
propagation via a bus.HeaderPropagator.
*/
package rabbitmq
