// Package infra holds the adapters behind the core ports: state stores,
// the train master reader, the MQTT event publisher, metrics sinks,
// tracing, Sentry monitoring and the outbound OAuth2 client. Core packages
// never import infra; app wires the two together.
package infra
