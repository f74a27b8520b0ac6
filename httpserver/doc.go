// Package httpserver provides the server shell shared by the identity and
// registry services: a chi router with request logging, liveness/readiness
// probes, drain/undrain for load balancer rotation, optional pprof, and
// graceful shutdown.
package httpserver
