/*
Package metrics defines and registers fleetwatch's Prometheus series:
per-instance reboot/terminate/drop counters, registry size, maintain-tick
duration, and cloud lookup failures. Handler exposes them over HTTP for
scraping; HealthHandler/ReadyHandler/LivenessHandler expose a small JSON
health surface alongside them, with UpdateComponent called by the
monitor loop ("monitor") and by Instance.GetMState ("cloud_adapter",
after each cloud lookup) to report readiness.
*/
package metrics
