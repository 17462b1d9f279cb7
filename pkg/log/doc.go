/*
Package log provides structured logging for fleetwatch using zerolog.

Init configures the global Logger once at startup from a Config (level,
JSON vs. console output, destination writer). Call sites get a
component- or instance-scoped child logger via WithComponent or
WithInstanceID rather than attaching fields by hand, so every log line
from a given subsystem or worker instance carries a consistent key.

JSON output is meant for production (one object per line, collected by
whatever the deployment's log pipeline is); console output is meant for
local development and tests.
*/
package log
