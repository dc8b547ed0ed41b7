/*
Package log provides structured logging for drover using zerolog.

The package wraps zerolog behind a global logger initialized once via
log.Init, with child-logger helpers that attach the fields every drover
process cares about: the component (relay, trainer-client, worker-client,
wire), the connection identity, and the process role.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	relayLog := log.WithComponent("relay")
	relayLog.Info().Int("port", cfg.WorkerPort).Msg("accepting workers")

Connection loggers carry conn_id and peer on every line:

	connLog := log.WithConn("relay", id, conn.RemoteAddr().String())
	connLog.Warn().Dur("elapsed", elapsed).Msg("ack overdue")

Levels follow zerolog: debug, info, warn, error. Fatal logs and exits the
process; it is reserved for startup failures in cmd/drover.
*/
package log
