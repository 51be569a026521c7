/*
Package log provides structured logging for nsscheduler using zerolog.

Call Init once at process startup with the desired level and format, then use
the package-level helpers (Info, Warn, Error, Fatal) or grab a component
logger with WithComponent / WithEnvironment for fields that should be attached
to every subsequent line (e.g. "component=controller environment=dev-team").

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	ctrlLog := log.WithEnvironment("controller", "dev-team")
	ctrlLog.Info().Msg("controller started")
*/
package log
