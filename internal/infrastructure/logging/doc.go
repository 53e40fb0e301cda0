// Package logging sets up the service-wide slog logger.
//
// Records are JSON by default (text when logging.format is "text") and
// always carry "service" and "version" attributes. With logging.output set
// to "file", output is rotated by lumberjack:
//
//	logging:
//	  level: info
//	  format: json
//	  output: file
//	  file:
//	    path: ./logs/unitlink.log
//	    max_size: 100
//	    max_backups: 5
//	    max_age: 30
//	    compress: true
//
// Do not log secrets. Ingest failures are logged in full here while the
// HTTP caller only receives a generic message.
package logging
