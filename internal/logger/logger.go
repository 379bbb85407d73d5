// Package logger configures the process-wide zerolog instance and hands out
// component-scoped sub-loggers for the gateway's subsystems.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide base logger. Component loggers are derived from it.
var Log zerolog.Logger

// Initialize sets up the global logger with the configured level and format.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "custard-gateway").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

// Registry returns the sub-logger for the Agent Registry.
func Registry() *zerolog.Logger { return component("registry") }

// Correlator returns the sub-logger for the request/response Correlator.
func Correlator() *zerolog.Logger { return component("correlator") }

// Orchestrator returns the sub-logger for the Query Orchestrator.
func Orchestrator() *zerolog.Logger { return component("orchestrator") }

// Pool returns the sub-logger for the CSV-to-SQL Session Pool.
func Pool() *zerolog.Logger { return component("csv_pool") }

// AgentWS returns the sub-logger for the Agent Session Endpoint.
func AgentWS() *zerolog.Logger { return component("agent_ws") }

// StatusWS returns the sub-logger for the Status WebSocket Endpoint / Fan-out.
func StatusWS() *zerolog.Logger { return component("status_ws") }

// HTTP returns the sub-logger for HTTP request handling.
func HTTP() *zerolog.Logger { return component("http") }

// Database returns the sub-logger for persistence operations.
func Database() *zerolog.Logger { return component("database") }

// LLM returns the sub-logger for external LLM invocations.
func LLM() *zerolog.Logger { return component("llm") }

// Events returns the sub-logger for the cross-pod registry event bus.
func Events() *zerolog.Logger { return component("events") }
