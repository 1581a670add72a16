// Package logx is multiposter's structured logging on top of zerolog.
//
// A Service fans each entry out to the enabled sinks: a console writer with
// short callers, an append-only JSON file, and a Telegram chat (min level and
// rate limited, never blocking the caller). Loggers taken from the Service
// follow hot reloads through Apply.
package logx
