// Package domain contains the core request concepts of the pdf2img service:
// output formats and conversion parameters.
// Keep this package free of transport (HTTP) and infrastructure (engine,
// Redis, Postgres) concerns.
package domain
