// Package logging provides structured logging utilities for dynamic-kubernetes.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Structured logging with slog
//   - Consistent attribute naming across the codebase
//   - Host/URL sanitization and credential masking
//   - A small Logger interface for packages configured with an arbitrary logger
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithResource(slog.Default(), "apps/v1", "Deployment")
//	logger.Debug("request completed",
//	    logging.Operation("read"),
//	    logging.Namespace("default"),
//	    logging.StatusCode(200))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("connected", logging.Host(restConfig.Host))
//
// # Security Considerations
//
// Request and response bodies are never logged. API server URLs have IP
// addresses redacted, and bearer tokens are reduced to their length.
package logging
