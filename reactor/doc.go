// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the portable polling event loop: a single-threaded
// poll(2) reactor driving watch readiness, interval timers, and message
// dispatch for one connection.
package reactor
