/*
Package tracing records spans for API requests and the remote calls they make.

# Overview

A trace follows one API request from the router into the session it drives.
The HTTP middleware opens the root span; handlers open child spans around
remote calls. Finished spans are logged through zap by a background collector.

# Usage

	tracer := tracing.New("framelink", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "session.call")
	defer tracer.End(span)
	span.SetTag("method", "getColor")

# Trace Format

Traces use HTTP headers for propagation:
- X-Trace-ID: identifier for the entire request flow
- X-Span-ID: identifier for the current operation

Spans are buffered (1000) and dropped with a warning when the collector
falls behind.
*/
package tracing
