// Package api exposes the REST surface of the gateway: the conversational
// chat endpoint, standalone transaction validation and contract risk
// analysis, operation history, and a health probe.
package api
