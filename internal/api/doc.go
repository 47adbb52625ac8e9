// Package api exposes the REST surface for submitting chain runs, invoking
// chains synchronously, and inspecting run state and service metrics.
package api
