// Package integration holds end-to-end tests running whole readpipe jobs
// against a model service over HTTP and the status server.
package integration
