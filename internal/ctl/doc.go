// Package ctl implements framelinkctl, a command line client for the
// framelink control API.
package ctl
