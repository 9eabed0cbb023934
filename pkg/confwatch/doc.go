// Package confwatch reloads a config file when it changes on disk. Both
// binaries wrap it in their own config.Watch.
package confwatch
