// Package repl runs wamesh-cli commands interactively. Each line is split
// into arguments and handed to a Runner; a line ending in "?" lists the
// commands that start with it.
package repl
