// Package shutdown runs named cleanup hooks when the process is asked to stop.
//
// Hooks run in reverse registration order under one shared deadline, so a
// server that registers "sessions" before "http" stops accepting requests
// before its sessions are torn down.
package shutdown
