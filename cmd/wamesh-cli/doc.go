// Package main is the entry point for wamesh-cli.
//
// wamesh-cli manages sessions on a running wamesh-server:
//
//	wamesh-cli session create --client-id acme --wait
//	wamesh-cli session qr sess-01j...
//	wamesh-cli message send -S sess-01j... -t 15550001111 -m "hello"
//	wamesh-cli -o json message logs --status failed
//	wamesh-cli events watch --topic 'session.*'
//	wamesh-cli shell
package main
