package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// hijack takes over the connection behind w. The response writer wrappers
// in this package delegate to it so websocket upgrades pass through them.
func hijack(w http.ResponseWriter) (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("%T does not support hijacking", w)
	}
	return h.Hijack()
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw.statusCode = http.StatusSwitchingProtocols
	return hijack(rw.ResponseWriter)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func (rw *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw.statusCode = http.StatusSwitchingProtocols
	rw.written = true
	return hijack(rw.ResponseWriter)
}

func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func (rw *tracingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw.statusCode = http.StatusSwitchingProtocols
	rw.written = true
	return hijack(rw.ResponseWriter)
}

func (rw *tracingResponseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
