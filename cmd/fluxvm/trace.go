package main

import "io"

// prefixWriter tags every write with a fixed prefix, so -trace output
// from different sessions (one `run` invocation, or one whole REPL
// session) can be told apart. All fixtures run within one REPL session
// share the same prefix.
type prefixWriter struct {
	prefix string
	w      io.Writer
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	if _, err := p.w.Write([]byte(p.prefix)); err != nil {
		return 0, err
	}
	n, err := p.w.Write(b)
	return n, err
}
