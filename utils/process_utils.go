package utils

import (
	"io"
	"sync"
)

// SynchronizedWriter wraps an io.Writer so that concurrent writers, such as the stdout and stderr pipes of a child
// process, do not interleave partial writes.
type SynchronizedWriter struct {
	writer io.Writer
	mutex  sync.Mutex
}

// NewSynchronizedWriter wraps the provided writer.
func NewSynchronizedWriter(writer io.Writer) *SynchronizedWriter {
	return &SynchronizedWriter{writer: writer}
}

func (s *SynchronizedWriter) Write(p []byte) (n int, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.writer.Write(p)
}
