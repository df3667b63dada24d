package qchat

import (
	"bufio"
	"io"
	"log/slog"
)

// chunkQueueBuffer bounds how far the relay can run ahead of the turn engine
// before blocking. Chunks are never dropped; a slow consumer back-pressures
// the relay, which preserves the child's emission order.
const chunkQueueBuffer = 1024

// startRelay launches the goroutine that drains the child's combined
// output stream. Each line read is mirrored verbatim to the transcript, then
// pushed onto the returned channel. The channel is closed on end-of-stream;
// absence of further chunks is the only exit signal, read errors are not
// forwarded. The relay does no parsing.
func startRelay(r io.Reader, transcript *Transcript, log *slog.Logger) <-chan string {
	chunks := make(chan string, chunkQueueBuffer)

	go func() {
		defer close(chunks)
		reader := bufio.NewReader(r)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				transcript.Raw(line)
				chunks <- line
			}
			if err != nil {
				if err != io.EOF {
					log.Debug("output relay read failed", "error", err)
				}
				log.Debug("output relay exiting", "reason", err)
				return
			}
		}
	}()

	return chunks
}
