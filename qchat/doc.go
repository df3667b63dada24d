// Package qchat drives the interactive `q chat` CLI as a request/response
// API. The child program has no machine-readable protocol: it prints
// free-form text, ANSI escape sequences, a shell-style prompt, and
// occasional confirmation prompts, so the package infers structure from the
// raw line stream.
//
// The package is organized into focused modules:
//   - session.go: Session, the public operation set
//   - process.go: child process spawn and shutdown escalation
//   - relay.go: the goroutine that queues raw output chunks
//   - turn.go: the per-turn protocol state machine
//   - sanitize.go: terminal-control stripping and status-noise filtering
//   - patterns.go: prompt, permission, and input-echo recognizers
//   - transcript.go: the diagnostic transcript sink
//   - events.go: the tagged event/decision/state types
//
// # Session
//
// Session is the main type. One Session owns one child process:
//
//	sess, err := qchat.New(cfg)
//	banner, err := sess.Start()
//	events, err := sess.SendAndStream("summarize this repo")
//	for ev := range events {
//	    switch ev.Type {
//	    case qchat.EventText:
//	        fmt.Print(ev.Text)
//	    case qchat.EventPermission:
//	        // show ev.Prompt, collect a decision, then:
//	        sess.AnswerPermission(qchat.DecisionApprove)
//	        // and range over sess.ResumeStreaming()
//	    }
//	}
//	sess.Close()
//
// # Turn protocol
//
// A turn starts when SendAndStream is called and ends when the child's idle
// prompt is detected (confirmed by a brief silence), when prolonged silence
// follows real output, or when the turn deadline elapses. A permission
// prompt suspends the turn instead of ending it; one logical turn may
// suspend and resume any number of times.
//
// # Concurrency
//
// One background goroutine per session performs the blocking pipe reads;
// sanitization, pattern matching, and state transitions all run on the
// goroutine ranging over the event sequence. Fragments are delivered in the
// child's emission order.
package qchat
