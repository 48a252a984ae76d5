// Package workflow drives a remote streaming workflow and feeds the motor
// commands it emits into the command dispatcher.
//
// The stream is the line-oriented output of a child process. Marker lines
// "event: Message" and "event: Interrupt" arm the next data line. Message
// payloads that embed a command envelope are dispatched; interrupt payloads
// carry a resume token, and the runner replaces the child process with one
// that resumes the workflow from that checkpoint.
package workflow
