// Package logging writes structured JSON logs to rotating files
// under ~/.alicerag/logs/ and ships the viewer behind the
// alicerag-logs command.
//
// Default runs log to stderr only. The --debug flag adds the file
// sink; MCP mode logs to the file alone, because stdio carries the
// protocol stream and a stray write corrupts it.
package logging
