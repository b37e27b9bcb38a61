// Package mail implements the fetching engine: OAuth token brokering,
// the Microsoft Graph client, the IMAP/XOAUTH2 client, and the
// orchestrator that degrades between them.
package mail

import "time"

// Methods reported to callers in fetch results.
const (
	MethodGraph = "graph_api"
	MethodImap  = "imap"
)

// Folder names accepted from callers.
const (
	FolderInbox = "inbox"
	FolderJunk  = "junk"
)

// Message is the unified projection of a mailbox message, identical for
// both transports.
type Message struct {
	ID      string     `json:"id"`
	From    string     `json:"from"`
	Subject string     `json:"subject"`
	Text    string     `json:"text"`
	HTML    string     `json:"html"`
	Date    *time.Time `json:"date"`
}

// Account carries the decrypted credentials the engine needs to reach one
// mailbox. The refresh token only ever exists in memory.
type Account struct {
	ID           int64
	Address      string
	ClientID     string
	RefreshToken string
}
