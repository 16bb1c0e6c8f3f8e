// Package send builds and posts outgoing Matrix events: text messages in
// six intents (plain, notice, html, markdown, code, emojized), media
// uploaded through the attachment codec, and raw typed events. It also
// implements the stdin pipe conventions ('-' one-shot, '_' streaming).
package send
