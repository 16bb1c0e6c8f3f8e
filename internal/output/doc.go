// Package output renders action results in one of four modes (text, json,
// json-max, json-spec) and redacts the access token from every string that
// leaves the process.
package output
