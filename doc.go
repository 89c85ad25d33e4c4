/*
Package docrelay documents the docrelay module.

This module is CLI-first and ships the docrelay command:

	go install github.com/nuetzliches/docrelay/cmd/docrelay@latest

A run reads every document of one MongoDB collection that carries the
required field, strips the document id and POSTs each record as JSON to a
single endpoint, strictly one at a time and in read order, pausing a fixed
delay after each request. Records the endpoint did not accept are written to
failed_documents.json.

Most implementation packages in this repository are internal and are not a
stable public Go API.
*/
package docrelay
