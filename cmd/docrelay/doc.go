// Command docrelay copies documents from a MongoDB collection to an HTTP
// endpoint, one POST per document, and writes the ones that failed to a JSON
// file for follow-up.
//
// Install:
//
//	go install github.com/nuetzliches/docrelay/cmd/docrelay@latest
//
// Usage:
//
//	docrelay run --mongo-uri mongodb://localhost:27017 --database rd1 --collection 3271 --endpoint http://localhost:8000/booking-box/update-bookings
package main
