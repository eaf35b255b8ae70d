package scan

import (
	"strconv"

	"github.com/google/uuid"
)

// eventKeyNamespace scopes edge event keys; changing it breaks center-side dedupe.
var eventKeyNamespace = uuid.MustParse("6f1c7f4e-2b7e-4d35-9d3a-1f0c0b5e8a21")

// EventKey derives the stable idempotency key of one edge event.
// Params: originID edge node id; id edge-assigned event id.
// Returns: UUIDv5 string, identical for every redelivery of the same event.
func EventKey(originID string, id int64) string {
	return uuid.NewSHA1(eventKeyNamespace, []byte(originID+":"+strconv.FormatInt(id, 10))).String()
}
