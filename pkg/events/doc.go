/*
Package events provides ready-made gate events for flow.EventGate.

Polling events (flow.Frequent) are checked on their own interval:

  - FileModification fires when a file's size or modification time changes.
  - SQLRowCount fires when a query returns at least one row.
  - SQLResultSet fires when the first column of the first row is truthy.

Stream events are resolved when their descriptor becomes readable:

  - StreamRead wraps an already open file or pipe end.
  - PipeRead opens a named pipe without blocking on a missing writer.
  - HTTPRequest receives requests relayed by the httprelay server.

Stream events report health through flow.HealthChecker so they can carry a fail policy.
*/
package events

import "time"

// DefaultFrequency is the polling interval used when none is given.
const DefaultFrequency = time.Second

func frequencyOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultFrequency
	}
	return d
}
