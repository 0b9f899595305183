/*Package notify publishes entity change notifications after successful
mutations.

Notifications are fire-and-forget: delivery problems are logged, they never
fail the request that triggered them.
*/
package notify

import (
	"github.com/goccy/go-json"

	"github.com/pantrybase/pantrybase/core"
	"github.com/pantrybase/pantrybase/core/logger"
)

// Notification is one published entity change.
type Notification struct {
	Entity    string          `json:"entity"`
	Operation core.Operation  `json:"operation"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// LogNotifier writes notifications to the log. Useful default when no broker
// is configured.
type LogNotifier struct{}

// Notify implements core.Notifier.
func (LogNotifier) Notify(entity string, operation core.Operation, payload []byte) {
	logger.Default().WithField("entity", entity).WithField("operation", operation).
		Debugln("notification", string(payload))
}
