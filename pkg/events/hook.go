package events

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/srushti98/trpc-openapi/pkg/gateway"
	"github.com/srushti98/trpc-openapi/pkg/rpcerr"
)

const hookLogPrefix = "events:hook"

// Hook adapts a Publisher into the gateway's error observation hook.
// Publish failures are logged and dropped so observation never affects the
// response.
func Hook(publisher Publisher) gateway.ErrorHook {
	return func(args gateway.HookArgs) {
		norm := rpcerr.Normalize(args.Err)

		event := &ErrorEvent{
			Code:      norm.Code,
			Status:    norm.Status,
			Message:   norm.Message,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if args.Req != nil {
			event.RequestID = args.Req.Header.Get("X-Request-Id")
			event.Method = args.Req.Method
			if args.Req.URL != nil {
				event.Path = args.Req.URL.Path
			}
		}
		if args.Proc != nil {
			event.Procedure = args.Proc.ID
			event.Kind = args.Proc.Kind.String()
		}

		if err := publisher.PublishError(args.Ctx, event); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish error event: %v", hookLogPrefix, err))
		}
	}
}
