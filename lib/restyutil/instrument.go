package restyutil

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

type InstrumentOutput interface {
	Write(id string, contents string)
}

// InstrumentClient dumps every exchange of client to output, each message
// is named "<prefix>-<n>". A nil output is a no-op.
func InstrumentClient(client *resty.Client, prefix string, output InstrumentOutput) {
	if output == nil {
		return
	}

	var idcounter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := fmt.Sprintf("%s-%d", prefix, atomic.AddUint64(&idcounter, 1))
		output.Write(id, formatHttpMessage(res))
		slog.DebugContext(
			res.Request.Context(), "request succeeded",
			"method", res.Request.Method,
			"url", res.Request.URL,
			"status", res.StatusCode(),
			"message_id", id,
		)
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		slog.DebugContext(
			req.Context(), "request failed",
			"method", req.Method,
			"url", req.URL,
			"err", err,
		)
	})
}
