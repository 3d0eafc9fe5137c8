package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/trialdata/aactschema/internal/logging"
)

// maxLineBytes bounds one incoming message. The largest legitimate request
// is a resources/read with a long URI, so 1 MiB is generous.
const maxLineBytes = 1 << 20

// ServeStdio reads line-delimited JSON-RPC messages from in and writes one
// response line per non-notification message to out. It returns when in is
// exhausted, the context is canceled, or the reader fails.
func ServeStdio(ctx context.Context, h *Handler, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	enc := json.NewEncoder(out)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp := h.HandleMessage([]byte(line))
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	logging.Debug("stdio session closed")
	return nil
}
