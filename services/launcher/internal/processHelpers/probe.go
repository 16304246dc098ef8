package processHelpers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	helpers "github.com/gofbot/gofbot-launcher/pkg/shared"
)

// ControlServerPath is the websocket endpoint of the bot's embedded server.
const ControlServerPath = "/socket.io/"

// ProbeControlServer checks whether the bot's embedded control server accepts a
// websocket handshake on localhost:port. It says nothing about the bot's
// health beyond that.
func ProbeControlServer(ctx context.Context, port int, timeoutDuration time.Duration) error {
	u := url.URL{
		Scheme:   "ws",
		Host:     "127.0.0.1:" + strconv.Itoa(port),
		Path:     ControlServerPath,
		RawQuery: "EIO=3&transport=websocket",
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeoutDuration}
	ctx, cancel := context.WithTimeout(ctx, timeoutDuration)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		defer helpers.CloseOrLog(resp.Body)
	}
	if err != nil {
		return fmt.Errorf("could not connect to control server at %s: %w", u.Host, err)
	}
	helpers.CloseOrLog(conn)
	return nil
}
