package binance

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"book-aggregator/internal/core"
)

const wsResponseTimeout = 10 * time.Second

// depthWS issues a ws-api "depth" request on a shared connection. Requests
// are serialized; a caller whose ctx ends while queued leaves without
// touching the connection. A failed exchange drops the connection so the
// next call redials.
func (c *Client) depthWS(ctx context.Context, symbol string) (depthResponse, error) {
	if err := c.acquireWS(ctx); err != nil {
		return depthResponse{}, err
	}
	defer c.releaseWS()
	if err := ctx.Err(); err != nil {
		return depthResponse{}, err
	}

	if c.wsConn == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsBaseURL, nil)
		if err != nil {
			return depthResponse{}, err
		}
		c.wsConn = conn
		c.logger.Debug().Str("url", c.wsBaseURL).Msg("ws-api connected")
	}
	resp, err := sendWSRequest(ctx, c.wsConn, "depth", map[string]interface{}{
		"symbol": symbol,
		"limit":  c.depth,
	})
	if err != nil {
		// gorilla connections are unusable after an I/O error, including a
		// read cut short by ctx. API errors leave the stream intact.
		if _, isAPI := AsAPIError(err); !isAPI {
			c.dropWSLocked()
		}
		return depthResponse{}, err
	}
	var depth depthResponse
	if err := json.Unmarshal(resp.Result, &depth); err != nil {
		return depthResponse{}, core.MalformedSnapshot(c.name, err, "decode ws depth result")
	}
	return depth, nil
}

func (c *Client) acquireWS(ctx context.Context) error {
	select {
	case c.wsSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) releaseWS() { <-c.wsSem }

func (c *Client) dropWSLocked() {
	if c.wsConn == nil {
		return
	}
	_ = c.wsConn.Close()
	c.wsConn = nil
	c.logger.Debug().Msg("ws-api connection dropped")
}

func sendWSRequest(ctx context.Context, conn *websocket.Conn, method string, params map[string]interface{}) (wsResponse, error) {
	reqID := strconv.FormatInt(time.Now().UnixNano(), 10)
	req := wsRequest{
		ID:     reqID,
		Method: method,
		Params: params,
	}
	deadline := time.Now().Add(wsResponseTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(req); err != nil {
		return wsResponse{}, err
	}
	return waitForWSResponse(ctx, conn, reqID, deadline)
}

func waitForWSResponse(ctx context.Context, conn *websocket.Conn, reqID string, deadline time.Time) (wsResponse, error) {
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	// Unblock the read if the caller gives up before the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return wsResponse{}, ctx.Err()
			}
			return wsResponse{}, err
		}
		var resp wsResponse
		if err := json.Unmarshal(data, &resp); err != nil || resp.ID != reqID {
			continue
		}
		if resp.Status != 200 {
			if resp.Error != nil {
				return resp, APIError{Status: resp.Status, Code: resp.Error.Code, Msg: resp.Error.Msg}
			}
			return resp, HTTPError{Status: resp.Status}
		}
		return resp, nil
	}
}
