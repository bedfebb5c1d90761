package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/app/session"
	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/chat"
)

// Event names on the realtime channel, shared with the backend gateway.
const (
	eventJoinRoom    = "join-room"
	eventLeaveRoom   = "leave-room"
	eventMessage     = "message"
	eventTyping      = "typing"
	eventMarkRead    = "mark-room-as-read"
	eventRoomUpdate  = "update-room"
	eventPresence    = "user-online-status"
	eventReadReceipt = "read-receipt"
	eventRoomRefresh = "room-updated"
)

// Sink receives inbound realtime events, typically the session manager.
type Sink interface {
	InboundMessage(roomID string, msg chat.Message)
	PartnerTyping(roomID string, userID int64, typing bool)
	Presence(userID int64, online bool)
	ReadReceipt(roomID string, readerID int64, messageID string, at time.Time)
	RoomUpdated(roomID string, info chat.WorkflowInfo)
	Disconnected(err error)
}

// Config holds dial and keepalive settings for the realtime connection.
type Config struct {
	URL         string
	Header      http.Header
	DialTimeout time.Duration
	WriteWait   time.Duration
	PongWait    time.Duration
}

// Client is the gorilla/websocket implementation of the session transport.
// Writes are serialized through a mutex; the read loop runs until the
// connection drops and then notifies the sink exactly once.
type Client struct {
	conn      *websocket.Conn
	writeWait time.Duration
	sink      Sink
	log       *slog.Logger

	writeMu sync.Mutex
	closed  sync.Once
	done    chan struct{}
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type messageData struct {
	RoomID    string    `json:"roomId"`
	ID        string    `json:"id"`
	SenderID  int64     `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	Secure    bool      `json:"secure,omitempty"`
}

type typingData struct {
	RoomID string `json:"roomId"`
	UserID int64  `json:"userId,omitempty"`
	Typing bool   `json:"isTyping"`
}

type readData struct {
	RoomID    string    `json:"roomId"`
	ReaderID  int64     `json:"userId,omitempty"`
	MessageID string    `json:"messageId"`
	ReadAt    time.Time `json:"readAt,omitempty"`
}

type presenceData struct {
	UserID int64 `json:"userId"`
	Online bool  `json:"online"`
}

type roomData struct {
	RoomID             string `json:"roomId"`
	WorkflowID         string `json:"workflowId,omitempty"`
	Status             string `json:"status,omitempty"`
	StatusBeforeCancel string `json:"statusBeforeCancel,omitempty"`
}

// Dial connects to the realtime gateway and starts the read loop.
func Dial(ctx context.Context, cfg Config, sink Sink, log *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("ws: url required")
	}
	if sink == nil {
		return nil, errors.New("ws: sink required")
	}
	if log == nil {
		log = slog.Default()
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 5 * time.Second
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws: dial %s: status %d: %w", cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("ws: dial %s: %w", cfg.URL, err)
	}
	c := &Client{
		conn:      conn,
		writeWait: cfg.WriteWait,
		sink:      sink,
		log:       log.With("component", "ws"),
		done:      make(chan struct{}),
	}
	if c.writeWait <= 0 {
		c.writeWait = 10 * time.Second
	}
	pongWait := cfg.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.readLoop()
	go c.pingLoop(pongWait * 9 / 10)
	return c, nil
}

func (c *Client) Join(ctx context.Context, roomID string) error {
	return c.send(ctx, eventJoinRoom, roomData{RoomID: roomID})
}

func (c *Client) Leave(ctx context.Context, roomID string) error {
	return c.send(ctx, eventLeaveRoom, roomData{RoomID: roomID})
}

func (c *Client) SendMessage(ctx context.Context, roomID string, msg session.OutboundMessage) error {
	return c.send(ctx, eventMessage, messageData{
		RoomID:   roomID,
		ID:       msg.ID,
		SenderID: msg.SenderID,
		Content:  msg.Body,
		Secure:   msg.Secure,
	})
}

func (c *Client) SendTyping(ctx context.Context, roomID string, typing bool) error {
	return c.send(ctx, eventTyping, typingData{RoomID: roomID, Typing: typing})
}

func (c *Client) SendReadReceipt(ctx context.Context, roomID, messageID string) error {
	return c.send(ctx, eventMarkRead, readData{RoomID: roomID, MessageID: messageID, ReadAt: time.Now().UTC()})
}

func (c *Client) SendRoomUpdate(ctx context.Context, roomID string, update session.RoomUpdate) error {
	return c.send(ctx, eventRoomUpdate, roomData{
		RoomID:             roomID,
		WorkflowID:         update.WorkflowID,
		Status:             update.Status,
		StatusBeforeCancel: update.StatusBeforeCancel,
	})
}

// Close tears the connection down; the read loop reports the disconnect.
func (c *Client) Close() error {
	var err error
	c.closed.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) send(ctx context.Context, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("ws: encode %s: %w", event, err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errors.New("ws: connection closed")
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.conn.WriteJSON(frame{Event: event, Data: raw}); err != nil {
		return fmt.Errorf("ws: send %s: %w", event, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
				c.sink.Disconnected(nil)
			default:
				c.sink.Disconnected(err)
			}
			return
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	switch f.Event {
	case eventMessage:
		var data messageData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			c.log.Warn("bad message frame", "error", err)
			return
		}
		c.sink.InboundMessage(data.RoomID, chat.Message{
			ID:        data.ID,
			RoomID:    data.RoomID,
			SenderID:  data.SenderID,
			Content:   data.Content,
			CreatedAt: data.CreatedAt,
			Status:    chat.StatusSent,
		})
	case eventTyping:
		var data typingData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			c.log.Warn("bad typing frame", "error", err)
			return
		}
		c.sink.PartnerTyping(data.RoomID, data.UserID, data.Typing)
	case eventPresence:
		var data presenceData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			c.log.Warn("bad presence frame", "error", err)
			return
		}
		c.sink.Presence(data.UserID, data.Online)
	case eventReadReceipt, eventMarkRead:
		var data readData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			c.log.Warn("bad read frame", "error", err)
			return
		}
		c.sink.ReadReceipt(data.RoomID, data.ReaderID, data.MessageID, data.ReadAt)
	case eventRoomRefresh, eventRoomUpdate:
		var data roomData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			c.log.Warn("bad room frame", "error", err)
			return
		}
		c.sink.RoomUpdated(data.RoomID, chat.WorkflowInfo{
			ID:                 data.WorkflowID,
			Status:             data.Status,
			StatusBeforeCancel: data.StatusBeforeCancel,
		})
	default:
		c.log.Debug("unhandled event", "event", f.Event)
	}
}

func (c *Client) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
