package wsclient

import (
	"crypto/tls"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// runState is the client's internal run loop state, mirroring the reference
// client's CONNECT/RECEIVE/SHUTDOWN task states.
type runState int

const (
	runConnect runState = iota
	runReceive
	runShutdown
)

// Config configures a Client's endpoint and reconnect behavior.
type Config struct {
	URL         string
	Origin      string
	Subprotocol string
	TLSMode     TLSMode
	// KeepAlive seeds the ping/pong intervals; zero uses package defaults.
	KeepAlive time.Duration
	// ReconnectWait bounds the randomized reconnect backoff.
	ReconnectWait time.Duration
	DialTimeout   time.Duration
}

// DefaultConfig returns a Config with the reference client's reconnect and
// dial timeout defaults for the given endpoint.
func DefaultConfig(rawURL string) Config {
	return Config{
		URL:           rawURL,
		ReconnectWait: 10 * time.Second,
		DialTimeout:   5 * time.Second,
	}
}

// Callbacks delivers received application frames and connection lifecycle
// events to the owner.
type Callbacks struct {
	OnBinary       func(data []byte)
	OnText         func(data []byte)
	OnConnected    func()
	OnDisconnected func()
}

// Client is a reconnecting RFC 6455 WebSocket client with a built-in
// ping/pong heartbeat, modeled on the reference implementation's
// CONNECT/RECEIVE/SHUTDOWN worker loop.
type Client struct {
	cfg Config
	uri URI
	cb  Callbacks

	net *netio
	hb  *heartbeat

	mu       sync.Mutex
	state    runState
	linkUp   bool
	failCnt  int
	started  bool

	pingCount uint64
	pongCount uint64

	linkCh chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

// New parses cfg.URL and constructs a Client in its initial (not yet started)
// state. Call Start to begin the connect/receive loop in a goroutine.
func New(cfg Config, cb Callbacks) (*Client, error) {
	u, err := ParseURI(cfg.URL)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		uri:    u,
		cb:     cb,
		net:    &netio{},
		hb:     newHeartbeat(cfg.KeepAlive),
		state:  runConnect,
		linkUp: true,
		linkCh: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start begins the client's run loop. Safe to call once.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	go c.run()
}

// Destroy stops the run loop and releases the socket. Blocks until the loop
// has exited.
func (c *Client) Destroy() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}
	close(c.quit)
	<-c.done
	c.net.close()
	c.hb.stopAll()
}

// NotifyLinkUp tells the client the underlying network path is usable again,
// unblocking a CONNECT state parked on a prior NotifyLinkDown.
func (c *Client) NotifyLinkUp() {
	c.mu.Lock()
	c.linkUp = true
	c.mu.Unlock()
	select {
	case c.linkCh <- struct{}{}:
	default:
	}
}

// NotifyLinkDown tells the client the underlying network path is gone, e.g.
// on Wi-Fi disassociation, forcing a disconnect and parking reconnects until
// NotifyLinkUp.
func (c *Client) NotifyLinkDown() {
	c.mu.Lock()
	c.linkUp = false
	if c.state == runReceive {
		c.state = runShutdown
	}
	c.mu.Unlock()
	// Closing the socket wakes the receive goroutine so the loop leaves
	// RECEIVE promptly.
	c.net.close()
}

// IsConnected reports whether the client currently holds a live, handshaken
// socket.
func (c *Client) IsConnected() bool {
	return c.net.isConnected()
}

// Counters returns the lifetime ping-sent and pong-received counts.
func (c *Client) Counters() (ping, pong uint64) {
	return atomic.LoadUint64(&c.pingCount), atomic.LoadUint64(&c.pongCount)
}

// SendBinary sends data as a single unfragmented binary message.
func (c *Client) SendBinary(data []byte) error {
	return c.net.sendFrame(OpBinary, data, true, true)
}

// SendText sends data as a single unfragmented text message.
func (c *Client) SendText(data []byte) error {
	return c.net.sendFrame(OpText, data, true, true)
}

func (c *Client) getState() runState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s runState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) linkIsUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.linkUp
}

func (c *Client) run() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			c.hb.stopAll()
			c.net.close()
			return
		default:
		}

		switch c.getState() {
		case runConnect:
			c.doConnect()
		case runReceive:
			c.doReceive()
		case runShutdown:
			c.doShutdown()
		}
	}
}

// doConnect dials, optionally wraps in TLS, performs the handshake, and on
// success transitions to RECEIVE. On failure it backs off and stays in
// CONNECT. While the link is marked down it waits for NotifyLinkUp instead of
// dialing at all.
func (c *Client) doConnect() {
	if !c.linkIsUp() {
		select {
		case <-c.linkCh:
		case <-c.quit:
		}
		return
	}

	var conn net.Conn
	conn, err := net.DialTimeout("tcp", c.uri.Addr(), c.cfg.DialTimeout)
	if err == nil && c.uri.TLS {
		tlsConn := tls.Client(conn, c.cfg.TLSMode.resolve(c.uri.Host))
		tlsConn.SetDeadline(time.Now().Add(handshakeConnTimeout))
		if herr := tlsConn.Handshake(); herr != nil {
			err = herr
		} else {
			conn = tlsConn
		}
	}
	if err == nil {
		conn.SetDeadline(time.Now().Add(handshakeRecvTimeout))
		err = performHandshake(conn, c.uri, HandshakeOptions{Origin: c.cfg.Origin, Subprotocol: c.cfg.Subprotocol})
	}
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		c.reconnectBackoff()
		return
	}

	conn.SetDeadline(time.Time{})
	c.net.setConn(conn)
	c.mu.Lock()
	c.failCnt = 0
	c.state = runReceive
	c.mu.Unlock()
	c.hb.startPing()
	if c.cb.OnConnected != nil {
		c.cb.OnConnected()
	}
}

// reconnectBackoff waits sleeptime = 1000 + random(reconnect_wait + fail*1000)
// milliseconds, clamped to reconnect_wait, before retrying CONNECT.
func (c *Client) reconnectBackoff() {
	c.mu.Lock()
	c.failCnt++
	fail := c.failCnt
	c.mu.Unlock()

	wait := c.cfg.ReconnectWait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	span := int(wait/time.Millisecond) + fail*1000
	sleep := time.Duration(1000+rand.Intn(span)) * time.Millisecond
	if sleep > wait {
		sleep = wait
	}

	select {
	case <-time.After(sleep):
	case <-c.quit:
	}
}

// doReceive runs the frame-receive loop for one connection's lifetime,
// multiplexing inbound frames against the ping ticker and pong watchdog. A
// dedicated goroutine performs the blocking read so idle periods don't block
// heartbeat delivery.
func (c *Client) doReceive() {
	frameCh := make(chan Frame, 1)
	errCh := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			f, err := c.net.recvFrame(frameRecvDeadline)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					select {
					case <-stop:
						return
					default:
						continue
					}
				}
				select {
				case errCh <- err:
				case <-stop:
				}
				return
			}
			select {
			case frameCh <- f:
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-c.quit:
			return
		case <-c.hb.pingCh:
			c.onPingTick()
		case <-c.hb.pongCh:
			c.net.close()
			c.setState(runShutdown)
			return
		case f := <-frameCh:
			c.onFrame(f)
		case <-errCh:
			c.setState(runShutdown)
			return
		}
		if c.getState() != runReceive {
			return
		}
	}
}

func (c *Client) onPingTick() {
	if !c.net.isConnected() {
		return
	}
	err := c.net.sendFrame(OpPing, nil, true, true)
	atomic.AddUint64(&c.pingCount, 1)
	if err != nil {
		c.setState(runShutdown)
		return
	}
	if c.hb.pongTimer == nil {
		c.hb.startPong()
	}
}

func (c *Client) onFrame(f Frame) {
	c.hb.stopPong()
	switch f.Opcode {
	case OpPing:
		c.net.sendFrame(OpPong, nil, true, true)
	case OpPong:
		atomic.AddUint64(&c.pongCount, 1)
		c.mu.Lock()
		c.failCnt = 0
		c.mu.Unlock()
	case OpBinary:
		if c.cb.OnBinary != nil {
			c.cb.OnBinary(f.Payload)
		}
	case OpText:
		if c.cb.OnText != nil {
			c.cb.OnText(f.Payload)
		}
	case OpClose:
		c.setState(runShutdown)
	}
}

// doShutdown tears down the socket and heartbeat, notifies the owner, then
// waits before re-entering CONNECT — unless the link is down, in which case
// CONNECT itself parks on NotifyLinkUp.
func (c *Client) doShutdown() {
	c.hb.stopAll()
	c.net.close()
	if c.cb.OnDisconnected != nil {
		c.cb.OnDisconnected()
	}

	select {
	case <-c.quit:
		return
	default:
	}

	if c.linkIsUp() {
		wait := c.cfg.ReconnectWait
		if wait <= 0 {
			wait = 10 * time.Second
		}
		select {
		case <-time.After(wait):
		case <-c.quit:
			return
		}
	}
	c.setState(runConnect)
}
