package transport

import (
    "encoding/binary"
    "fmt"
    "io"
    "net"
    "sync"
    "time"

    "github.com/mrwill84/go-paxos/pkg/command"
)

// MaxFrame bounds the body size of a single framed message. Frames above the
// limit are treated as a framing error and drop the connection.
const MaxFrame = 16 << 20

// Conn is a full-duplex stream of framed commands: each message is a 4-byte
// big-endian length followed by exactly that many bytes of serialized command.
// Frame writes are serialized so concurrent writers cannot interleave frames.
type Conn struct {
    wmu sync.Mutex
    nc  net.Conn
}

// New wraps an established network connection.
func New(nc net.Conn) *Conn { return &Conn{nc: nc} }

// Dial opens a framed connection to the given endpoint within timeout.
func Dial(endpoint string, timeout time.Duration) (*Conn, error) {
    nc, err := net.DialTimeout("tcp", endpoint, timeout)
    if err != nil {
        return nil, fmt.Errorf("transport: dial %s: %w", endpoint, err)
    }
    return New(nc), nil
}

// WriteCommand serializes cmd, prefixes the 4-byte length and writes the whole
// frame in a single Write call.
func (c *Conn) WriteCommand(cmd command.Command) error {
    body, err := command.Marshal(cmd)
    if err != nil {
        return err
    }
    if len(body) > MaxFrame {
        return fmt.Errorf("transport: frame of %d bytes exceeds limit", len(body))
    }
    buf := make([]byte, 4+len(body))
    binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
    copy(buf[4:], body)
    c.wmu.Lock()
    defer c.wmu.Unlock()
    if _, err := c.nc.Write(buf); err != nil {
        return fmt.Errorf("transport: write: %w", err)
    }
    return nil
}

// ReadCommand reads one framed command. A positive timeout arms a read
// deadline which is cancelled once the full frame has arrived; zero means
// block indefinitely. Short reads, framing errors and peer closure surface
// as errors and the caller is expected to drop the connection.
func (c *Conn) ReadCommand(timeout time.Duration) (command.Command, error) {
    if timeout > 0 {
        if err := c.nc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
            return command.Command{}, fmt.Errorf("transport: %w", err)
        }
    }
    var hdr [4]byte
    if _, err := io.ReadFull(c.nc, hdr[:]); err != nil {
        return command.Command{}, fmt.Errorf("transport: read length: %w", err)
    }
    size := binary.BigEndian.Uint32(hdr[:])
    if size == 0 || size > MaxFrame {
        return command.Command{}, fmt.Errorf("transport: invalid frame length %d", size)
    }
    body := make([]byte, size)
    if _, err := io.ReadFull(c.nc, body); err != nil {
        return command.Command{}, fmt.Errorf("transport: read body: %w", err)
    }
    if timeout > 0 {
        // Cancel the pending deadline now that the frame is complete.
        _ = c.nc.SetReadDeadline(time.Time{})
    }
    return command.Unmarshal(body)
}

// RemoteAddr reports the remote endpoint of the underlying connection.
func (c *Conn) RemoteAddr() string {
    if c.nc == nil {
        return ""
    }
    return c.nc.RemoteAddr().String()
}

// Close closes the underlying connection. Any blocked read returns with an
// error, which readers treat as peer closure.
func (c *Conn) Close() error {
    return c.nc.Close()
}
