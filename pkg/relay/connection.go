package relay

import (
	"bytes"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"
)

// Connection is a client side websocket with optional permessage-deflate.
type Connection struct {
	Conn           net.Conn
	compress       bool
	controlHandler wsutil.FrameHandlerFunc
	flateReader    *wsflate.Reader
	reader         *wsutil.Reader
	flateWriter    *wsflate.Writer
	writer         *wsutil.Writer
	msgStateR      *wsflate.MessageState
	msgStateW      *wsflate.MessageState
}

// Dial opens a websocket to url, offering compression.
func Dial(c context.Context, url string, header http.Header) (*Connection, error) {
	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(header),
		Extensions: []httphead.Option{
			wsflate.DefaultParameters.Option(),
		},
	}
	conn, _, hs, err := dialer.Dial(c, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	cn := &Connection{
		Conn:      conn,
		msgStateR: new(wsflate.MessageState),
		msgStateW: new(wsflate.MessageState),
	}
	state := ws.StateClientSide
	for _, ext := range hs.Extensions {
		if string(ext.Name) == wsflate.ExtensionName {
			cn.compress = true
			state |= ws.StateExtended
			break
		}
	}
	if cn.compress {
		cn.msgStateR.SetCompressed(true)
		cn.flateReader = wsflate.NewReader(nil, func(r io.Reader) wsflate.Decompressor {
			return flate.NewReader(r)
		})
		cn.msgStateW.SetCompressed(true)
		cn.flateWriter = wsflate.NewWriter(nil, func(w io.Writer) wsflate.Compressor {
			fw, err := flate.NewWriter(w, 4)
			chk.E(err)
			return fw
		})
	}
	cn.controlHandler = wsutil.ControlFrameHandler(conn, ws.StateClientSide)
	cn.reader = &wsutil.Reader{
		Source:         conn,
		State:          state,
		OnIntermediate: cn.controlHandler,
		CheckUTF8:      false,
		Extensions:     []wsutil.RecvExtension{cn.msgStateR},
	}
	cn.writer = wsutil.NewWriter(conn, state, ws.OpText)
	cn.writer.SetExtensions(cn.msgStateW)
	return cn, nil
}

// WriteMessage sends one text frame. Only one goroutine may write.
func (cn *Connection) WriteMessage(data []byte) (err error) {
	if cn.compress && cn.msgStateW.IsCompressed() {
		cn.flateWriter.Reset(cn.writer)
		if _, err = io.Copy(cn.flateWriter, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
		if err = cn.flateWriter.Close(); err != nil {
			return fmt.Errorf("failed to close flate writer: %w", err)
		}
	} else if _, err = io.Copy(cn.writer, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err = cn.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return
}

// WritePing sends a ping control frame.
func (cn *Connection) WritePing() error {
	return wsutil.WriteClientMessage(cn.Conn, ws.OpPing, nil)
}

// ReadMessage reads the next data frame into buf, answering control frames
// on the way. Only one goroutine may read.
func (cn *Connection) ReadMessage(c context.Context, buf io.Writer) (err error) {
	for {
		if err = c.Err(); err != nil {
			return
		}
		var h ws.Header
		if h, err = cn.reader.NextFrame(); err != nil {
			cn.Conn.Close()
			return fmt.Errorf("failed to advance frame: %w", err)
		}
		if h.OpCode.IsControl() {
			if err = cn.controlHandler(h, cn.reader); err != nil {
				return fmt.Errorf("failed to handle control frame: %w", err)
			}
		} else if h.OpCode == ws.OpBinary || h.OpCode == ws.OpText {
			break
		}
		if err = cn.reader.Discard(); err != nil {
			return fmt.Errorf("failed to discard: %w", err)
		}
	}
	if cn.compress && cn.msgStateR.IsCompressed() {
		cn.flateReader.Reset(cn.reader)
		if _, err = io.Copy(buf, cn.flateReader); err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
	} else if _, err = io.Copy(buf, cn.reader); err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}
	return
}

func (cn *Connection) Close() error { return cn.Conn.Close() }
