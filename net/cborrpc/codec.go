// Package cborrpc carries net/rpc calls over CBOR.
package cborrpc

// Codec layout follows github.com/lzap/cborpc, Copyright (c) 2022 Lukas Zapletal

import (
	"bufio"
	"io"
	"net/rpc"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

// codec holds one CBOR stream in each direction. Header and body are written back to back and flushed together.
type codec struct {
	rwc io.ReadWriteCloser
	dec *cbor.Decoder
	wb  *bufio.Writer
	enc *cbor.Encoder
	rmu sync.Mutex
	wmu sync.Mutex
}

func newCodec(rwc io.ReadWriteCloser) *codec {
	wb := bufio.NewWriter(rwc)
	return &codec{
		rwc: rwc,
		dec: cbor.NewDecoder(rwc),
		wb:  wb,
		enc: encMode.NewEncoder(wb),
	}
}

func (c *codec) read(v any) error {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if v == nil {
		var discard any
		return c.dec.Decode(&discard)
	}
	return c.dec.Decode(v)
}

func (c *codec) write(header any, body any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.enc.Encode(header); err != nil {
		return err
	}
	if err := c.enc.Encode(body); err != nil {
		return err
	}
	return c.wb.Flush()
}

func (c *codec) Close() error {
	return c.rwc.Close()
}

type ServerCodec struct {
	*codec
}

func NewServerCodec(rwc io.ReadWriteCloser) *ServerCodec {
	return &ServerCodec{newCodec(rwc)}
}

func (c *ServerCodec) ReadRequestHeader(request *rpc.Request) error {
	return c.read(request)
}

func (c *ServerCodec) ReadRequestBody(body any) error {
	return c.read(body)
}

func (c *ServerCodec) WriteResponse(response *rpc.Response, payload any) error {
	return c.write(response, payload)
}

type ClientCodec struct {
	*codec
}

func NewClientCodec(rwc io.ReadWriteCloser) *ClientCodec {
	return &ClientCodec{newCodec(rwc)}
}

func (c *ClientCodec) WriteRequest(request *rpc.Request, payload any) error {
	return c.write(request, payload)
}

func (c *ClientCodec) ReadResponseHeader(response *rpc.Response) error {
	return c.read(response)
}

func (c *ClientCodec) ReadResponseBody(body any) error {
	return c.read(body)
}
