// Package wire implements the binary, length-framed request/response
// encoding used on the duplex stream between the agent and the controller
// (spec.md §4.5, §6). Every variable-length field — a sequence or a byte/
// path string — is a little-endian u64 count or length followed by its
// elements, mirroring the shape the injected agent's Rust counterpart gets
// for free from bincode-derived (de)serialization.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// BreakpointInstruction is the architecture's trap opcode. It is carried as
// a byte slice on the wire so the format stays architecture-neutral even
// though every architecture implemented today uses a single byte.
type BreakpointInstruction []byte

// PHdr describes one loadable code segment within an object, in terms of
// the addresses as they appear in the object file before any load bias is
// applied.
type PHdr struct {
	Vaddr   uint64
	Memsize uint64
}

// ObjectInfo describes one object (executable or shared library) loaded
// into a tracee's address space.
type ObjectInfo struct {
	Pid   uint32
	Path  string
	Bias  uint64 // runtime load bias: actual address - stated Vaddr
	PHdrs []PHdr
}

// SetBreakpointsReq is a batch of absolute addresses to patch. An empty
// batch is the dialog terminator (spec.md §4.5).
type SetBreakpointsReq struct {
	Addrs []uint64
}

// SetBreakpointsResp carries, for each patched address and in the same
// order as the request, the byte(s) that previously occupied it.
type SetBreakpointsResp struct {
	Set []BreakpointSet
}

// BreakpointSet pairs a patched address with the instruction bytes it
// replaced.
type BreakpointSet struct {
	Addr     uint64
	Replaced BreakpointInstruction
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeUint64(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readUint64(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUint64(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// WriteObjectInfos encodes the agent's full object snapshot and flushes the
// writer, per spec.md §4.5's "flushed after every message" rule.
func WriteObjectInfos(w *bufio.Writer, objs []ObjectInfo) error {
	if err := writeUint64(w, uint64(len(objs))); err != nil {
		return err
	}
	for _, o := range objs {
		if err := writeUint64(w, uint64(o.Pid)); err != nil {
			return err
		}
		if err := writeString(w, o.Path); err != nil {
			return err
		}
		if err := writeUint64(w, o.Bias); err != nil {
			return err
		}
		if err := writeUint64(w, uint64(len(o.PHdrs))); err != nil {
			return err
		}
		for _, p := range o.PHdrs {
			if err := writeUint64(w, p.Vaddr); err != nil {
				return err
			}
			if err := writeUint64(w, p.Memsize); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

// ReadObjectInfos decodes a snapshot written by WriteObjectInfos.
func ReadObjectInfos(r io.Reader) ([]ObjectInfo, error) {
	n, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("decode object count: %w", err)
	}
	objs := make([]ObjectInfo, 0, n)
	for i := uint64(0); i < n; i++ {
		var o ObjectInfo
		pid, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("decode pid: %w", err)
		}
		o.Pid = uint32(pid)
		if o.Path, err = readString(r); err != nil {
			return nil, fmt.Errorf("decode path: %w", err)
		}
		if o.Bias, err = readUint64(r); err != nil {
			return nil, fmt.Errorf("decode bias: %w", err)
		}
		np, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("decode phdr count: %w", err)
		}
		if np > 0 {
			o.PHdrs = make([]PHdr, np)
		}
		for j := range o.PHdrs {
			if o.PHdrs[j].Vaddr, err = readUint64(r); err != nil {
				return nil, fmt.Errorf("decode phdr vaddr: %w", err)
			}
			if o.PHdrs[j].Memsize, err = readUint64(r); err != nil {
				return nil, fmt.Errorf("decode phdr memsize: %w", err)
			}
		}
		objs = append(objs, o)
	}
	return objs, nil
}

// WriteSetBreakpointsReq encodes a batch of addresses to patch, sorted
// ascending by the caller, and flushes the writer.
func WriteSetBreakpointsReq(w *bufio.Writer, req SetBreakpointsReq) error {
	if err := writeUint64(w, uint64(len(req.Addrs))); err != nil {
		return err
	}
	for _, a := range req.Addrs {
		if err := writeUint64(w, a); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadSetBreakpointsReq decodes a batch written by WriteSetBreakpointsReq.
func ReadSetBreakpointsReq(r io.Reader) (SetBreakpointsReq, error) {
	n, err := readUint64(r)
	if err != nil {
		return SetBreakpointsReq{}, fmt.Errorf("decode addr count: %w", err)
	}
	addrs := make([]uint64, n)
	for i := range addrs {
		if addrs[i], err = readUint64(r); err != nil {
			return SetBreakpointsReq{}, fmt.Errorf("decode addr: %w", err)
		}
	}
	return SetBreakpointsReq{Addrs: addrs}, nil
}

// WriteSetBreakpointsResp encodes the patch results, in request order, and
// flushes the writer.
func WriteSetBreakpointsResp(w *bufio.Writer, resp SetBreakpointsResp) error {
	if err := writeUint64(w, uint64(len(resp.Set))); err != nil {
		return err
	}
	for _, s := range resp.Set {
		if err := writeUint64(w, s.Addr); err != nil {
			return err
		}
		if err := writeBytes(w, s.Replaced); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadSetBreakpointsResp decodes a response written by
// WriteSetBreakpointsResp.
func ReadSetBreakpointsResp(r io.Reader) (SetBreakpointsResp, error) {
	n, err := readUint64(r)
	if err != nil {
		return SetBreakpointsResp{}, fmt.Errorf("decode set count: %w", err)
	}
	set := make([]BreakpointSet, n)
	for i := range set {
		if set[i].Addr, err = readUint64(r); err != nil {
			return SetBreakpointsResp{}, fmt.Errorf("decode set addr: %w", err)
		}
		b, err := readBytes(r)
		if err != nil {
			return SetBreakpointsResp{}, fmt.Errorf("decode set replaced: %w", err)
		}
		set[i].Replaced = b
	}
	return SetBreakpointsResp{Set: set}, nil
}
