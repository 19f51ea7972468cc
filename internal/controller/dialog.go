package controller

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sort"

	"go.rustkcov.dev/rustkcov/internal/addrspace"
	"go.rustkcov.dev/rustkcov/internal/wire"
)

// maxBatch bounds the number of addresses in one SetBreakpointsReq, giving
// concrete shape to spec.md §3's "reasonably sized" requirement (SPEC_FULL
// §4.2).
const maxBatch = 4096

// acceptLoop services the rendezvous listener serially — one connection's
// dialog runs to completion before the next Accept, matching spec.md §5's
// "the acceptor thread services the rendezvous endpoint serially". It
// returns when the listener is closed, which is how the controller learns
// the run is over.
func (c *Controller) acceptLoop() error {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if err := c.dialog(conn); err != nil {
			c.log.Printf("dialog: %v", err)
		}
		conn.Close()
	}
}

// dialog runs one full agent rendezvous round: decode the object snapshot,
// resolve debug info and the Filter for every object not already seen for
// this (pid, path), install the resulting breakpoints in the owning
// Process's AddressSpace, and drive the chunked SetBreakpointsReq/Resp
// exchange to completion before sending the terminating empty batch
// (spec.md §4.2 "Per-connection dialog", §4.5).
func (c *Controller) dialog(conn net.Conn) error {
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	objs, err := wire.ReadObjectInfos(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &ProtocolError{Err: err}
	}

	var newAddrs []uint64
	locations := make(map[uint64]addrspace.Location)

	for _, obj := range objs {
		key := seenKey{pid: int(obj.Pid), path: obj.Path}
		if c.seen[key] {
			continue
		}
		c.seen[key] = true

		info, err := c.debugInfoFor(obj.Path, obj.Bias)
		if err != nil {
			c.log.Printf("%v", err)
			continue
		}

		locs, err := info.Locations(c.filter)
		if err != nil {
			c.log.Printf("%v", &DebugInfoError{Path: obj.Path, Err: err})
			continue
		}
		for addr, loc := range locs {
			if _, dup := locations[addr]; dup {
				continue
			}
			locations[addr] = loc
			newAddrs = append(newAddrs, addr)
		}

		c.notePid(int(obj.Pid), obj.PHdrs, obj.Bias)
	}

	sort.Slice(newAddrs, func(i, j int) bool { return newAddrs[i] < newAddrs[j] })

	for start := 0; start < len(newAddrs); start += maxBatch {
		end := start + maxBatch
		if end > len(newAddrs) {
			end = len(newAddrs)
		}
		batch := newAddrs[start:end]

		if err := wire.WriteSetBreakpointsReq(w, wire.SetBreakpointsReq{Addrs: batch}); err != nil {
			return &ProtocolError{Err: err}
		}
		resp, err := wire.ReadSetBreakpointsResp(r)
		if err != nil {
			return &ProtocolError{Err: err}
		}
		c.applyBreakpointResponse(objs, locations, resp)
	}

	// Terminating empty batch (spec.md §8 scenario 6): the agent exits its
	// service loop on receipt and sends no response.
	return wire.WriteSetBreakpointsReq(w, wire.SetBreakpointsReq{})
}

// applyBreakpointResponse records each patched address's replaced byte(s)
// into the owning Process's AddressSpace.
func (c *Controller) applyBreakpointResponse(objs []wire.ObjectInfo, locations map[uint64]addrspace.Location, resp wire.SetBreakpointsResp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, set := range resp.Set {
		loc, ok := locations[set.Addr]
		if !ok {
			continue
		}
		loc.Replaced = append([]byte(nil), set.Replaced...)

		for _, obj := range objs {
			p, ok := c.processes[int(obj.Pid)]
			if !ok || !p.AS.InSegment(set.Addr) {
				continue
			}
			p.AS.AddBreakpoint(set.Addr, loc)
			break
		}
	}
}

// notePid registers obj's segments (bias-adjusted) against the tracked
// Process for pid, creating the Process if this is the first object
// report seen for it (e.g. a forked child whose clone/fork ptrace event
// hasn't yet been processed by the supervisor).
func (c *Controller) notePid(pid int, phdrs []wire.PHdr, bias uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	segs := make([]addrspace.Segment, len(phdrs))
	for i, p := range phdrs {
		segs[i] = addrspace.Segment{Base: p.Vaddr + bias, Len: p.Memsize}
	}

	if p, ok := c.processes[pid]; ok {
		merged := append(append([]addrspace.Segment(nil), p.AS.Segments()...), segs...)
		p.AS = addrspace.New(merged, p.AS.Breakpoints())
		return
	}
	c.processes[pid] = addrspace.NewProcess(pid, segs, nil)
}
