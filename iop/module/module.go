// Package module loads relocatable firmware modules onto the i/o processor.
// Module images are copied into companion memory and handed to the remote
// linker service, which relocates them and starts them.
package module

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/clktmr/ps2/iop"
	"github.com/clktmr/ps2/iop/heap"
	"github.com/clktmr/ps2/iop/ioperr"
	"github.com/clktmr/ps2/sif"
)

// rpc procedures of the linker service
const rpcLinkBuffer = 6

// A Module is a firmware module linked and running on the companion
// processor.
type Module struct {
	Info
}

// Linker loads modules from a firmware filesystem and tracks what is already
// linked, including the libraries each module exports.
type Linker struct {
	s        *sif.SIF
	rpc      *sif.Client
	heap     *heap.Heap
	firmware fs.FS

	mu     sync.Mutex
	linked map[string]*Module
}

// NewLinker binds to the companion's linker service.  Module images are read
// from firmware by module name plus an ".irx" extension.
func NewLinker(s *sif.SIF, h *heap.Heap, firmware fs.FS) (*Linker, error) {
	c, err := s.Bind(sif.SIDLoadModule)
	if err != nil {
		return nil, fmt.Errorf("module: %w", err)
	}
	return &Linker{
		s:        s,
		rpc:      c,
		heap:     h,
		firmware: firmware,
		linked:   make(map[string]*Module),
	}, nil
}

// Close releases the connection to the linker service.  Linked modules keep
// running.
func (l *Linker) Close() {
	l.rpc.Unbind()
}

type linkPacket struct {
	Addr     uint32
	ArgSize  uint32
	Filepath [252]byte
	Arg      [252]byte
}

// Request ensures that name is provided at least at version, linking the
// module from the firmware filesystem if it isn't yet.  name may be a module
// name or the name of a library exported by one.  arg is passed to the
// module's entry point on its first start.
func (l *Linker) Request(name string, version uint16, arg string) (*Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m, ok := l.linked[name]; ok {
		if !versionCompatible(m.version(name), version) {
			return nil, fmt.Errorf("module: %s version %x, need %x",
				name, m.version(name), version)
		}
		return m, nil
	}

	data, err := fs.ReadFile(l.firmware, name+".irx")
	if err != nil {
		return nil, fmt.Errorf("module: %w", err)
	}
	info, err := Identify(data)
	if err != nil {
		return nil, err
	}
	if !versionCompatible(info.Version, version) {
		return nil, fmt.Errorf("module: %s version %x, need %x",
			name, info.Version, version)
	}

	m, err := l.link(name, info, data, arg)
	if err != nil {
		return nil, err
	}

	l.linked[info.Name] = m
	l.linked[name] = m
	for _, lib := range info.Libraries {
		l.linked[lib.Name] = m
	}
	return m, nil
}

// link copies the module image into companion memory and calls the remote
// linker on it.
func (l *Linker) link(name string, info *Info, data []byte, arg string) (*Module, error) {
	addr, err := l.heap.Alloc(len(data))
	if err != nil {
		return nil, fmt.Errorf("module: stage %s: %w", name, err)
	}
	defer l.heap.Free(addr)

	mem := l.s.Mem().Slice(uint32(addr), len(data))
	if mem == nil {
		return nil, fmt.Errorf("module: stage %s: address %#x not mapped", name, addr)
	}
	copy(mem, data)
	l.s.Mem().Writeback(mem)

	var pkt linkPacket
	pkt.Addr = iop.BusToPhys(addr)
	if len(arg)+1 > len(pkt.Arg) {
		return nil, fmt.Errorf("module: %s: argument too long", name)
	}
	pkt.ArgSize = uint32(len(arg) + 1)
	copy(pkt.Arg[:], arg)
	if len(name)+1 > len(pkt.Filepath) {
		return nil, fmt.Errorf("module: %s: name too long", name)
	}
	copy(pkt.Filepath[:], name)

	send, err := binary.Append(nil, binary.LittleEndian, &pkt)
	if err != nil {
		return nil, fmt.Errorf("module: encode link request: %w", err)
	}
	// The result carries a status and the entry point's return value.
	// Only the status matters here, even non-resident modules stay
	// registered by the remote linker.
	recv, err := l.rpc.Call(rpcLinkBuffer, send, 8)
	if err != nil {
		return nil, fmt.Errorf("module: link %s: %w", name, err)
	}
	status := int32(binary.LittleEndian.Uint32(recv[0:]))
	if err := ioperr.FromStatus(status); err != nil {
		return nil, fmt.Errorf("module: link %s: %w", name, err)
	}
	return &Module{Info: *info}, nil
}

// version returns the version name resolves to on m, either the module's own
// or an exported library's.
func (m *Module) version(name string) uint16 {
	if strings.EqualFold(name, m.Name) {
		return m.Version
	}
	for _, lib := range m.Libraries {
		if lib.Name == name {
			return lib.Version
		}
	}
	return m.Version
}
